// Package polling implements the polling engine (§4.6-style content-hash
// triggers): GET a URL, hash the body, and publish a change event only
// when the hash differs from the last observed one, using a compare-and-
// swap write so overlapping ticks never double-publish.
package polling

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/port/clock"
	"github.com/personacore/core/internal/port/httpclient"
	"github.com/personacore/core/internal/port/store"
)

const (
	minBackoff = 30 * time.Second
	maxBackoff = 300 * time.Second

	bodyPreviewLimit = 2000
)

// Engine ticks over due polling triggers.
type Engine struct {
	Store  store.Store
	HTTP   httpclient.Client
	Clock  clock.Clock
	NewID  func() string
	Logger *slog.Logger

	mu      sync.Mutex
	backoff map[string]backoffState // trigger_id -> state
}

type backoffState struct {
	cooldownUntil time.Time
	delay         time.Duration
}

// maxConcurrentPolls bounds how many HTTP GETs a single tick issues at
// once, so a large batch of due triggers never opens an unbounded number
// of outbound connections in parallel.
const maxConcurrentPolls = 8

// Tick fetches due polling triggers and polls each independently and
// concurrently; one trigger's failure never blocks another's progress.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.Clock.Now()

	due, err := e.Store.GetDueTriggers(ctx, trigger.TypePolling, now)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)

	for _, t := range due {
		t := t
		if e.inCooldown(t.ID, now) {
			continue
		}
		g.Go(func() error {
			e.poll(gctx, t, now)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) inCooldown(triggerID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backoff == nil {
		return false
	}
	st, ok := e.backoff[triggerID]
	return ok && now.Before(st.cooldownUntil)
}

func (e *Engine) clearBackoff(triggerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.backoff, triggerID)
}

// recordFailure doubles the trigger's backoff delay (clamped to
// [minBackoff, maxBackoff]) and starts its cooldown from now.
func (e *Engine) recordFailure(triggerID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backoff == nil {
		e.backoff = make(map[string]backoffState)
	}
	st := e.backoff[triggerID]
	delay := st.delay * 2
	if delay < minBackoff {
		delay = minBackoff
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	e.backoff[triggerID] = backoffState{cooldownUntil: now.Add(delay), delay: delay}
}

func (e *Engine) poll(ctx context.Context, t *trigger.Trigger, now time.Time) {
	var cfg trigger.PollingConfig
	if err := json.Unmarshal(t.Config, &cfg); err != nil {
		e.Logger.Warn("polling: invalid config, skipping", "trigger_id", t.ID, "error", err)
		return
	}
	if cfg.URL == "" {
		e.advance(ctx, t, &cfg, now)
		return
	}

	resp, err := e.HTTP.Get(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		e.Logger.Warn("polling: request failed, backing off", "trigger_id", t.ID, "error", err)
		e.recordFailure(t.ID, now)
		e.advance(ctx, t, &cfg, now)
		return
	}

	sum := sha256.Sum256(resp.Body)
	hash := hex.EncodeToString(sum[:])
	next := e.nextFireTime(&cfg, now)

	if hash == cfg.ContentHash {
		e.clearBackoff(t.ID)
		if err := e.Store.MarkTriggered(ctx, t.ID, now, next); err != nil && !errors.Is(err, store.ErrRowMissing) {
			e.Logger.Error("polling: failed to mark triggered", "trigger_id", t.ID, "error", err)
		}
		return
	}

	result, err := e.Store.MarkTriggeredWithHash(ctx, t.ID, hash, cfg.ContentHash, now, next)
	if err != nil {
		if errors.Is(err, store.ErrRowMissing) {
			return
		}
		e.Logger.Error("polling: failed to CAS content hash", "trigger_id", t.ID, "error", err)
		return
	}
	e.clearBackoff(t.ID)
	if result != store.Applied {
		// Another tick already advanced the hash; suppress the duplicate.
		return
	}

	e.publishChange(ctx, t, &cfg, resp, hash, now)
}

func (e *Engine) publishChange(ctx context.Context, t *trigger.Trigger, cfg *trigger.PollingConfig, resp *httpclient.Response, hash string, now time.Time) {
	preview := resp.Body
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}

	payload, err := json.Marshal(map[string]interface{}{
		"url":             cfg.URL,
		"status_code":     resp.StatusCode,
		"content_changed": true,
		"content_hash":    hash,
		"body_preview":    string(preview),
	})
	if err != nil {
		e.Logger.Error("polling: failed to marshal payload", "trigger_id", t.ID, "error", err)
		return
	}

	eventType := cfg.EventType
	if eventType == "" {
		eventType = "polling_changed"
	}

	triggerID := t.ID
	targetPersonaID := t.PersonaID
	ev := &event.Event{
		ID:              e.NewID(),
		EventType:       eventType,
		SourceType:      event.SourcePolling,
		SourceID:        &triggerID,
		TargetPersonaID: &targetPersonaID,
		Payload:         payload,
		Status:          event.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Store.CreateEvent(ctx, ev); err != nil {
		e.Logger.Error("polling: failed to create event", "trigger_id", t.ID, "error", err)
	}
}

// advance calls MarkTriggered with no content-hash change, used when url is
// empty or the request failed.
func (e *Engine) advance(ctx context.Context, t *trigger.Trigger, cfg *trigger.PollingConfig, now time.Time) {
	next := e.nextFireTime(cfg, now)
	if err := e.Store.MarkTriggered(ctx, t.ID, now, next); err != nil && !errors.Is(err, store.ErrRowMissing) {
		e.Logger.Error("polling: failed to advance schedule", "trigger_id", t.ID, "error", err)
	}
}

func (e *Engine) nextFireTime(cfg *trigger.PollingConfig, now time.Time) *time.Time {
	next := now.Add(time.Duration(cfg.IntervalSeconds) * time.Second)
	return &next
}
