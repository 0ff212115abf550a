// Package webhook implements the webhook receiver (spec component 17): a
// small HTTP server, separate from the main API, that turns an inbound
// webhook into a pending event once its trigger and signature check out.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/engine/ratelimit"
	"github.com/personacore/core/internal/port/clock"
	"github.com/personacore/core/internal/port/store"
)

// signatureHeaders are checked in order; the first non-empty value wins.
var signatureHeaders = []string{"X-Hub-Signature-256", "X-Signature-256", "X-Webhook-Signature"}

const (
	rateLimitMax    = 10
	rateLimitWindow = time.Minute
	maxBodyBytes    = 1 << 20
)

// Receiver serves the webhook HTTP endpoints.
type Receiver struct {
	Store   store.Store
	Limiter *ratelimit.Limiter
	Clock   clock.Clock
	NewID   func() string
	Logger  *slog.Logger
}

// Router builds the chi router this receiver listens on.
func (rv *Receiver) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", rv.handleHealth)
	r.Get("/webhook/{trigger_id}", rv.handleMetadata)
	r.Post("/webhook/{trigger_id}", rv.handleWebhook)
	return r
}

func (rv *Receiver) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rv *Receiver) handleMetadata(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "trigger_id")
	t, cfg, status, err := rv.loadWebhookTrigger(r.Context(), triggerID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trigger_id": t.ID,
		"persona_id": t.PersonaID,
		"type":       t.Type,
		"enabled":    t.Enabled,
		"event_type": eventTypeOf(cfg),
		"requires_signature": cfg.WebhookSecret != "",
	})
}

func (rv *Receiver) handleWebhook(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "trigger_id")
	t, cfg, status, err := rv.loadWebhookTrigger(r.Context(), triggerID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	if rlErr := rv.Limiter.Check(triggerID, rateLimitMax, rateLimitWindow); rlErr != nil {
		var retry *ratelimit.ErrRetryAfter
		seconds := int(rateLimitWindow.Seconds())
		if e, ok := rlErr.(*ratelimit.ErrRetryAfter); ok {
			retry = e
			seconds = int(retry.RetryAfter.Seconds()) + 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if cfg.WebhookSecret != "" {
		if !verifySignature(r, body, cfg.WebhookSecret) {
			writeError(w, http.StatusUnauthorized, "invalid or missing webhook signature")
			return
		}
	}

	payload := bodyToPayload(body)

	now := rv.Clock.Now()
	eventType := eventTypeOf(cfg)
	ev := &event.Event{
		ID:              rv.NewID(),
		EventType:       eventType,
		SourceType:      event.SourceWebhook,
		SourceID:        &t.ID,
		TargetPersonaID: &t.PersonaID,
		Payload:         payload,
		Status:          event.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build event")
		return
	}
	if err := rv.Store.CreateEvent(r.Context(), ev); err != nil {
		rv.Logger.Error("webhook: failed to persist event", "trigger_id", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record webhook event")
		return
	}
	if err := rv.Store.MarkTriggerFired(r.Context(), t.ID, now); err != nil {
		rv.Logger.Warn("webhook: failed to mark trigger fired", "trigger_id", t.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"event_id": ev.ID})
}

// loadWebhookTrigger fetches and validates trigger_id per step 1 of the
// webhook receiver's behavior: 404 missing, 400 wrong type, 403 disabled.
func (rv *Receiver) loadWebhookTrigger(ctx context.Context, triggerID string) (*trigger.Trigger, trigger.WebhookConfig, int, error) {
	t, err := rv.Store.GetTrigger(ctx, triggerID)
	if err != nil {
		if corerr.Is(err, corerr.KindNotFound) {
			return nil, trigger.WebhookConfig{}, http.StatusNotFound, errors.New("trigger not found")
		}
		return nil, trigger.WebhookConfig{}, http.StatusInternalServerError, errors.New("failed to load trigger")
	}
	if t == nil {
		return nil, trigger.WebhookConfig{}, http.StatusNotFound, errors.New("trigger not found")
	}
	if t.Type != trigger.TypeWebhook {
		return nil, trigger.WebhookConfig{}, http.StatusBadRequest, errors.New("trigger is not a webhook trigger")
	}
	if !t.Enabled {
		return nil, trigger.WebhookConfig{}, http.StatusForbidden, errors.New("trigger is disabled")
	}
	var cfg trigger.WebhookConfig
	if err := json.Unmarshal(t.Config, &cfg); err != nil {
		return nil, trigger.WebhookConfig{}, http.StatusInternalServerError, errors.New("trigger config is not valid JSON")
	}
	return t, cfg, http.StatusOK, nil
}

func eventTypeOf(cfg trigger.WebhookConfig) string {
	if cfg.EventType != "" {
		return cfg.EventType
	}
	return "webhook_received"
}

func verifySignature(r *http.Request, body []byte, secret string) bool {
	var sig string
	for _, h := range signatureHeaders {
		if v := r.Header.Get(h); v != "" {
			sig = v
			break
		}
	}
	if sig == "" {
		return false
	}
	sig = strings.TrimPrefix(sig, "sha256=")
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(sigBytes, expected)
}

func bodyToPayload(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	raw, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
