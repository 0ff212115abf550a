// Package triggersched implements the trigger scheduler (schedule-type
// triggers only; polling triggers are driven by internal/engine/polling).
package triggersched

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/personacore/core/internal/cron"
	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/port/clock"
	"github.com/personacore/core/internal/port/store"
)

const defaultEventType = "trigger_fired"

// Scheduler ticks over due schedule-type triggers: publish, advance.
type Scheduler struct {
	Store  store.Store
	Clock  clock.Clock
	NewID  func() string
	Logger *slog.Logger
}

// Tick fetches triggers due at or before now, publishes an event for each,
// and advances their schedule.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.Clock.Now()

	due, err := s.Store.GetDueTriggers(ctx, trigger.TypeSchedule, now)
	if err != nil {
		return err
	}

	for _, t := range due {
		s.fire(ctx, t, now)
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, t *trigger.Trigger, now time.Time) {
	var cfg trigger.ScheduleConfig
	if err := json.Unmarshal(t.Config, &cfg); err != nil {
		s.Logger.Warn("triggersched: invalid schedule config, skipping", "trigger_id", t.ID, "error", err)
		return
	}

	eventType := cfg.EventType
	if eventType == "" {
		eventType = defaultEventType
	}

	payload, err := json.Marshal(map[string]interface{}{
		"trigger_id": t.ID,
		"config":     json.RawMessage(t.Config),
	})
	if err != nil {
		s.Logger.Error("triggersched: failed to marshal payload", "trigger_id", t.ID, "error", err)
		return
	}

	triggerID := t.ID
	targetPersonaID := t.PersonaID
	ev := &event.Event{
		ID:              s.NewID(),
		EventType:       eventType,
		SourceType:      event.SourceTrigger,
		SourceID:        &triggerID,
		TargetPersonaID: &targetPersonaID,
		Payload:         payload,
		Status:          event.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.CreateEvent(ctx, ev); err != nil {
		s.Logger.Error("triggersched: failed to create event", "trigger_id", t.ID, "error", err)
		return
	}

	next := NextFireTime(t, &cfg, now)

	if err := s.Store.MarkTriggered(ctx, t.ID, now, next); err != nil {
		if errors.Is(err, store.ErrRowMissing) {
			s.Logger.Info("triggersched: trigger deleted before mark_triggered, skipping", "trigger_id", t.ID)
			return
		}
		s.Logger.Error("triggersched: failed to mark triggered", "trigger_id", t.ID, "error", err)
	}
}

// NextFireTime computes the next fire time for a schedule-type trigger:
// the next cron match strictly after now, or nil if the cron never
// matches within the parser's lookahead budget.
func NextFireTime(t *trigger.Trigger, cfg *trigger.ScheduleConfig, now time.Time) *time.Time {
	expr, err := cron.Parse(cfg.Cron)
	if err != nil {
		return nil
	}
	next, ok := expr.Next(now)
	if !ok {
		return nil
	}
	return &next
}
