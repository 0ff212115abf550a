// Package eventbus implements the event bus subscription: each tick it
// matches up to 50 pending events against subscriptions and hands off
// admitted executions to the execution engine.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/subscription"
	"github.com/personacore/core/internal/engine/concurrency"
	"github.com/personacore/core/internal/port/clock"
	portbus "github.com/personacore/core/internal/port/eventbus"
	"github.com/personacore/core/internal/port/store"
)

const batchSize = 50

// Launcher is the execution engine's handoff port: once an execution row
// is queued and admitted, Launch takes over running it. Launch must not
// block the caller beyond kicking off the run.
type Launcher interface {
	Launch(ctx context.Context, e *execution.Execution)
}

// Bus is the event bus subscription.
type Bus struct {
	Store      store.Store
	Tracker    *concurrency.Tracker
	Launcher   Launcher
	Clock      clock.Clock
	NewID      func() string
	Logger     *slog.Logger
	Publisher  portbus.Publisher // optional, lossy UI mirror
}

// Tick matches and dispatches one batch of pending events.
func (b *Bus) Tick(ctx context.Context) error {
	now := b.Clock.Now()

	pending, err := b.Store.ListPendingEvents(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, ev := range pending {
		b.process(ctx, ev, now)
	}
	return nil
}

func (b *Bus) process(ctx context.Context, ev *event.Event, now time.Time) {
	if err := ev.TransitionTo(event.StatusProcessing); err != nil {
		b.Logger.Warn("eventbus: cannot move event to processing, skipping", "event_id", ev.ID, "error", err)
		return
	}
	ev.UpdatedAt = now
	if err := b.Store.UpdateEvent(ctx, ev); err != nil {
		b.Logger.Error("eventbus: failed to mark event processing", "event_id", ev.ID, "error", err)
		return
	}

	subs, err := b.Store.ListSubscriptionsByEventType(ctx, ev.EventType)
	if err != nil {
		b.Logger.Error("eventbus: failed to list subscriptions", "event_id", ev.ID, "error", err)
		return
	}

	matches := b.matchingSubscriptions(ev, subs)

	var dispatched, failed int
	for _, sub := range matches {
		if b.dispatch(ctx, ev, sub, now) {
			dispatched++
		} else {
			failed++
		}
	}

	final := finalStatus(len(matches), dispatched, failed)
	if err := ev.TransitionTo(final); err != nil {
		b.Logger.Error("eventbus: failed to finalize event status", "event_id", ev.ID, "error", err)
		return
	}
	ev.UpdatedAt = b.Clock.Now()
	if err := b.Store.UpdateEvent(ctx, ev); err != nil {
		b.Logger.Error("eventbus: failed to persist final event status", "event_id", ev.ID, "error", err)
	}

	if b.Publisher != nil {
		if body, err := json.Marshal(ev); err == nil {
			if err := b.Publisher.Publish(ctx, "event."+ev.EventType, body); err != nil {
				b.Logger.Debug("eventbus: UI publish dropped", "event_id", ev.ID, "error", err)
			}
		}
	}
}

func (b *Bus) matchingSubscriptions(ev *event.Event, subs []*subscription.Subscription) []*subscription.Subscription {
	out := make([]*subscription.Subscription, 0, len(subs))
	for _, sub := range subs {
		if !sub.Enabled {
			continue
		}
		if ev.TargetPersonaID != nil && sub.PersonaID != *ev.TargetPersonaID {
			continue
		}
		if !sub.MatchesSource(ev.SourceID) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// dispatch admits one subscription match into a running execution. It
// returns false if admission or persistence failed, which counts the
// event delivery as partial rather than failing the whole tick.
func (b *Bus) dispatch(ctx context.Context, ev *event.Event, sub *subscription.Subscription, now time.Time) bool {
	p, err := b.Store.GetPersona(ctx, sub.PersonaID)
	if err != nil {
		b.Logger.Warn("eventbus: persona lookup failed, skipping match", "persona_id", sub.PersonaID, "error", err)
		return false
	}

	if p.MaxBudgetUSD != nil {
		spent, err := b.Store.MonthlySpend(ctx, p.ID, now)
		if err != nil {
			b.Logger.Warn("eventbus: monthly spend lookup failed, skipping match", "persona_id", p.ID, "error", err)
			return false
		}
		if spent >= *p.MaxBudgetUSD {
			b.Logger.Info("eventbus: persona over monthly budget, skipping match", "persona_id", p.ID, "spent", spent, "max", *p.MaxBudgetUSD)
			return false
		}
	}

	execID := b.NewID()
	if !b.Tracker.TryAddRunning(p.ID, execID, p.MaxConcurrent) {
		b.Logger.Info("eventbus: no capacity, skipping match", "persona_id", p.ID)
		return false
	}

	var triggerID *string
	if ev.SourceType == event.SourceTrigger && ev.SourceID != nil {
		triggerID = ev.SourceID
	}

	exec := &execution.Execution{
		ID:        execID,
		PersonaID: p.ID,
		TriggerID: triggerID,
		Status:    execution.StatusQueued,
		Input:     ev.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := exec.Validate(); err != nil {
		b.Tracker.RemoveRunning(p.ID, execID)
		b.Logger.Error("eventbus: built an invalid execution, releasing slot", "error", err)
		return false
	}
	if err := b.Store.CreateExecution(ctx, exec); err != nil {
		b.Tracker.RemoveRunning(p.ID, execID)
		b.Logger.Error("eventbus: failed to persist queued execution, releasing slot", "error", err)
		return false
	}

	if err := exec.TransitionTo(execution.StatusRunning, now); err != nil {
		b.Tracker.RemoveRunning(p.ID, execID)
		b.Logger.Error("eventbus: failed to transition execution to running, releasing slot", "error", err)
		return false
	}
	if err := b.Store.UpdateExecution(ctx, exec); err != nil {
		b.Tracker.RemoveRunning(p.ID, execID)
		b.Logger.Error("eventbus: failed to persist running execution, releasing slot", "error", err)
		return false
	}

	b.Launcher.Launch(ctx, exec)
	return true
}

// finalStatus implements: delivered if every match was dispatched,
// skipped if there were no matches, partial otherwise (including the
// case where every match failed admission -- the event was still acted
// on, just unsuccessfully, so it is not "skipped").
func finalStatus(matched, dispatched, failed int) event.Status {
	switch {
	case matched == 0:
		return event.StatusSkipped
	case failed == 0:
		return event.StatusDelivered
	default:
		return event.StatusPartial
	}
}
