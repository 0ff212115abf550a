package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/persona"
	"github.com/personacore/core/internal/domain/subscription"
	"github.com/personacore/core/internal/engine/concurrency"
	"github.com/personacore/core/internal/port/store"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time                      { return c.t }
func (c fakeClock) Sleep(time.Duration)                  {}
func (c fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type fakeLauncher struct{ launched []*execution.Execution }

func (f *fakeLauncher) Launch(ctx context.Context, e *execution.Execution) {
	f.launched = append(f.launched, e)
}

type fakeStore struct {
	store.Store
	pending       []*event.Event
	subs          map[string][]*subscription.Subscription
	personas      map[string]*persona.Persona
	updatedEvents []*event.Event
	createdExecs  []*execution.Execution
	monthlySpend  float64
}

func (f *fakeStore) ListPendingEvents(ctx context.Context, limit int) ([]*event.Event, error) {
	return f.pending, nil
}
func (f *fakeStore) UpdateEvent(ctx context.Context, e *event.Event) error {
	f.updatedEvents = append(f.updatedEvents, e)
	return nil
}
func (f *fakeStore) ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	return f.subs[eventType], nil
}
func (f *fakeStore) GetPersona(ctx context.Context, id string) (*persona.Persona, error) {
	return f.personas[id], nil
}
func (f *fakeStore) CreateExecution(ctx context.Context, e *execution.Execution) error {
	f.createdExecs = append(f.createdExecs, e)
	return nil
}
func (f *fakeStore) UpdateExecution(ctx context.Context, e *execution.Execution) error { return nil }
func (f *fakeStore) MonthlySpend(ctx context.Context, personaID string, now time.Time) (float64, error) {
	return f.monthlySpend, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTick_DeliveredWhenAllMatchesAdmit(t *testing.T) {
	p := &persona.Persona{ID: "p1", Name: "n", ModelProfile: persona.ModelProfile{Provider: "claude", Model: "m"}, MaxConcurrent: 5}
	sub := &subscription.Subscription{ID: "s1", PersonaID: "p1", EventType: "my_event", Enabled: true}
	ev := &event.Event{ID: "e1", EventType: "my_event", SourceType: event.SourceTrigger, Status: event.StatusPending}

	fs := &fakeStore{
		pending:  []*event.Event{ev},
		subs:     map[string][]*subscription.Subscription{"my_event": {sub}},
		personas: map[string]*persona.Persona{"p1": p},
	}
	launcher := &fakeLauncher{}
	bus := &Bus{
		Store: fs, Tracker: concurrency.New(), Launcher: launcher,
		Clock: fakeClock{t: time.Now()}, NewID: func() string { return "exec1" }, Logger: testLogger(),
	}

	if err := bus.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(launcher.launched) != 1 {
		t.Fatalf("expected 1 execution launched, got %d", len(launcher.launched))
	}
	if len(fs.createdExecs) != 1 {
		t.Fatalf("expected 1 execution created, got %d", len(fs.createdExecs))
	}
	last := fs.updatedEvents[len(fs.updatedEvents)-1]
	if last.Status != event.StatusDelivered {
		t.Errorf("expected delivered, got %s", last.Status)
	}
}

func TestTick_SkippedWhenNoMatches(t *testing.T) {
	ev := &event.Event{ID: "e1", EventType: "unmatched", SourceType: event.SourceTrigger, Status: event.StatusPending}
	fs := &fakeStore{pending: []*event.Event{ev}, subs: map[string][]*subscription.Subscription{}}
	bus := &Bus{
		Store: fs, Tracker: concurrency.New(), Launcher: &fakeLauncher{},
		Clock: fakeClock{t: time.Now()}, NewID: func() string { return "exec1" }, Logger: testLogger(),
	}

	if err := bus.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	last := fs.updatedEvents[len(fs.updatedEvents)-1]
	if last.Status != event.StatusSkipped {
		t.Errorf("expected skipped, got %s", last.Status)
	}
}

func TestTick_PartialWhenCapacityExhausted(t *testing.T) {
	p := &persona.Persona{ID: "p1", Name: "n", ModelProfile: persona.ModelProfile{Provider: "claude", Model: "m"}, MaxConcurrent: 1}
	sub := &subscription.Subscription{ID: "s1", PersonaID: "p1", EventType: "my_event", Enabled: true}
	ev := &event.Event{ID: "e1", EventType: "my_event", SourceType: event.SourceTrigger, Status: event.StatusPending}

	fs := &fakeStore{
		pending:  []*event.Event{ev},
		subs:     map[string][]*subscription.Subscription{"my_event": {sub}},
		personas: map[string]*persona.Persona{"p1": p},
	}
	tracker := concurrency.New()
	tracker.AddRunning("p1", "already-running") // fill the single slot

	bus := &Bus{
		Store: fs, Tracker: tracker, Launcher: &fakeLauncher{},
		Clock: fakeClock{t: time.Now()}, NewID: func() string { return "exec1" }, Logger: testLogger(),
	}

	if err := bus.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	last := fs.updatedEvents[len(fs.updatedEvents)-1]
	if last.Status != event.StatusPartial {
		t.Errorf("expected partial when admission fails, got %s", last.Status)
	}
}

func TestTick_OverBudgetPersonaSkipsDispatch(t *testing.T) {
	budget := 10.0
	p := &persona.Persona{ID: "p1", Name: "n", ModelProfile: persona.ModelProfile{Provider: "claude", Model: "m"}, MaxConcurrent: 5, MaxBudgetUSD: &budget}
	sub := &subscription.Subscription{ID: "s1", PersonaID: "p1", EventType: "my_event", Enabled: true}
	ev := &event.Event{ID: "e1", EventType: "my_event", SourceType: event.SourceTrigger, Status: event.StatusPending}

	fs := &fakeStore{
		pending:      []*event.Event{ev},
		subs:         map[string][]*subscription.Subscription{"my_event": {sub}},
		personas:     map[string]*persona.Persona{"p1": p},
		monthlySpend: 10.0,
	}
	launcher := &fakeLauncher{}
	bus := &Bus{
		Store: fs, Tracker: concurrency.New(), Launcher: launcher,
		Clock: fakeClock{t: time.Now()}, NewID: func() string { return "exec1" }, Logger: testLogger(),
	}

	if err := bus.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(launcher.launched) != 0 {
		t.Fatalf("expected no execution launched once monthly spend reaches max_budget_usd, got %d", len(launcher.launched))
	}
	last := fs.updatedEvents[len(fs.updatedEvents)-1]
	if last.Status != event.StatusPartial {
		t.Errorf("expected partial when the only match is over budget, got %s", last.Status)
	}
}

func TestTick_TargetPersonaRestrictsMatches(t *testing.T) {
	p1 := &persona.Persona{ID: "p1", Name: "n", ModelProfile: persona.ModelProfile{Provider: "claude", Model: "m"}}
	other := "p2"
	ev := &event.Event{ID: "e1", EventType: "my_event", SourceType: event.SourceTrigger, Status: event.StatusPending, TargetPersonaID: &other}
	sub := &subscription.Subscription{ID: "s1", PersonaID: "p1", EventType: "my_event", Enabled: true}

	fs := &fakeStore{
		pending:  []*event.Event{ev},
		subs:     map[string][]*subscription.Subscription{"my_event": {sub}},
		personas: map[string]*persona.Persona{"p1": p1},
	}
	bus := &Bus{
		Store: fs, Tracker: concurrency.New(), Launcher: &fakeLauncher{},
		Clock: fakeClock{t: time.Now()}, NewID: func() string { return "exec1" }, Logger: testLogger(),
	}

	if err := bus.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fs.createdExecs) != 0 {
		t.Errorf("expected no dispatch for a persona not targeted by the event")
	}
}
