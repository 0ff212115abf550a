package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/persona"
	"github.com/personacore/core/internal/domain/protocol"
	"github.com/personacore/core/internal/port/notifier"
	"github.com/personacore/core/internal/port/store"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time                      { return c.t }
func (c fakeClock) Sleep(time.Duration)                  {}
func (c fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type fakeStore struct {
	store.Store
	userMessages   []*protocol.UserMessage
	personaActions []*protocol.PersonaAction
	agentMemories  []*protocol.AgentMemory
	manualReviews  []*protocol.ManualReview
	events         []*event.Event
}

func (f *fakeStore) CreateUserMessage(ctx context.Context, m *protocol.UserMessage) error {
	f.userMessages = append(f.userMessages, m)
	return nil
}
func (f *fakeStore) CreatePersonaAction(ctx context.Context, a *protocol.PersonaAction) error {
	f.personaActions = append(f.personaActions, a)
	return nil
}
func (f *fakeStore) CreateAgentMemory(ctx context.Context, m *protocol.AgentMemory) error {
	f.agentMemories = append(f.agentMemories, m)
	return nil
}
func (f *fakeStore) CreateManualReview(ctx context.Context, r *protocol.ManualReview) error {
	f.manualReviews = append(f.manualReviews, r)
	return nil
}
func (f *fakeStore) CreateEvent(ctx context.Context, e *event.Event) error {
	f.events = append(f.events, e)
	return nil
}

type fakeNotifier struct {
	sent []notifier.Notification
}

func (n *fakeNotifier) Name() string                      { return "fake" }
func (n *fakeNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }
func (n *fakeNotifier) Send(ctx context.Context, note notifier.Notification) error {
	n.sent = append(n.sent, note)
	return nil
}

func newDispatcher(fs *fakeStore, n notifier.Notifier) *Dispatcher {
	return &Dispatcher{
		Store:    fs,
		Notifier: n,
		Clock:    fakeClock{t: time.Now()},
		NewID:    func() string { return "id" },
	}
}

func testExec() *execution.Execution {
	return &execution.Execution{ID: "e1", PersonaID: "p1"}
}

func TestTryDispatch_PlainTextIsNotDispatched(t *testing.T) {
	fs := &fakeStore{}
	d := newDispatcher(fs, nil)

	dispatched := d.TryDispatch(context.Background(), testExec(), &persona.Persona{}, "just some ordinary assistant text")
	if dispatched {
		t.Fatal("expected plain text to not be dispatched")
	}
}

func TestTryDispatch_UserMessageNotifiesWhenChannelEnabled(t *testing.T) {
	fs := &fakeStore{}
	n := &fakeNotifier{}
	d := newDispatcher(fs, n)

	p := &persona.Persona{NotificationChannels: uint8(persona.NotifyUserMessage)}
	line := `{"protocol":"user_message","title":"heads up","content":"something happened"}`

	if !d.TryDispatch(context.Background(), testExec(), p, line) {
		t.Fatal("expected user_message to be dispatched")
	}
	if len(fs.userMessages) != 1 || fs.userMessages[0].Title != "heads up" {
		t.Fatalf("expected user message persisted, got %+v", fs.userMessages)
	}
	if len(n.sent) != 1 {
		t.Fatalf("expected 1 notification sent, got %d", len(n.sent))
	}
}

func TestTryDispatch_UserMessageSkipsNotificationWhenChannelDisabled(t *testing.T) {
	fs := &fakeStore{}
	n := &fakeNotifier{}
	d := newDispatcher(fs, n)

	p := &persona.Persona{NotificationChannels: 0}
	line := `{"protocol":"user_message","title":"t","content":"c"}`

	d.TryDispatch(context.Background(), testExec(), p, line)
	if len(n.sent) != 0 {
		t.Fatalf("expected no notification, got %d", len(n.sent))
	}
}

func TestTryDispatch_EmitEventCreatesPendingEvent(t *testing.T) {
	fs := &fakeStore{}
	d := newDispatcher(fs, nil)

	line := `{"protocol":"emit_event","event_type":"custom.thing","data":{"x":1}}`
	if !d.TryDispatch(context.Background(), testExec(), &persona.Persona{}, line) {
		t.Fatal("expected emit_event to be dispatched")
	}
	if len(fs.events) != 1 {
		t.Fatalf("expected 1 event created, got %d", len(fs.events))
	}
	ev := fs.events[0]
	if ev.EventType != "custom.thing" || ev.Status != event.StatusPending || ev.SourceType != event.SourcePersona {
		t.Fatalf("unexpected event shape: %+v", ev)
	}
}

func TestTryDispatch_ManualReviewNotifiesAndPersists(t *testing.T) {
	fs := &fakeStore{}
	n := &fakeNotifier{}
	d := newDispatcher(fs, n)

	p := &persona.Persona{NotificationChannels: uint8(persona.NotifyManualReview)}
	line := `{"protocol":"manual_review","title":"review me","description":"d","severity":"high"}`

	d.TryDispatch(context.Background(), testExec(), p, line)
	if len(fs.manualReviews) != 1 {
		t.Fatalf("expected manual review persisted, got %+v", fs.manualReviews)
	}
	if len(n.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.sent))
	}
}

func TestTryDispatch_AgentMemoryAndPersonaActionPersist(t *testing.T) {
	fs := &fakeStore{}
	d := newDispatcher(fs, nil)

	d.TryDispatch(context.Background(), testExec(), &persona.Persona{}, `{"protocol":"agent_memory","title":"note","content":"remember this"}`)
	if len(fs.agentMemories) != 1 {
		t.Fatalf("expected agent memory persisted, got %+v", fs.agentMemories)
	}

	d.TryDispatch(context.Background(), testExec(), &persona.Persona{}, `{"protocol":"persona_action","target":"p2","action":"kickoff"}`)
	if len(fs.personaActions) != 1 || fs.personaActions[0].Target != "p2" {
		t.Fatalf("expected persona action persisted, got %+v", fs.personaActions)
	}
}

func TestExecutionFlow_AccumulatesAndFlushes(t *testing.T) {
	fs := &fakeStore{}
	d := newDispatcher(fs, nil)
	exec := testExec()

	d.TryDispatch(context.Background(), exec, &persona.Persona{}, `{"protocol":"execution_flow","step":"started"}`)
	d.TryDispatch(context.Background(), exec, &persona.Persona{}, `{"protocol":"execution_flow","step":"finished"}`)

	blob := d.FlushExecutionFlow(exec.ID)
	var steps []protocol.FlowStep
	if err := json.Unmarshal(blob, &steps); err != nil {
		t.Fatalf("expected valid JSON blob, got error: %v", err)
	}
	if len(steps) != 2 || steps[0].Step != "started" || steps[1].Step != "finished" {
		t.Fatalf("unexpected accumulated steps: %+v", steps)
	}

	if blob2 := d.FlushExecutionFlow(exec.ID); blob2 != nil {
		t.Fatalf("expected second flush to be empty, got %s", blob2)
	}
}
