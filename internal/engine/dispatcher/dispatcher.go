// Package dispatcher implements the protocol dispatcher: it recognizes
// the machine-parseable protocol messages an agent embeds in its
// assistant text, routes each to its persistence repo, and triggers OS
// notifications for the two message kinds that need a human's attention.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/persona"
	"github.com/personacore/core/internal/domain/protocol"
	"github.com/personacore/core/internal/port/clock"
	"github.com/personacore/core/internal/port/notifier"
	"github.com/personacore/core/internal/port/store"
)

// envelope is the wire shape: a JSON object whose "protocol" field names
// the variant; the rest of the object is the variant's own fields.
type envelope struct {
	Protocol protocol.Kind `json:"protocol"`
}

// Dispatcher routes decoded protocol messages and accumulates
// execution-flow steps in memory until the owning execution completes.
type Dispatcher struct {
	Store    store.Store
	Notifier notifier.Notifier // nil is valid: notifications become a no-op
	Clock    clock.Clock
	NewID    func() string
	Logger   *slog.Logger

	mu    sync.Mutex
	flows map[string][]protocol.FlowStep
}

// TryDispatch inspects one assistant display line for an embedded
// protocol envelope. It returns false (and does nothing) when the line
// is not a recognized protocol message -- ordinary display text is the
// common case and must never be treated as an error.
func (d *Dispatcher) TryDispatch(ctx context.Context, exec *execution.Execution, p *persona.Persona, line string) bool {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil || env.Protocol == "" {
		return false
	}

	raw := []byte(line)
	var err error
	switch env.Protocol {
	case protocol.KindUserMessage:
		err = d.handleUserMessage(ctx, exec, p, raw)
	case protocol.KindPersonaAction:
		err = d.handlePersonaAction(ctx, exec, p, raw)
	case protocol.KindEmitEvent:
		err = d.handleEmitEvent(ctx, exec, raw)
	case protocol.KindAgentMemory:
		err = d.handleAgentMemory(ctx, exec, p, raw)
	case protocol.KindManualReview:
		err = d.handleManualReview(ctx, exec, p, raw)
	case protocol.KindExecutionFlow:
		err = d.handleExecutionFlow(exec, raw)
	default:
		return false
	}

	if err != nil && d.Logger != nil {
		d.Logger.Error("dispatcher: failed to route protocol message", "kind", env.Protocol, "execution_id", exec.ID, "error", err)
	}
	return true
}

func (d *Dispatcher) handleUserMessage(ctx context.Context, exec *execution.Execution, p *persona.Persona, raw []byte) error {
	var m protocol.UserMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	m.ID = d.NewID()
	m.ExecutionID = exec.ID
	m.PersonaID = exec.PersonaID
	m.CreatedAt = d.Clock.Now()

	if err := d.Store.CreateUserMessage(ctx, &m); err != nil {
		return err
	}
	if persona.NotifyUserMessage.Has(p.NotificationChannels) {
		d.notify(ctx, m.Title, m.Content)
	}
	return nil
}

func (d *Dispatcher) handlePersonaAction(ctx context.Context, exec *execution.Execution, p *persona.Persona, raw []byte) error {
	var a protocol.PersonaAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	a.ID = d.NewID()
	a.ExecutionID = exec.ID
	a.PersonaID = exec.PersonaID
	a.CreatedAt = d.Clock.Now()
	return d.Store.CreatePersonaAction(ctx, &a)
}

func (d *Dispatcher) handleEmitEvent(ctx context.Context, exec *execution.Execution, raw []byte) error {
	var m protocol.EmitEvent
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if m.EventType == "" {
		return nil
	}

	payload := m.Data
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	sourceID := exec.PersonaID
	now := d.Clock.Now()
	ev := &event.Event{
		ID:         d.NewID(),
		EventType:  m.EventType,
		SourceType: event.SourcePersona,
		SourceID:   &sourceID,
		Payload:    payload,
		Status:     event.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return d.Store.CreateEvent(ctx, ev)
}

func (d *Dispatcher) handleAgentMemory(ctx context.Context, exec *execution.Execution, p *persona.Persona, raw []byte) error {
	var m protocol.AgentMemory
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	m.ID = d.NewID()
	m.ExecutionID = exec.ID
	m.PersonaID = exec.PersonaID
	m.CreatedAt = d.Clock.Now()
	return d.Store.CreateAgentMemory(ctx, &m)
}

func (d *Dispatcher) handleManualReview(ctx context.Context, exec *execution.Execution, p *persona.Persona, raw []byte) error {
	var r protocol.ManualReview
	if err := json.Unmarshal(raw, &r); err != nil {
		return err
	}
	r.ID = d.NewID()
	r.ExecutionID = exec.ID
	r.PersonaID = exec.PersonaID
	r.CreatedAt = d.Clock.Now()

	if err := d.Store.CreateManualReview(ctx, &r); err != nil {
		return err
	}
	if persona.NotifyManualReview.Has(p.NotificationChannels) {
		d.notify(ctx, r.Title, r.Description)
	}
	return nil
}

func (d *Dispatcher) handleExecutionFlow(exec *execution.Execution, raw []byte) error {
	var step protocol.FlowStep
	if err := json.Unmarshal(raw, &step); err != nil {
		return err
	}
	step.At = d.Clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flows == nil {
		d.flows = make(map[string][]protocol.FlowStep)
	}
	d.flows[exec.ID] = append(d.flows[exec.ID], step)
	return nil
}

// FlushExecutionFlow returns the accumulated flow steps for execID as a
// single JSON blob, clearing them from memory. Called by the execution
// engine once at completion.
func (d *Dispatcher) FlushExecutionFlow(execID string) json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps := d.flows[execID]
	if len(steps) == 0 {
		return nil
	}
	delete(d.flows, execID)

	body, err := json.Marshal(steps)
	if err != nil {
		return nil
	}
	return body
}

func (d *Dispatcher) notify(ctx context.Context, title, message string) {
	if d.Notifier == nil {
		return
	}
	_ = d.Notifier.Send(ctx, notifier.Notification{Title: title, Message: message, Level: "info", Source: "protocol_dispatcher"})
}
