// Package protocol defines the six machine-parseable message variants an
// agent can embed in its assistant text, and the dispatcher routes each
// to persistence and, where the persona's notification channels call for
// it, an OS notification.
package protocol

import (
	"encoding/json"
	"time"
)

// UserMessage surfaces a message to the human operator.
type UserMessage struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	PersonaID   string    `json:"persona_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PersonaAction asks another persona to perform an action.
type PersonaAction struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	PersonaID   string          `json:"persona_id"`
	Target      string          `json:"target"`
	Action      string          `json:"action"`
	Input       json.RawMessage `json:"input,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EmitEvent asks the dispatcher to publish an event onto the bus.
type EmitEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AgentMemory records a durable note the persona wants retained beyond
// this execution.
type AgentMemory struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	PersonaID   string    `json:"persona_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    string    `json:"category,omitempty"`
	Importance  int       `json:"importance,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ManualReview flags something that needs a human decision.
type ManualReview struct {
	ID               string          `json:"id"`
	ExecutionID      string          `json:"execution_id"`
	PersonaID        string          `json:"persona_id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Severity         string          `json:"severity,omitempty"`
	ContextData      json.RawMessage `json:"context_data,omitempty"`
	SuggestedActions []string        `json:"suggested_actions,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// FlowStep is one entry of an ExecutionFlow message; the dispatcher
// accumulates these across a run and persists them as a single JSON
// array on the execution row at completion.
type FlowStep struct {
	Step string          `json:"step"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
}

// Kind identifies which of the six variants a decoded message is.
type Kind string

const (
	KindUserMessage   Kind = "user_message"
	KindPersonaAction Kind = "persona_action"
	KindEmitEvent     Kind = "emit_event"
	KindAgentMemory   Kind = "agent_memory"
	KindManualReview  Kind = "manual_review"
	KindExecutionFlow Kind = "execution_flow"
)

// Envelope is the wire shape a protocol message is embedded in assistant
// text as: {"protocol": "<kind>", ...fields}.
type Envelope struct {
	Protocol Kind            `json:"protocol"`
	Payload  json.RawMessage `json:"-"`
}
