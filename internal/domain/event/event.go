// Package event defines the Event entity: the bus carrier that subscriptions
// match against and the execution engine is invoked from.
package event

import (
	"encoding/json"
	"time"

	"github.com/personacore/core/internal/domain/corerr"
)

// SourceType identifies what raised the event.
type SourceType string

const (
	SourceTrigger SourceType = "trigger"
	SourcePolling SourceType = "polling"
	SourceWebhook SourceType = "webhook"
	SourceChain   SourceType = "chain"
	SourcePersona SourceType = "persona"
	SourceTest    SourceType = "test"
	SourceManual  SourceType = "manual"
)

var validSourceTypes = map[SourceType]bool{
	SourceTrigger: true,
	SourcePolling: true,
	SourceWebhook: true,
	SourceChain:   true,
	SourcePersona: true,
	SourceTest:    true,
	SourceManual:  true,
}

// Status is the delivery status of an event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusPartial    Status = "partial"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Terminal reports whether an event's delivery status is frozen.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusPartial, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// ChainDepthKey, ChainVisitedKey, and ChainTraceIDKey are the reserved
// payload keys the chain evaluator (engine/chain) embeds into forwarded
// event payloads.
const (
	ChainDepthKey   = "_chain_depth"
	ChainVisitedKey = "_chain_visited"
	ChainTraceIDKey = "_chain_trace_id"
)

// Event is a bus carrier.
type Event struct {
	ID              string          `json:"id"`
	EventType       string          `json:"event_type"`
	SourceType      SourceType      `json:"source_type"`
	SourceID        *string         `json:"source_id,omitempty"`
	TargetPersonaID *string         `json:"target_persona_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Status          Status          `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that event_type is set and source_type is enumerated.
// Status is not checked here; TransitionTo guards terminal statuses.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return corerr.Validation("event: event_type must not be empty")
	}
	if !validSourceTypes[e.SourceType] {
		return corerr.Validation("event: unknown source_type " + string(e.SourceType))
	}
	return nil
}

// TransitionTo moves the event to newStatus, refusing to mutate a terminal
// status (it is frozen once reached).
func (e *Event) TransitionTo(newStatus Status) error {
	if e.Status.Terminal() {
		return corerr.Validation("event: cannot transition out of terminal status " + string(e.Status))
	}
	e.Status = newStatus
	return nil
}
