// Package execport defines the execution port exposed by the engine: start,
// cancel, and capacity-check operations for a manual-execution entry point.
// The webhook receiver does not call it; it only records a pending event.
package execport

import (
	"context"
	"encoding/json"

	"github.com/personacore/core/internal/domain/persona"
)

// ChainContext carries the chain-evaluator bookkeeping forward when an
// execution is launched from a chain event.
type ChainContext struct {
	Depth     int
	Visited   []string
	TraceID   string
}

// StartOptions configures a single execution start.
type StartOptions struct {
	TriggerID *string
	Input     json.RawMessage
	Chain     *ChainContext
}

// Executor is the execution port exposed by the engine.
type Executor interface {
	Start(ctx context.Context, p *persona.Persona, opts StartOptions) (executionID string, err error)
	Cancel(ctx context.Context, executionID string) error
	Capacity(personaID string, max int) bool
}
