// Package chain implements the chain evaluator: after an execution
// completes, it finds chain triggers rooted at that persona, forwards an
// event to each target whose predicate matches, and carries the
// depth/visited-set/trace-id triple across hops so cycles are bounded and
// traces stay stitched together.
package chain

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/port/clock"
	"github.com/personacore/core/internal/port/store"
)

// Result carries the incoming chain context a downstream execution should
// extract from its triggering event's payload and carry forward.
type Result struct {
	Depth     int
	Visited   map[string]bool
	TraceID   string
}

// Evaluator is the chain evaluator. MaxDepth is the configured
// chain.max_depth (default 8).
type Evaluator struct {
	Store    store.Store
	Clock    clock.Clock
	NewID    func() string
	MaxDepth int
}

// Evaluate runs after an execution reaches a terminal status. depth,
// visited, and traceID come from the triggering event's payload (zero
// values for an execution with no chain ancestry).
func (e *Evaluator) Evaluate(ctx context.Context, sourcePersonaID string, status execution.Status, output []byte, depth int, visited map[string]bool, traceID string) error {
	if depth >= e.MaxDepth {
		return nil
	}

	triggers, err := e.Store.ListEnabledChainTriggersBySource(ctx, sourcePersonaID)
	if err != nil {
		return err
	}

	now := e.Clock.Now()

	for _, trig := range triggers {
		var cfg trigger.ChainConfig
		if err := json.Unmarshal(trig.Config, &cfg); err != nil {
			continue
		}

		if !evalPredicate(cfg.Condition, status, output, cfg.JSONPath, cfg.Expected) {
			continue
		}
		if visited[trig.PersonaID] {
			continue
		}

		nextVisited := make(map[string]bool, len(visited)+1)
		for k := range visited {
			nextVisited[k] = true
		}
		nextVisited[trig.PersonaID] = true

		payload := map[string]interface{}{
			event.ChainDepthKey:   depth + 1,
			event.ChainVisitedKey: visitedSlice(nextVisited),
		}
		if traceID != "" {
			payload[event.ChainTraceIDKey] = traceID
		}
		if cfg.PayloadForward {
			payload["output"] = json.RawMessage(output)
		} else {
			payload["status"] = string(status)
		}

		body, err := json.Marshal(payload)
		if err != nil {
			continue
		}

		eventType := cfg.EventType
		if eventType == "" {
			eventType = "chain"
		}
		triggerID := trig.ID
		targetPersonaID := trig.PersonaID

		ev := &event.Event{
			ID:              e.NewID(),
			EventType:       eventType,
			SourceType:      event.SourceChain,
			SourceID:        &triggerID,
			TargetPersonaID: &targetPersonaID,
			Payload:         body,
			Status:          event.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := ev.Validate(); err != nil {
			continue
		}
		if err := e.Store.CreateEvent(ctx, ev); err != nil {
			return err
		}
		if err := e.Store.MarkTriggerFired(ctx, trig.ID, now); err != nil {
			return err
		}
	}

	return nil
}

func visitedSlice(visited map[string]bool) []string {
	out := make([]string, 0, len(visited))
	for k := range visited {
		out = append(out, k)
	}
	return out
}

// evalPredicate decides whether a chain trigger's condition matches the
// completed source execution.
func evalPredicate(condition string, status execution.Status, output []byte, jsonPath, expected string) bool {
	switch condition {
	case "", "any":
		return true
	case "success":
		return status == execution.StatusCompleted
	case "failure":
		return status == execution.StatusFailed || status == execution.StatusIncomplete || status == execution.StatusCancelled
	case "jsonpath":
		if jsonPath == "" {
			return false
		}
		return gjson.GetBytes(output, jsonPath).String() == expected
	default:
		return false
	}
}
