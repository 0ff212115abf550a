// Package trace defines the Execution trace entity: a chain trace id shared
// across chained executions, plus the list of recorded OpenTelemetry spans.
package trace

import "time"

// Span is one recorded span within an execution trace.
type Span struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Trace is per execution, optionally shared across chained executions via
// ChainTraceID.
type Trace struct {
	ExecutionID  string `json:"execution_id"`
	ChainTraceID string `json:"chain_trace_id,omitempty"`
	Spans        []Span `json:"spans,omitempty"`
}
