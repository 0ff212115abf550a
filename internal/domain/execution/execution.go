// Package execution defines the Execution entity: one run of a persona,
// with status, cost, tokens, and output. Grounded on the teacher's
// internal/domain/run package, generalized to the persona-execution model.
package execution

import (
	"encoding/json"
	"time"

	"github.com/personacore/core/internal/domain/corerr"
)

// MaxRetryCount bounds how many times a failed execution may be
// auto-retried by the healing engine.
const MaxRetryCount = 3

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusIncomplete Status = "incomplete"
	StatusCancelled  Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusQueued:     true,
	StatusRunning:    true,
	StatusCompleted:  true,
	StatusFailed:     true,
	StatusIncomplete: true,
	StatusCancelled:  true,
}

// Terminal reports whether s is one of the terminal states. Once terminal,
// an execution's status is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusIncomplete, StatusCancelled:
		return true
	}
	return false
}

// ToolStep is one recorded tool invocation within an execution's stream,
// captured for the `tool_steps` column.
type ToolStep struct {
	ToolName     string    `json:"tool_name"`
	InputPreview string    `json:"input_preview,omitempty"`
	Output       string    `json:"output,omitempty"`
	Success      bool      `json:"success"`
	At           time.Time `json:"at"`
}

// Execution is one run of a persona, optionally caused by a trigger.
type Execution struct {
	ID        string  `json:"id"`
	PersonaID string  `json:"persona_id"`
	TriggerID *string `json:"trigger_id,omitempty"`

	Status Status `json:"status"`

	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	SessionID   string `json:"session_id,omitempty"`
	LogFilePath string `json:"log_file_path,omitempty"`

	CostUSD     float64 `json:"cost_usd"`
	InputTokens int     `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMS  int64   `json:"duration_ms"`

	ToolSteps []ToolStep `json:"tool_steps,omitempty"`

	// ExecutionFlow collects every ExecutionFlow protocol message emitted
	// during the run, persisted as a single JSON blob at completion.
	ExecutionFlow json.RawMessage `json:"execution_flow,omitempty"`

	RetryOfExecutionID *string `json:"retry_of_execution_id,omitempty"`
	RetryCount         int     `json:"retry_count"`

	FailureReason string `json:"failure_reason,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks the lifecycle and retry-budget invariants.
func (e *Execution) Validate() error {
	if e.PersonaID == "" {
		return corerr.Validation("execution: persona_id must not be empty")
	}
	if !validStatuses[e.Status] {
		return corerr.Validation("execution: unknown status " + string(e.Status))
	}
	if e.RetryCount > MaxRetryCount {
		return corerr.Validation("execution: retry_count exceeds MAX_RETRY_COUNT")
	}
	if e.Status == StatusRunning && e.StartedAt == nil {
		return corerr.Validation("execution: started_at must be set when status is running")
	}
	if e.Status.Terminal() && e.CompletedAt == nil {
		return corerr.Validation("execution: completed_at must be set on a terminal status")
	}
	return nil
}

// TransitionTo moves the execution to status newStatus, enforcing that a
// terminal status is immutable and stamping started_at/completed_at per
// the data-model invariants. now is injected for testability.
func (e *Execution) TransitionTo(newStatus Status, now time.Time) error {
	if e.Status.Terminal() {
		return corerr.Validation("execution: cannot transition out of terminal status " + string(e.Status))
	}
	if !validStatuses[newStatus] {
		return corerr.Validation("execution: unknown status " + string(newStatus))
	}

	e.Status = newStatus
	if newStatus == StatusRunning && e.StartedAt == nil {
		e.StartedAt = &now
	}
	if newStatus.Terminal() {
		e.CompletedAt = &now
	}
	e.UpdatedAt = now
	return nil
}

// NewRetry builds a new queued execution that retries original, pointing
// retry_of_execution_id at it and incrementing retry_count.
func NewRetry(id string, original *Execution, now time.Time) (*Execution, error) {
	if original.RetryCount >= MaxRetryCount {
		return nil, corerr.Validation("execution: retry budget exhausted")
	}
	return &Execution{
		ID:                 id,
		PersonaID:          original.PersonaID,
		TriggerID:          original.TriggerID,
		Status:             StatusQueued,
		Input:              original.Input,
		RetryOfExecutionID: &original.ID,
		RetryCount:         original.RetryCount + 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}
