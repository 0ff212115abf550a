package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/execution"
)

func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	toolSteps, err := marshalOrNil(e.ToolSteps)
	if err != nil {
		return corerr.Serde("postgres: marshal tool_steps", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO executions (persona_id, trigger_id, status, input, output, session_id, log_file_path,
		                         cost_usd, input_tokens, output_tokens, duration_ms, tool_steps, execution_flow,
		                         retry_of_execution_id, retry_count, failure_reason, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, created_at, updated_at`,
		e.PersonaID, e.TriggerID, string(e.Status), nilIfEmptyRaw(e.Input), nilIfEmptyRaw(e.Output),
		e.SessionID, e.LogFilePath, e.CostUSD, e.InputTokens, e.OutputTokens, e.DurationMS, toolSteps,
		nilIfEmptyRaw(e.ExecutionFlow), e.RetryOfExecutionID, e.RetryCount, e.FailureReason, e.StartedAt, e.CompletedAt)

	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return corerr.Database("postgres: create execution", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx, executionSelect+` WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: execution %s not found", id))
		}
		return nil, corerr.Database("postgres: get execution", err)
	}
	return &e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	toolSteps, err := marshalOrNil(e.ToolSteps)
	if err != nil {
		return corerr.Serde("postgres: marshal tool_steps", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $2, input = $3, output = $4, session_id = $5, log_file_path = $6,
		                        cost_usd = $7, input_tokens = $8, output_tokens = $9, duration_ms = $10,
		                        tool_steps = $11, execution_flow = $12, retry_count = $13, failure_reason = $14,
		                        started_at = $15, completed_at = $16, updated_at = now()
		 WHERE id = $1`,
		e.ID, string(e.Status), nilIfEmptyRaw(e.Input), nilIfEmptyRaw(e.Output), e.SessionID, e.LogFilePath,
		e.CostUSD, e.InputTokens, e.OutputTokens, e.DurationMS, toolSteps, nilIfEmptyRaw(e.ExecutionFlow),
		e.RetryCount, e.FailureReason, e.StartedAt, e.CompletedAt)
	if err != nil {
		return corerr.Database("postgres: update execution", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: execution %s not found", e.ID))
	}
	return nil
}

func (s *Store) ListExecutionsByPersona(ctx context.Context, personaID string, limit int) ([]*execution.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		executionSelect+` WHERE persona_id = $1 ORDER BY created_at DESC LIMIT $2`, personaID, limit)
	if err != nil {
		return nil, corerr.Database("postgres: list executions by persona", err)
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan execution", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LatestAutoFixableFailure returns the most recent failed execution for
// personaID that has not already spawned a retry tracked against it.
func (s *Store) LatestAutoFixableFailure(ctx context.Context, personaID string) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		executionSelect+`
		 WHERE persona_id = $1 AND status = $2
		   AND NOT EXISTS (SELECT 1 FROM executions r WHERE r.retry_of_execution_id = executions.id)
		 ORDER BY completed_at DESC LIMIT 1`,
		personaID, string(execution.StatusFailed))
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, corerr.Database("postgres: latest auto-fixable failure", err)
	}
	return &e, nil
}

func (s *Store) CreateRetry(ctx context.Context, personaID, originalID string, retryCount int, now time.Time) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO executions (persona_id, trigger_id, status, input, retry_of_execution_id, retry_count)
		 SELECT persona_id, trigger_id, $3, input, $2, $4 FROM executions WHERE id = $2
		 RETURNING id, persona_id, trigger_id, status, input, output, session_id, log_file_path, cost_usd,
		           input_tokens, output_tokens, duration_ms, tool_steps, execution_flow, retry_of_execution_id,
		           retry_count, failure_reason, started_at, completed_at, created_at, updated_at`,
		personaID, originalID, string(execution.StatusQueued), retryCount)

	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: original execution %s not found", originalID))
		}
		return nil, corerr.Database("postgres: create retry", err)
	}
	return &e, nil
}

// MonthlySpend sums cost_usd for terminal-and-costed statuses since the
// start of the month containing now.
func (s *Store) MonthlySpend(ctx context.Context, personaID string, now time.Time) (float64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM executions
		 WHERE persona_id = $1 AND status = ANY($2) AND created_at >= $3`,
		personaID,
		[]string{string(execution.StatusCompleted), string(execution.StatusFailed), string(execution.StatusIncomplete), string(execution.StatusCancelled)},
		monthStart,
	).Scan(&total)
	if err != nil {
		return 0, corerr.Database("postgres: monthly spend", err)
	}
	return total, nil
}

// CreateCancelTombstone upserts a tombstone row: a cancel arriving twice
// before launch must not fail, only keep the earliest requested_at.
func (s *Store) CreateCancelTombstone(ctx context.Context, executionID string, requestedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_cancel_tombstones (execution_id, requested_at) VALUES ($1, $2)
		 ON CONFLICT (execution_id) DO NOTHING`,
		executionID, requestedAt)
	if err != nil {
		return corerr.Database("postgres: create cancel tombstone", err)
	}
	return nil
}

func (s *Store) ConsumeCancelTombstone(ctx context.Context, executionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM execution_cancel_tombstones WHERE execution_id = $1`, executionID)
	if err != nil {
		return false, corerr.Database("postgres: consume cancel tombstone", err)
	}
	return tag.RowsAffected() > 0, nil
}

const executionSelect = `SELECT id, persona_id, trigger_id, status, input, output, session_id, log_file_path,
	cost_usd, input_tokens, output_tokens, duration_ms, tool_steps, execution_flow, retry_of_execution_id,
	retry_count, failure_reason, started_at, completed_at, created_at, updated_at
	FROM executions`

func scanExecution(row scannable) (execution.Execution, error) {
	var e execution.Execution
	var status string
	var toolSteps []byte
	err := row.Scan(&e.ID, &e.PersonaID, &e.TriggerID, &status, &e.Input, &e.Output, &e.SessionID, &e.LogFilePath,
		&e.CostUSD, &e.InputTokens, &e.OutputTokens, &e.DurationMS, &toolSteps, &e.ExecutionFlow,
		&e.RetryOfExecutionID, &e.RetryCount, &e.FailureReason, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Status = execution.Status(status)
	if len(toolSteps) > 0 {
		if err := json.Unmarshal(toolSteps, &e.ToolSteps); err != nil {
			return e, fmt.Errorf("unmarshal tool_steps: %w", err)
		}
	}
	return e, nil
}

func marshalOrNil(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func nilIfEmptyRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
