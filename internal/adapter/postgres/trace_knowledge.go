package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/knowledge"
	"github.com/personacore/core/internal/domain/trace"
)

func (s *Store) UpsertTrace(ctx context.Context, t *trace.Trace) error {
	spans, err := json.Marshal(t.Spans)
	if err != nil {
		return corerr.Serde("postgres: marshal trace spans", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_traces (execution_id, chain_trace_id, spans)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (execution_id) DO UPDATE SET chain_trace_id = $2, spans = $3`,
		t.ExecutionID, t.ChainTraceID, spans)
	if err != nil {
		return corerr.Database("postgres: upsert trace", err)
	}
	return nil
}

func (s *Store) GetTrace(ctx context.Context, executionID string) (*trace.Trace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT execution_id, chain_trace_id, spans FROM execution_traces WHERE execution_id = $1`, executionID)

	var t trace.Trace
	var spans []byte
	if err := row.Scan(&t.ExecutionID, &t.ChainTraceID, &spans); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: trace for execution %s not found", executionID))
		}
		return nil, corerr.Database("postgres: get trace", err)
	}
	if len(spans) > 0 {
		if err := json.Unmarshal(spans, &t.Spans); err != nil {
			return nil, corerr.Serde("postgres: unmarshal trace spans", err)
		}
	}
	return &t, nil
}

func (s *Store) UpsertKnowledge(ctx context.Context, e *knowledge.Entry) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_entries (persona_id, knowledge_type, pattern_key, success_count, failure_count,
		                                avg_cost_usd, avg_duration_ms, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (persona_id, knowledge_type, pattern_key)
		 DO UPDATE SET success_count = $4, failure_count = $5, avg_cost_usd = $6,
		               avg_duration_ms = $7, updated_at = $8
		 RETURNING id`,
		e.PersonaID, string(e.Type), e.PatternKey, e.SuccessCount, e.FailureCount,
		e.AvgCostUSD, e.AvgDurationMS, e.UpdatedAt)

	if err := row.Scan(&e.ID); err != nil {
		return corerr.Database("postgres: upsert knowledge", err)
	}
	return nil
}

func (s *Store) GetKnowledge(ctx context.Context, personaID string, typ knowledge.Type, patternKey string) (*knowledge.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, persona_id, knowledge_type, pattern_key, success_count, failure_count,
		        avg_cost_usd, avg_duration_ms, updated_at
		 FROM knowledge_entries WHERE persona_id = $1 AND knowledge_type = $2 AND pattern_key = $3`,
		personaID, string(typ), patternKey)

	var e knowledge.Entry
	var kt string
	err := row.Scan(&e.ID, &e.PersonaID, &kt, &e.PatternKey, &e.SuccessCount, &e.FailureCount,
		&e.AvgCostUSD, &e.AvgDurationMS, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: knowledge entry %s/%s/%s not found", personaID, typ, patternKey))
		}
		return nil, corerr.Database("postgres: get knowledge", err)
	}
	e.Type = knowledge.Type(kt)
	return &e, nil
}
