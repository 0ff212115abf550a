package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/port/store"
)

func (s *Store) CreateTrigger(ctx context.Context, t *trigger.Trigger) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO triggers (persona_id, type, config, enabled, last_triggered_at, next_trigger_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.PersonaID, string(t.Type), []byte(t.Config), t.Enabled, t.LastTriggeredAt, t.NextTriggerAt)

	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return corerr.Database("postgres: create trigger", err)
	}
	return nil
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, persona_id, type, config, enabled, last_triggered_at, next_trigger_at, created_at, updated_at
		 FROM triggers WHERE id = $1`, id)

	t, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: trigger %s not found", id))
		}
		return nil, corerr.Database("postgres: get trigger", err)
	}
	return &t, nil
}

func (s *Store) UpdateTrigger(ctx context.Context, t *trigger.Trigger) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET persona_id = $2, type = $3, config = $4, enabled = $5,
		                      last_triggered_at = $6, next_trigger_at = $7, updated_at = now()
		 WHERE id = $1`,
		t.ID, t.PersonaID, string(t.Type), []byte(t.Config), t.Enabled, t.LastTriggeredAt, t.NextTriggerAt)
	if err != nil {
		return corerr.Database("postgres: update trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: trigger %s not found", t.ID))
	}
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return corerr.Database("postgres: delete trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: trigger %s not found", id))
	}
	return nil
}

func (s *Store) ListTriggersByPersona(ctx context.Context, personaID string) ([]*trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, type, config, enabled, last_triggered_at, next_trigger_at, created_at, updated_at
		 FROM triggers WHERE persona_id = $1 ORDER BY created_at`, personaID)
	if err != nil {
		return nil, corerr.Database("postgres: list triggers by persona", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

// ListEnabledChainTriggersBySource finds enabled chain triggers whose
// decoded config.source_persona_id matches sourcePersonaID.
func (s *Store) ListEnabledChainTriggersBySource(ctx context.Context, sourcePersonaID string) ([]*trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, type, config, enabled, last_triggered_at, next_trigger_at, created_at, updated_at
		 FROM triggers
		 WHERE type = $1 AND enabled AND config->>'source_persona_id' = $2
		 ORDER BY created_at`, string(trigger.TypeChain), sourcePersonaID)
	if err != nil {
		return nil, corerr.Database("postgres: list chain triggers by source", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (s *Store) GetDueTriggers(ctx context.Context, typ trigger.Type, now time.Time) ([]*trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, type, config, enabled, last_triggered_at, next_trigger_at, created_at, updated_at
		 FROM triggers
		 WHERE type = $1 AND enabled AND next_trigger_at IS NOT NULL AND next_trigger_at <= $2
		 ORDER BY next_trigger_at`, string(typ), now)
	if err != nil {
		return nil, corerr.Database("postgres: get due triggers", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (s *Store) MarkTriggered(ctx context.Context, triggerID string, triggeredAt time.Time, next *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET last_triggered_at = $2, next_trigger_at = $3, updated_at = now() WHERE id = $1`,
		triggerID, triggeredAt, next)
	if err != nil {
		return corerr.Database("postgres: mark triggered", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRowMissing
	}
	return nil
}

func (s *Store) MarkTriggeredWithHash(ctx context.Context, triggerID, newHash, expectedPrevHash string, triggeredAt time.Time, next *time.Time) (store.CASResult, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers
		 SET config = jsonb_set(config, '{content_hash}', to_jsonb($2::text)),
		     last_triggered_at = $3, next_trigger_at = $4, updated_at = now()
		 WHERE id = $1 AND config->>'content_hash' IS NOT DISTINCT FROM $5`,
		triggerID, newHash, triggeredAt, next, nullableString(expectedPrevHash))
	if err != nil {
		return store.NotApplied, corerr.Database("postgres: mark triggered with hash", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotApplied, nil
	}
	return store.Applied, nil
}

func (s *Store) MarkTriggerFired(ctx context.Context, triggerID string, firedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET last_triggered_at = $2, updated_at = now() WHERE id = $1`,
		triggerID, firedAt)
	if err != nil {
		return corerr.Database("postgres: mark trigger fired", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRowMissing
	}
	return nil
}

func scanTrigger(row scannable) (trigger.Trigger, error) {
	var t trigger.Trigger
	var typ string
	var config []byte
	err := row.Scan(&t.ID, &t.PersonaID, &typ, &config, &t.Enabled, &t.LastTriggeredAt, &t.NextTriggerAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Type = trigger.Type(typ)
	t.Config = config
	return t, nil
}

func scanTriggers(rows pgx.Rows) ([]*trigger.Trigger, error) {
	var out []*trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan trigger", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
