package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/event"
)

func (s *Store) CreateEvent(ctx context.Context, e *event.Event) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO events (event_type, source_type, source_id, target_persona_id, payload, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		e.EventType, string(e.SourceType), e.SourceID, e.TargetPersonaID, nilIfEmptyRaw(e.Payload), string(e.Status))

	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return corerr.Database("postgres: create event", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, event_type, source_type, source_id, target_persona_id, payload, status, created_at, updated_at
		 FROM events WHERE id = $1`, id)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: event %s not found", id))
		}
		return nil, corerr.Database("postgres: get event", err)
	}
	return &ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e *event.Event) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET event_type = $2, source_type = $3, source_id = $4, target_persona_id = $5,
		                    payload = $6, status = $7, updated_at = now()
		 WHERE id = $1`,
		e.ID, e.EventType, string(e.SourceType), e.SourceID, e.TargetPersonaID, nilIfEmptyRaw(e.Payload), string(e.Status))
	if err != nil {
		return corerr.Database("postgres: update event", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: event %s not found", e.ID))
	}
	return nil
}

func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, source_type, source_id, target_persona_id, payload, status, created_at, updated_at
		 FROM events WHERE status = $1 ORDER BY created_at LIMIT $2`, string(event.StatusPending), limit)
	if err != nil {
		return nil, corerr.Database("postgres: list pending events", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan event", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, corerr.Database("postgres: delete old events", err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row scannable) (event.Event, error) {
	var ev event.Event
	var sourceType, status string
	err := row.Scan(&ev.ID, &ev.EventType, &sourceType, &ev.SourceID, &ev.TargetPersonaID, &ev.Payload, &status, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return ev, err
	}
	ev.SourceType = event.SourceType(sourceType)
	ev.Status = event.Status(status)
	return ev, nil
}
