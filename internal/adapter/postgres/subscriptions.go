package postgres

import (
	"context"
	"fmt"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/subscription"
)

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (persona_id, event_type, source_filter, enabled)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		sub.PersonaID, sub.EventType, sub.SourceFilter, sub.Enabled)

	if err := row.Scan(&sub.ID, &sub.CreatedAt); err != nil {
		return corerr.Database("postgres: create subscription", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return corerr.Database("postgres: delete subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: subscription %s not found", id))
	}
	return nil
}

func (s *Store) ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, event_type, source_filter, enabled, created_at
		 FROM subscriptions WHERE event_type = $1 AND enabled`, eventType)
	if err != nil {
		return nil, corerr.Database("postgres: list subscriptions by event type", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		var sub subscription.Subscription
		if err := rows.Scan(&sub.ID, &sub.PersonaID, &sub.EventType, &sub.SourceFilter, &sub.Enabled, &sub.CreatedAt); err != nil {
			return nil, corerr.Database("postgres: scan subscription", err)
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}
