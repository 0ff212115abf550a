package postgres

import (
	"context"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/protocol"
)

func (s *Store) CreateUserMessage(ctx context.Context, m *protocol.UserMessage) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO protocol_user_messages (execution_id, persona_id, title, content, content_type, priority)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		m.ExecutionID, m.PersonaID, m.Title, m.Content, m.ContentType, m.Priority)

	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return corerr.Database("postgres: create user message", err)
	}
	return nil
}

func (s *Store) CreatePersonaAction(ctx context.Context, a *protocol.PersonaAction) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO protocol_persona_actions (execution_id, persona_id, target, action, input)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.ExecutionID, a.PersonaID, a.Target, a.Action, nilIfEmptyRaw(a.Input))

	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return corerr.Database("postgres: create persona action", err)
	}
	return nil
}

func (s *Store) CreateAgentMemory(ctx context.Context, m *protocol.AgentMemory) error {
	tags, err := marshalOrNil(m.Tags)
	if err != nil {
		return corerr.Serde("postgres: marshal agent memory tags", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO protocol_agent_memories (execution_id, persona_id, title, content, category, importance, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		m.ExecutionID, m.PersonaID, m.Title, m.Content, m.Category, m.Importance, tags)

	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return corerr.Database("postgres: create agent memory", err)
	}
	return nil
}

func (s *Store) CreateManualReview(ctx context.Context, r *protocol.ManualReview) error {
	actions, err := marshalOrNil(r.SuggestedActions)
	if err != nil {
		return corerr.Serde("postgres: marshal manual review actions", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO protocol_manual_reviews (execution_id, persona_id, title, description, severity, context_data, suggested_actions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		r.ExecutionID, r.PersonaID, r.Title, r.Description, r.Severity, nilIfEmptyRaw(r.ContextData), actions)

	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return corerr.Database("postgres: create manual review", err)
	}
	return nil
}
