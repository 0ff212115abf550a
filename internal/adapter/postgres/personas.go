package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/persona"
)

func (s *Store) CreatePersona(ctx context.Context, p *persona.Persona) error {
	promptMeta, err := json.Marshal(p.PromptMeta)
	if err != nil {
		return corerr.Serde("postgres: marshal prompt_meta", err)
	}
	modelProfile, err := json.Marshal(p.ModelProfile)
	if err != nil {
		return corerr.Serde("postgres: marshal model_profile", err)
	}
	toolNames, err := json.Marshal(p.ToolNames)
	if err != nil {
		return corerr.Serde("postgres: marshal tool_names", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO personas (name, system_prompt, prompt_meta, model_profile, max_concurrent, timeout_ms,
		                       max_budget_usd, max_turns, notification_channels, tool_names)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		p.Name, p.SystemPrompt, promptMeta, modelProfile, p.MaxConcurrent, p.TimeoutMS,
		p.MaxBudgetUSD, p.MaxTurns, p.NotificationChannels, toolNames)

	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return corerr.Database("postgres: create persona", err)
	}
	return nil
}

func (s *Store) GetPersona(ctx context.Context, id string) (*persona.Persona, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, system_prompt, prompt_meta, model_profile, max_concurrent, timeout_ms,
		        max_budget_usd, max_turns, notification_channels, tool_names, created_at, updated_at
		 FROM personas WHERE id = $1`, id)

	p, err := scanPersona(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: persona %s not found", id))
		}
		return nil, corerr.Database("postgres: get persona", err)
	}
	return &p, nil
}

func (s *Store) UpdatePersona(ctx context.Context, p *persona.Persona) error {
	promptMeta, err := json.Marshal(p.PromptMeta)
	if err != nil {
		return corerr.Serde("postgres: marshal prompt_meta", err)
	}
	modelProfile, err := json.Marshal(p.ModelProfile)
	if err != nil {
		return corerr.Serde("postgres: marshal model_profile", err)
	}
	toolNames, err := json.Marshal(p.ToolNames)
	if err != nil {
		return corerr.Serde("postgres: marshal tool_names", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE personas SET name = $2, system_prompt = $3, prompt_meta = $4, model_profile = $5,
		                      max_concurrent = $6, timeout_ms = $7, max_budget_usd = $8, max_turns = $9,
		                      notification_channels = $10, tool_names = $11, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.Name, p.SystemPrompt, promptMeta, modelProfile, p.MaxConcurrent, p.TimeoutMS,
		p.MaxBudgetUSD, p.MaxTurns, p.NotificationChannels, toolNames)
	if err != nil {
		return corerr.Database("postgres: update persona", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: persona %s not found", p.ID))
	}
	return nil
}

func (s *Store) DeletePersona(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM personas WHERE id = $1`, id)
	if err != nil {
		return corerr.Database("postgres: delete persona", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: persona %s not found", id))
	}
	return nil
}

func (s *Store) ListPersonas(ctx context.Context) ([]*persona.Persona, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, system_prompt, prompt_meta, model_profile, max_concurrent, timeout_ms,
		        max_budget_usd, max_turns, notification_channels, tool_names, created_at, updated_at
		 FROM personas ORDER BY created_at DESC`)
	if err != nil {
		return nil, corerr.Database("postgres: list personas", err)
	}
	defer rows.Close()

	var out []*persona.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan persona", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanPersona(row scannable) (persona.Persona, error) {
	var p persona.Persona
	var promptMeta, modelProfile, toolNames []byte
	err := row.Scan(&p.ID, &p.Name, &p.SystemPrompt, &promptMeta, &modelProfile, &p.MaxConcurrent, &p.TimeoutMS,
		&p.MaxBudgetUSD, &p.MaxTurns, &p.NotificationChannels, &toolNames, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if len(promptMeta) > 0 {
		if err := json.Unmarshal(promptMeta, &p.PromptMeta); err != nil {
			return p, fmt.Errorf("unmarshal prompt_meta: %w", err)
		}
	}
	if len(modelProfile) > 0 {
		if err := json.Unmarshal(modelProfile, &p.ModelProfile); err != nil {
			return p, fmt.Errorf("unmarshal model_profile: %w", err)
		}
	}
	if len(toolNames) > 0 {
		if err := json.Unmarshal(toolNames, &p.ToolNames); err != nil {
			return p, fmt.Errorf("unmarshal tool_names: %w", err)
		}
	}
	return p, nil
}
