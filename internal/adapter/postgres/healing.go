package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/healing"
)

func (s *Store) CreateHealingIssue(ctx context.Context, i *healing.Issue) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO healing_issues (execution_id, category, severity, suggested_fix, auto_fixed, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		i.ExecutionID, string(i.Category), string(i.Severity), i.SuggestedFix, i.AutoFixed, i.ResolvedAt)

	if err := row.Scan(&i.ID, &i.CreatedAt); err != nil {
		return corerr.Database("postgres: create healing issue", err)
	}
	return nil
}

func (s *Store) ResolveHealingIssue(ctx context.Context, id string, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE healing_issues SET resolved_at = $2, auto_fixed = true WHERE id = $1`, id, resolvedAt)
	if err != nil {
		return corerr.Database("postgres: resolve healing issue", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: healing issue %s not found", id))
	}
	return nil
}
