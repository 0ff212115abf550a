package postgres

import (
	"context"

	"github.com/personacore/core/internal/domain/audit"
	"github.com/personacore/core/internal/domain/corerr"
)

func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO audit_log (operation, credential_id, persona_id, detail)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		string(e.Operation), e.CredentialID, e.PersonaID, e.Detail)

	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return corerr.Database("postgres: append audit", err)
	}
	return nil
}
