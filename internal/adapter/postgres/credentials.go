package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/credential"
)

func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO credentials (name, service_type, ciphertext, nonce)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		c.Name, c.ServiceType, c.CiphertextB64, c.NonceB64)

	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return corerr.Database("postgres: create credential", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id string) (*credential.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, service_type, ciphertext, nonce, created_at, updated_at FROM credentials WHERE id = $1`, id)

	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: credential %s not found", id))
		}
		return nil, corerr.Database("postgres: get credential", err)
	}
	return &c, nil
}

func (s *Store) UpdateCredential(ctx context.Context, c *credential.Credential) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET name = $2, service_type = $3, ciphertext = $4, nonce = $5, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.Name, c.ServiceType, c.CiphertextB64, c.NonceB64)
	if err != nil {
		return corerr.Database("postgres: update credential", err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.NotFound(fmt.Sprintf("postgres: credential %s not found", c.ID))
	}
	return nil
}

func (s *Store) ListCredentials(ctx context.Context) ([]*credential.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, service_type, ciphertext, nonce, created_at, updated_at FROM credentials ORDER BY name`)
	if err != nil {
		return nil, corerr.Database("postgres: list credentials", err)
	}
	defer rows.Close()
	return scanCredentials(rows)
}

func (s *Store) ListPlaintextCredentials(ctx context.Context) ([]*credential.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, service_type, ciphertext, nonce, created_at, updated_at
		 FROM credentials WHERE nonce = $1`, credential.PlaintextNonce)
	if err != nil {
		return nil, corerr.Database("postgres: list plaintext credentials", err)
	}
	defer rows.Close()
	return scanCredentials(rows)
}

func (s *Store) GetConnector(ctx context.Context, name string) (*credential.Connector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT name, category, fields, services, healthcheck_config, metadata FROM connectors WHERE name = $1`, name)

	c, err := scanConnector(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFound(fmt.Sprintf("postgres: connector %s not found", name))
		}
		return nil, corerr.Database("postgres: get connector", err)
	}
	return &c, nil
}

func (s *Store) ListConnectors(ctx context.Context) ([]*credential.Connector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, category, fields, services, healthcheck_config, metadata FROM connectors ORDER BY name`)
	if err != nil {
		return nil, corerr.Database("postgres: list connectors", err)
	}
	defer rows.Close()

	var out []*credential.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan connector", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertConnector(ctx context.Context, c *credential.Connector) error {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return corerr.Serde("postgres: marshal connector fields", err)
	}
	services, err := json.Marshal(c.Services)
	if err != nil {
		return corerr.Serde("postgres: marshal connector services", err)
	}
	healthcheck, err := marshalOrNil(c.Healthcheck)
	if err != nil {
		return corerr.Serde("postgres: marshal connector healthcheck", err)
	}
	metadata, err := marshalOrNil(c.Metadata)
	if err != nil {
		return corerr.Serde("postgres: marshal connector metadata", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO connectors (name, category, fields, services, healthcheck_config, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET category = $2, fields = $3, services = $4,
		                                  healthcheck_config = $5, metadata = $6`,
		c.Name, c.Category, fields, services, healthcheck, metadata)
	if err != nil {
		return corerr.Database("postgres: upsert connector", err)
	}
	return nil
}

// ConnectorsForPersonaTools returns every connector that declares a service
// backing one of toolNames.
func (s *Store) ConnectorsForPersonaTools(ctx context.Context, toolNames []string) ([]*credential.Connector, error) {
	if len(toolNames) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT name, category, fields, services, healthcheck_config, metadata
		 FROM connectors
		 WHERE EXISTS (
		     SELECT 1 FROM jsonb_array_elements(services) svc
		     WHERE svc->>'tool_name' = ANY($1)
		 )`, toolNames)
	if err != nil {
		return nil, corerr.Database("postgres: connectors for persona tools", err)
	}
	defer rows.Close()

	var out []*credential.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan connector", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanCredential(row scannable) (credential.Credential, error) {
	var c credential.Credential
	err := row.Scan(&c.ID, &c.Name, &c.ServiceType, &c.CiphertextB64, &c.NonceB64, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanCredentials(rows pgx.Rows) ([]*credential.Credential, error) {
	var out []*credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, corerr.Database("postgres: scan credential", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanConnector(row scannable) (credential.Connector, error) {
	var c credential.Connector
	var fields, services, healthcheck, metadata []byte
	err := row.Scan(&c.Name, &c.Category, &fields, &services, &healthcheck, &metadata)
	if err != nil {
		return c, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return c, fmt.Errorf("unmarshal connector fields: %w", err)
		}
	}
	if len(services) > 0 {
		if err := json.Unmarshal(services, &c.Services); err != nil {
			return c, fmt.Errorf("unmarshal connector services: %w", err)
		}
	}
	if len(healthcheck) > 0 {
		c.Healthcheck = &credential.HealthcheckConfig{}
		if err := json.Unmarshal(healthcheck, c.Healthcheck); err != nil {
			return c, fmt.Errorf("unmarshal connector healthcheck: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return c, fmt.Errorf("unmarshal connector metadata: %w", err)
		}
	}
	return c, nil
}
