// Package credential defines the Credential and Connector-definition
// entities. Credentials are a named bundle keyed by connector service_type,
// stored as a (ciphertext, nonce) pair; the vault (internal/adapter/vault)
// performs the actual AES-GCM encryption described in the component design.
package credential

import (
	"time"

	"github.com/personacore/core/internal/domain/corerr"
)

// PlaintextNonce is the sentinel value stored in place of a real nonce when
// a credential's ciphertext field is actually the literal JSON map -- used
// during migration from an unencrypted store.
const PlaintextNonce = "_PLAINTEXT_"

// Credential is a named bundle keyed by connector service_type.
type Credential struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ServiceType string `json:"service_type"`

	CiphertextB64 string `json:"ciphertext"`
	NonceB64      string `json:"nonce"` // or PlaintextNonce

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPlaintext reports whether this row has not yet been migrated to
// ciphertext.
func (c *Credential) IsPlaintext() bool {
	return c.NonceB64 == PlaintextNonce
}

// Validate checks required fields.
func (c *Credential) Validate() error {
	if c.Name == "" {
		return corerr.Validation("credential: name must not be empty")
	}
	if c.ServiceType == "" {
		return corerr.Validation("credential: service_type must not be empty")
	}
	if c.CiphertextB64 == "" {
		return corerr.Validation("credential: ciphertext must not be empty")
	}
	return nil
}

// ConnectorService declares which tool a connector backs and which
// "source" (field namespace) it serves it from.
type ConnectorService struct {
	ToolName string `json:"tool_name"`
	Source   string `json:"source"`
}

// HealthcheckConfig is the optional per-connector healthcheck template.
type HealthcheckConfig struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Connector is a declarative connector definition.
type Connector struct {
	Name     string             `json:"name"` // matches Credential.ServiceType
	Category string             `json:"category"`
	Fields   []string           `json:"fields"`
	Services []ConnectorService `json:"services"`

	Healthcheck *HealthcheckConfig `json:"healthcheck_config,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OAuthType returns the connector's declared oauth_type metadata value, or
// "" if none is set.
func (c *Connector) OAuthType() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata["oauth_type"]
}

// Validate checks required fields.
func (c *Connector) Validate() error {
	if c.Name == "" {
		return corerr.Validation("connector: name must not be empty")
	}
	return nil
}
