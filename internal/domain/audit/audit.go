// Package audit defines the append-only audit log entry recorded for every
// credential operation.
package audit

import "time"

// Operation enumerates the recorded credential operations.
type Operation string

const (
	OpCreate            Operation = "create"
	OpUpdate            Operation = "update"
	OpDelete            Operation = "delete"
	OpDecrypt           Operation = "decrypt"
	OpHealthcheck       Operation = "healthcheck"
	OpRotate            Operation = "rotate"
	OpGitlabProvision   Operation = "gitlab_provision"
)

// Entry is an append-only audit log row.
type Entry struct {
	ID           string    `json:"id"`
	Operation    Operation `json:"operation"`
	CredentialID *string   `json:"credential_id,omitempty"`
	PersonaID    *string   `json:"persona_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
