// Package keyring defines the OS-keyring port used to seal the credential
// vault's process-wide master key.
package keyring

import "context"

// Keyring is the secret-storage port: (service, key) -> value, set, delete.
type Keyring interface {
	Get(ctx context.Context, service, key string) (string, bool, error)
	Set(ctx context.Context, service, key, value string) error
	Delete(ctx context.Context, service, key string) error
}
