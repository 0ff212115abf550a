// Package keyring implements the OS-keyring port as a single file sealed to
// the current user, since no OS-keyring library appears anywhere in the
// example corpus this module is grounded on.
package keyring

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/personacore/core/internal/domain/corerr"
)

const filePerm = 0o600

// FileKeyring stores (service, key) -> value pairs as JSON in a single file
// under a state directory, guarded against concurrent readers/writers within
// this process by an in-memory mutex.
type FileKeyring struct {
	path string
	mu   sync.Mutex
}

// entryKey joins service and key into the flat map key used on disk.
func entryKey(service, key string) string { return service + "\x00" + key }

// New returns a FileKeyring backed by path. Callers typically pass
// DefaultPath().
func New(path string) *FileKeyring {
	return &FileKeyring{path: path}
}

// DefaultPath returns $XDG_STATE_HOME/personacore/master.key, falling back
// to $HOME/.local/state/personacore/master.key when XDG_STATE_HOME is unset.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", corerr.IO("keyring: failed to resolve home directory", err)
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "personacore", "master.key"), nil
}

func (k *FileKeyring) load() (map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, corerr.IO("keyring: failed to read key file", err)
	}
	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, corerr.Serde("keyring: key file is not valid JSON", err)
	}
	return entries, nil
}

func (k *FileKeyring) save(entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return corerr.IO("keyring: failed to create key directory", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return corerr.Serde("keyring: failed to encode key file", err)
	}
	if err := os.WriteFile(k.path, data, filePerm); err != nil {
		return corerr.IO("keyring: failed to write key file", err)
	}
	return nil
}

// Get returns the stored value for (service, key), or found=false if absent.
func (k *FileKeyring) Get(_ context.Context, service, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := k.load()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[entryKey(service, key)]
	return v, ok, nil
}

// Set stores value under (service, key), creating the file with 0600
// permissions if it does not already exist.
func (k *FileKeyring) Set(_ context.Context, service, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := k.load()
	if err != nil {
		return err
	}
	entries[entryKey(service, key)] = value
	return k.save(entries)
}

// Delete removes the value stored under (service, key), a no-op if absent.
func (k *FileKeyring) Delete(_ context.Context, service, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	entries, err := k.load()
	if err != nil {
		return err
	}
	delete(entries, entryKey(service, key))
	return k.save(entries)
}
