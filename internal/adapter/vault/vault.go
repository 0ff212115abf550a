// Package vault implements the credential vault: a process-wide AES-GCM key
// derived once per install via HKDF and sealed in the OS keyring, used to
// encrypt and decrypt each credential's field bundle at rest.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/credential"
	"github.com/personacore/core/internal/port/keyring"
	"github.com/personacore/core/internal/port/store"
)

const (
	keyringService  = "personacore"
	masterKeyName   = "vault_master_key"
	hkdfInfo        = "personacore-credential-vault"
	masterKeyBytes  = 32

	minPassphraseLen = 12
)

// cipherKey wraps the derived AES-GCM AEAD and is never exposed outside
// this package.
type cipherKey struct {
	aead cipher.AEAD
}

func newCipherKey(masterKey []byte) (*cipherKey, error) {
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo))
	derived := make([]byte, 32)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, corerr.Internal("vault: key derivation failed", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, corerr.Internal("vault: failed to build AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, corerr.Internal("vault: failed to build GCM mode", err)
	}
	return &cipherKey{aead: aead}, nil
}

func (k *cipherKey) seal(plaintext []byte) (ciphertextB64, nonceB64 string, err error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", corerr.Internal("vault: failed to generate nonce", err)
	}
	ct := k.aead.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(nonce), nil
}

// ErrNeedsResave is returned when a credential's ciphertext cannot be
// decrypted (corrupted row, rotated key without migration). The caller
// must never substitute a silent empty field for this.
var ErrNeedsResave = corerr.Auth("vault: credential could not be decrypted; please re-save it", nil)

func (k *cipherKey) open(ciphertextB64, nonceB64 string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, ErrNeedsResave
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, ErrNeedsResave
	}
	pt, err := k.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrNeedsResave
	}
	return pt, nil
}

// Vault seals and opens credential field bundles and migrates plaintext
// rows left over from before encryption was enabled.
type Vault struct {
	Store store.Store
	key   *cipherKey
}

// Open builds a Vault, fetching the process-wide master key from kr or
// generating and storing a fresh one on first run.
func Open(ctx context.Context, kr keyring.Keyring, st store.Store) (*Vault, error) {
	encoded, found, err := kr.Get(ctx, keyringService, masterKeyName)
	if err != nil {
		return nil, corerr.IO("vault: failed to read master key from keyring", err)
	}

	var masterKey []byte
	if found {
		masterKey, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, corerr.Internal("vault: stored master key is not valid base64", err)
		}
	} else {
		masterKey = make([]byte, masterKeyBytes)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, corerr.Internal("vault: failed to generate master key", err)
		}
		if err := kr.Set(ctx, keyringService, masterKeyName, base64.StdEncoding.EncodeToString(masterKey)); err != nil {
			return nil, corerr.IO("vault: failed to persist master key to keyring", err)
		}
	}

	key, err := newCipherKey(masterKey)
	if err != nil {
		return nil, err
	}
	return &Vault{Store: st, key: key}, nil
}

// HasMasterKey reports whether a master key is already sealed in kr, so a
// companion CLI can warn before silently overwriting one.
func HasMasterKey(ctx context.Context, kr keyring.Keyring) (bool, error) {
	_, found, err := kr.Get(ctx, keyringService, masterKeyName)
	if err != nil {
		return false, corerr.IO("vault: failed to read master key from keyring", err)
	}
	return found, nil
}

// Init derives a master key from an operator-supplied passphrase via HKDF
// and seals it into kr, overwriting any existing key. Unlike the key Open
// generates on first run, a passphrase-derived key can be reproduced on a
// new machine from the passphrase alone, which is what makes the companion
// unseal prompt useful for backup/restore.
func Init(ctx context.Context, kr keyring.Keyring, passphrase string) error {
	if len(passphrase) < minPassphraseLen {
		return corerr.Validation(fmt.Sprintf("vault: passphrase must be at least %d characters", minPassphraseLen))
	}

	reader := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo+"-master"))
	masterKey := make([]byte, masterKeyBytes)
	if _, err := io.ReadFull(reader, masterKey); err != nil {
		return corerr.Internal("vault: master key derivation failed", err)
	}

	if err := kr.Set(ctx, keyringService, masterKeyName, base64.StdEncoding.EncodeToString(masterKey)); err != nil {
		return corerr.IO("vault: failed to persist master key to keyring", err)
	}
	return nil
}

// Seal encrypts a credential's decoded field bundle.
func (v *Vault) Seal(fields map[string]string) (ciphertextB64, nonceB64 string, err error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return "", "", corerr.Serde("vault: failed to encode credential fields", err)
	}
	return v.key.seal(body)
}

// Open decrypts c's field bundle, transparently handling the plaintext
// migration sentinel so callers never need to branch on it themselves.
func (v *Vault) Open(c *credential.Credential) (map[string]string, error) {
	var body []byte
	if c.IsPlaintext() {
		body = []byte(c.CiphertextB64)
	} else {
		pt, err := v.key.open(c.CiphertextB64, c.NonceB64)
		if err != nil {
			return nil, err
		}
		body = pt
	}

	var fields map[string]string
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, corerr.Serde("vault: decrypted credential is not valid JSON", err)
	}
	return fields, nil
}

// MigratePlaintext re-encrypts every credential still carrying the
// plaintext sentinel. Failures are counted, logged by the caller, and
// never block: one bad row must not stall the rest of the migration.
func (v *Vault) MigratePlaintext(ctx context.Context) (migrated, failed int, err error) {
	creds, err := v.Store.ListPlaintextCredentials(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, c := range creds {
		fields, openErr := v.Open(c)
		if openErr != nil {
			failed++
			continue
		}
		ciphertext, nonce, sealErr := v.Seal(fields)
		if sealErr != nil {
			failed++
			continue
		}
		c.CiphertextB64 = ciphertext
		c.NonceB64 = nonce
		if updateErr := v.Store.UpdateCredential(ctx, c); updateErr != nil {
			failed++
			continue
		}
		migrated++
	}
	return migrated, failed, nil
}
