package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/personacore/core/internal/domain/credential"
	"github.com/personacore/core/internal/port/store"
)

type fakeKeyring struct {
	values map[string]string
}

func (k *fakeKeyring) key(service, name string) string { return service + "/" + name }

func (k *fakeKeyring) Get(ctx context.Context, service, key string) (string, bool, error) {
	v, ok := k.values[k.key(service, key)]
	return v, ok, nil
}

func (k *fakeKeyring) Set(ctx context.Context, service, key, value string) error {
	if k.values == nil {
		k.values = make(map[string]string)
	}
	k.values[k.key(service, key)] = value
	return nil
}

func (k *fakeKeyring) Delete(ctx context.Context, service, key string) error {
	delete(k.values, k.key(service, key))
	return nil
}

type fakeStore struct {
	store.Store
	creds   []*credential.Credential
	updated []*credential.Credential
}

func (f *fakeStore) ListPlaintextCredentials(ctx context.Context) ([]*credential.Credential, error) {
	return f.creds, nil
}

func (f *fakeStore) UpdateCredential(ctx context.Context, c *credential.Credential) error {
	f.updated = append(f.updated, c)
	return nil
}

func TestVault_SealThenOpenRoundTrips(t *testing.T) {
	kr := &fakeKeyring{}
	v, err := Open(context.Background(), kr, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}

	fields := map[string]string{"api_key": "sk-test-123"}
	ct, nonce, err := v.Seal(fields)
	if err != nil {
		t.Fatal(err)
	}

	c := &credential.Credential{CiphertextB64: ct, NonceB64: nonce}
	got, err := v.Open(c)
	if err != nil {
		t.Fatal(err)
	}
	if got["api_key"] != "sk-test-123" {
		t.Fatalf("expected round-tripped api_key, got %+v", got)
	}
}

func TestVault_OpenPlaintextSentinelPassesThroughJSON(t *testing.T) {
	kr := &fakeKeyring{}
	v, err := Open(context.Background(), kr, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}

	c := &credential.Credential{
		CiphertextB64: `{"api_key":"legacy-value"}`,
		NonceB64:      credential.PlaintextNonce,
	}
	got, err := v.Open(c)
	if err != nil {
		t.Fatal(err)
	}
	if got["api_key"] != "legacy-value" {
		t.Fatalf("expected legacy plaintext value, got %+v", got)
	}
}

func TestVault_OpenCorruptedCiphertextReturnsNeedsResave(t *testing.T) {
	kr := &fakeKeyring{}
	v, err := Open(context.Background(), kr, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}

	c := &credential.Credential{CiphertextB64: "not-valid-base64!!", NonceB64: "also-not-valid!!"}
	_, err = v.Open(c)
	if !errors.Is(err, ErrNeedsResave) {
		t.Fatalf("expected ErrNeedsResave, got %v", err)
	}
}

func TestVault_MasterKeyPersistsAcrossReopen(t *testing.T) {
	kr := &fakeKeyring{}
	v1, err := Open(context.Background(), kr, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}
	ct, nonce, err := v1.Seal(map[string]string{"token": "abc"})
	if err != nil {
		t.Fatal(err)
	}

	v2, err := Open(context.Background(), kr, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := v2.Open(&credential.Credential{CiphertextB64: ct, NonceB64: nonce})
	if err != nil {
		t.Fatal(err)
	}
	if got["token"] != "abc" {
		t.Fatalf("expected decryption with reloaded master key to succeed, got %+v", got)
	}
}

func TestVault_MigratePlaintextReencryptsAndCounts(t *testing.T) {
	kr := &fakeKeyring{}
	fs := &fakeStore{
		creds: []*credential.Credential{
			{ID: "c1", CiphertextB64: `{"api_key":"one"}`, NonceB64: credential.PlaintextNonce},
			{ID: "c2", CiphertextB64: "not-json-at-all-but-not-parseable-either", NonceB64: credential.PlaintextNonce},
		},
	}
	v, err := Open(context.Background(), kr, fs)
	if err != nil {
		t.Fatal(err)
	}

	migrated, failed, err := v.MigratePlaintext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if migrated != 1 || failed != 1 {
		t.Fatalf("expected 1 migrated and 1 failed, got migrated=%d failed=%d", migrated, failed)
	}
	if len(fs.updated) != 1 || fs.updated[0].ID != "c1" {
		t.Fatalf("expected only c1 to be updated, got %+v", fs.updated)
	}
	if fs.updated[0].IsPlaintext() {
		t.Error("expected migrated credential to no longer carry the plaintext sentinel")
	}
}
