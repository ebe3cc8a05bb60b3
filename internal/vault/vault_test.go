package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testMaster(t *testing.T) []byte {
	t.Helper()
	return MasterKeyFromPassphrase("test-passphrase", "test-salt")
}

func newTestVault(t *testing.T) (*Vault, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(store, testMaster(t), zap.NewNop()), store
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	plaintexts := []string{
		"mensagem curta",
		"",
		"texto com acentuação: coração, bebê, mãe",
		"linha1\nlinha2\nlinha3",
	}

	for _, plain := range plaintexts {
		payload, err := v.Encrypt(ctx, "user-1", plain)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plain, err)
		}
		if payload.KeyID == PassthroughKeyID {
			t.Fatal("expected real encryption, got pass-through")
		}
		if payload.Ciphertext == plain && plain != "" {
			t.Error("ciphertext equals plaintext")
		}

		got, err := v.Decrypt(ctx, "user-1", payload)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plain {
			t.Errorf("round trip mismatch: got %q want %q", got, plain)
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	a, err := v.Encrypt(ctx, "user-1", "mesma mensagem")
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt(ctx, "user-1", "mesma mensagem")
	if err != nil {
		t.Fatal(err)
	}
	if a.IV == b.IV {
		t.Error("IV reused across encryptions")
	}
	if a.Ciphertext == b.Ciphertext {
		t.Error("identical ciphertext for two encryptions of the same plaintext")
	}
}

func TestEncrypt_LazilyProvisionsKey(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	if k, _ := store.GetActive(ctx, "user-1"); k != nil {
		t.Fatal("no key should exist yet")
	}
	if _, err := v.Encrypt(ctx, "user-1", "oi"); err != nil {
		t.Fatal(err)
	}
	key, _ := store.GetActive(ctx, "user-1")
	if key == nil {
		t.Fatal("encrypt should have provisioned an active key")
	}
	if key.Algorithm != Algorithm {
		t.Errorf("algorithm = %q, want %q", key.Algorithm, Algorithm)
	}
	if len(key.EncryptedKey) <= keySize {
		t.Error("stored key material does not look wrapped")
	}
}

func TestRotate_OldCiphertextStaysReadable(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	before, err := v.Encrypt(ctx, "user-1", "mensagem antiga")
	if err != nil {
		t.Fatal(err)
	}

	newKey, err := v.Rotate(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if newKey.KeyID == before.KeyID {
		t.Fatal("rotation produced the same key id")
	}

	// Old ciphertext decrypts through the deprecated key.
	got, err := v.Decrypt(ctx, "user-1", before)
	if err != nil {
		t.Fatalf("decrypt pre-rotation payload: %v", err)
	}
	if got != "mensagem antiga" {
		t.Errorf("got %q", got)
	}

	// New encryptions use the new key.
	after, err := v.Encrypt(ctx, "user-1", "mensagem nova")
	if err != nil {
		t.Fatal(err)
	}
	if after.KeyID != newKey.KeyID {
		t.Errorf("new payload key id = %s, want %s", after.KeyID, newKey.KeyID)
	}
	if got, err := v.Decrypt(ctx, "user-1", after); err != nil || got != "mensagem nova" {
		t.Errorf("post-rotation decrypt: %q, %v", got, err)
	}

	// Exactly one active key remains.
	old, _ := store.GetByID(ctx, "user-1", before.KeyID)
	if old.Status != StatusDeprecated {
		t.Errorf("old key status = %s, want deprecated", old.Status)
	}
	if old.RotatedAt.IsZero() {
		t.Error("deprecated key missing RotatedAt")
	}
}

func TestRevoke_Terminal(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	payload, err := v.Encrypt(ctx, "user-1", "segredo")
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Revoke(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Encrypt(ctx, "user-1", "de novo"); !errors.Is(err, ErrRevoked) {
		t.Errorf("encrypt after revoke: err = %v, want ErrRevoked", err)
	}
	if _, err := v.Decrypt(ctx, "user-1", payload); !errors.Is(err, ErrRevoked) {
		t.Errorf("decrypt with revoked key: err = %v, want ErrRevoked", err)
	}
	if _, err := v.Rotate(ctx, "user-1"); !errors.Is(err, ErrRevoked) {
		t.Errorf("rotate after revoke: err = %v, want ErrRevoked", err)
	}
	if _, err := v.GenerateKey(ctx, "user-1"); !errors.Is(err, ErrRevoked) {
		t.Errorf("generate after revoke: err = %v, want ErrRevoked", err)
	}
}

func TestDecrypt_TamperDetected(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	payload, err := v.Encrypt(ctx, "user-1", "dado sensível")
	if err != nil {
		t.Fatal(err)
	}

	tampered := payload
	tampered.AuthTag = payload.IV + payload.AuthTag[len(payload.IV):] // corrupt the tag
	if len(tampered.AuthTag) != len(payload.AuthTag) {
		tampered.AuthTag = payload.AuthTag[:len(payload.AuthTag)-4] + "AAA="
	}
	if _, err := v.Decrypt(ctx, "user-1", tampered); err == nil {
		t.Error("tampered payload decrypted successfully")
	}
}

func TestNeedsRotation(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	if need, _ := v.NeedsRotation(ctx, "user-1"); need {
		t.Error("user without keys should not need rotation")
	}

	if _, err := v.Encrypt(ctx, "user-1", "oi"); err != nil {
		t.Fatal(err)
	}
	if need, _ := v.NeedsRotation(ctx, "user-1"); need {
		t.Error("fresh key should not need rotation")
	}

	// Age the key past the limit.
	key, _ := store.GetActive(ctx, "user-1")
	store.mu.Lock()
	for _, k := range store.keys {
		if k.KeyID == key.KeyID {
			k.CreatedAt = time.Now().Add(-v.maxKeyAge - time.Hour)
		}
	}
	store.mu.Unlock()

	if need, _ := v.NeedsRotation(ctx, "user-1"); !need {
		t.Error("aged key should need rotation")
	}

	rotated, err := v.RotateExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rotated != 1 {
		t.Errorf("rotated = %d, want 1", rotated)
	}
	if need, _ := v.NeedsRotation(ctx, "user-1"); need {
		t.Error("rotation should reset the age clock")
	}
}

func TestPassthroughMode(t *testing.T) {
	v := New(NewMemoryStore(), nil, zap.NewNop())
	ctx := context.Background()

	payload, err := v.Encrypt(ctx, "user-1", "texto aberto")
	if err != nil {
		t.Fatal(err)
	}
	if payload.KeyID != PassthroughKeyID {
		t.Errorf("key id = %q, want %q", payload.KeyID, PassthroughKeyID)
	}
	if payload.Ciphertext != "texto aberto" {
		t.Errorf("pass-through must keep plaintext, got %q", payload.Ciphertext)
	}

	got, err := v.Decrypt(ctx, "user-1", payload)
	if err != nil || got != "texto aberto" {
		t.Errorf("pass-through decrypt: %q, %v", got, err)
	}
	if v.Available() {
		t.Error("vault without master key must report unavailable")
	}
}

func TestMasterKeyFromHex(t *testing.T) {
	if _, err := MasterKeyFromHex("deadbeef"); err == nil {
		t.Error("short key should be rejected")
	}
	if _, err := MasterKeyFromHex("zz"); err == nil {
		t.Error("non-hex should be rejected")
	}
	key, err := MasterKeyFromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil || len(key) != 32 {
		t.Errorf("valid 32-byte hex rejected: %v", err)
	}
}

// outageStore fails every call, simulating an unreachable key database.
type outageStore struct{}

var errStoreDown = errors.New("store down")

func (outageStore) GetActive(context.Context, string) (*Key, error)       { return nil, errStoreDown }
func (outageStore) GetByID(context.Context, string, string) (*Key, error) { return nil, errStoreDown }
func (outageStore) Insert(context.Context, *Key) error                    { return errStoreDown }
func (outageStore) SetStatus(context.Context, string, string, KeyStatus, time.Time) error {
	return errStoreDown
}
func (outageStore) RevokeAll(context.Context, string) error        { return errStoreDown }
func (outageStore) HasRevoked(context.Context, string) (bool, error) { return false, errStoreDown }
func (outageStore) ListActiveOlderThan(context.Context, time.Time) ([]*Key, error) {
	return nil, errStoreDown
}

func TestEncrypt_PassesThroughOnStoreOutage(t *testing.T) {
	v := New(outageStore{}, testMaster(t), zap.NewNop())
	ctx := context.Background()

	payload, err := v.Encrypt(ctx, "user-1", "relato sensível")
	if err != nil {
		t.Fatalf("encrypt during outage must not fail: %v", err)
	}
	if payload.KeyID != PassthroughKeyID {
		t.Errorf("key id = %q, want %q", payload.KeyID, PassthroughKeyID)
	}
	if payload.Ciphertext != "relato sensível" {
		t.Errorf("pass-through must keep plaintext, got %q", payload.Ciphertext)
	}

	// The pass-through flag in the payload makes it readable later even
	// though no key exists.
	got, err := v.Decrypt(ctx, "user-1", payload)
	if err != nil || got != "relato sensível" {
		t.Errorf("pass-through decrypt: %q, %v", got, err)
	}

	// Decrypt of a real payload cannot proceed without key material.
	real := EncryptedPayload{Ciphertext: "x", IV: "x", AuthTag: "x", KeyID: "some-key"}
	if _, err := v.Decrypt(ctx, "user-1", real); err == nil {
		t.Error("decrypt during outage should fail, not return garbage")
	}
}

func TestEncrypt_InsertFailureAlsoPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	v := New(&insertFailStore{Store: store}, testMaster(t), zap.NewNop())

	payload, err := v.Encrypt(context.Background(), "user-1", "oi")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if payload.KeyID != PassthroughKeyID {
		t.Errorf("key id = %q, want %q", payload.KeyID, PassthroughKeyID)
	}
}

// insertFailStore reads fine but cannot persist new keys.
type insertFailStore struct {
	Store
}

func (s *insertFailStore) Insert(context.Context, *Key) error { return errStoreDown }
