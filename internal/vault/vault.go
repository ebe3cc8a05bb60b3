// Package vault manages per-user symmetric keys and field-level
// encryption at rest. Data keys are AES-256-GCM and are stored only in
// wrapped form (encrypted by the master key); unwrapped material lives
// exclusively in process memory.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/acalanto-app/sentinela/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Algorithm is the only cipher this vault speaks.
	Algorithm = "aes-256-gcm"

	// PassthroughKeyID marks a payload that was never encrypted
	// because the vault is running degraded. Callers must check KeyID
	// to know whether data is actually protected.
	PassthroughKeyID = "none"

	keySize   = 32
	nonceSize = 12
	tagSize   = 16

	// DefaultMaxKeyAge is how old an active key may grow before
	// NeedsRotation reports true.
	DefaultMaxKeyAge = 90 * 24 * time.Hour

	storeTimeout = 2 * time.Second

	pbkdf2Iterations = 600_000
)

var (
	ErrRevoked     = errors.New("vault: user keys are revoked")
	ErrKeyNotFound = errors.New("vault: key not found")
	ErrBadPayload  = errors.New("vault: malformed encrypted payload")
)

// EncryptedPayload is the wire/storage form of an encrypted field. All
// binary parts are base64. A fresh random 96-bit IV is generated per
// encryption and never reused for a given key.
type EncryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	KeyID      string `json:"key_id"`
}

// MasterKeyFromHex parses a 32-byte master key from its hex form.
func MasterKeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("MasterKeyFromHex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("MasterKeyFromHex: want %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// MasterKeyFromPassphrase derives a 32-byte master key from a
// passphrase via PBKDF2-SHA256. The salt should be unique per
// installation.
func MasterKeyFromPassphrase(passphrase, salt string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iterations, keySize, sha256.New)
}

// cachedKey holds an unwrapped active data key. Only the unwrapped
// object is cached, never the wrapped/serialized form.
type cachedKey struct {
	keyID    string
	material []byte
}

// Vault is the per-user key lifecycle manager. Safe for concurrent use;
// the key cache is guarded by a read-write lock since reads dominate.
type Vault struct {
	store     Store
	master    []byte // nil = degraded pass-through mode
	maxKeyAge time.Duration
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]*cachedKey // userID -> unwrapped active key
}

// New creates a vault. A nil master key puts the vault in pass-through
// mode: Encrypt/Decrypt degrade to clearly-flagged plaintext instead of
// crashing the conversation flow.
func New(store Store, master []byte, logger *zap.Logger) *Vault {
	return &Vault{
		store:     store,
		master:    master,
		maxKeyAge: DefaultMaxKeyAge,
		logger:    logger,
		cache:     make(map[string]*cachedKey),
	}
}

// GenerateKey provisions a fresh active data key for the user, or
// returns the existing active key's record if one exists (at most one
// Active key per user, always).
func (v *Vault) GenerateKey(ctx context.Context, userID string) (*Key, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if revoked, err := v.store.HasRevoked(sctx, userID); err != nil {
		return nil, fmt.Errorf("GenerateKey: %w", err)
	} else if revoked {
		return nil, ErrRevoked
	}

	if existing, err := v.store.GetActive(sctx, userID); err != nil {
		return nil, fmt.Errorf("GenerateKey: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	key, _, err := v.mintKey(sctx, userID)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// mintKey creates, wraps and persists a new Active key, returning the
// record and the unwrapped material.
func (v *Vault) mintKey(ctx context.Context, userID string) (*Key, []byte, error) {
	material := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, nil, fmt.Errorf("mintKey: %w", err)
	}
	wrapped, err := v.wrap(material)
	if err != nil {
		return nil, nil, fmt.Errorf("mintKey: %w", err)
	}

	key := &Key{
		UserID:       userID,
		KeyID:        uuid.New().String(),
		EncryptedKey: wrapped,
		Algorithm:    Algorithm,
		CreatedAt:    time.Now(),
		Status:       StatusActive,
	}
	if err := v.store.Insert(ctx, key); err != nil {
		return nil, nil, fmt.Errorf("mintKey: %w", err)
	}
	return key, material, nil
}

// Encrypt encrypts plaintext under the user's active key, lazily
// provisioning one on first use. With no master key configured, or
// when the key store cannot be reached, the call degrades to a
// clearly-flagged pass-through; only revoked users fail.
func (v *Vault) Encrypt(ctx context.Context, userID, plaintext string) (EncryptedPayload, error) {
	if v.master == nil {
		v.logger.Warn("vault in pass-through mode, data stored unencrypted")
		return v.passthrough(plaintext), nil
	}

	keyID, material, err := v.activeKey(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRevoked) {
			return EncryptedPayload{}, err
		}
		v.logger.Warn("key store unavailable, data stored unencrypted",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return v.passthrough(plaintext), nil
	}

	gcm, err := newGCM(material)
	if err != nil {
		return EncryptedPayload{}, fmt.Errorf("Encrypt: %w", err)
	}

	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedPayload{}, fmt.Errorf("Encrypt: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return EncryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		KeyID:      keyID,
	}, nil
}

// Decrypt reverses Encrypt using the payload's key id. Deprecated keys
// still decrypt (old ciphertexts stay readable after rotation); revoked
// keys fail.
func (v *Vault) Decrypt(ctx context.Context, userID string, payload EncryptedPayload) (string, error) {
	if payload.KeyID == PassthroughKeyID {
		obs.VaultPassthrough.Inc()
		return payload.Ciphertext, nil
	}
	if v.master == nil {
		return "", fmt.Errorf("Decrypt: %w: no master key to unwrap %q", ErrKeyNotFound, payload.KeyID)
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key, err := v.store.GetByID(sctx, userID, payload.KeyID)
	if err != nil {
		return "", fmt.Errorf("Decrypt: %w", err)
	}
	if key == nil {
		return "", ErrKeyNotFound
	}
	if key.Status == StatusRevoked {
		return "", ErrRevoked
	}

	material, err := v.unwrap(key.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("Decrypt: %w", err)
	}
	gcm, err := newGCM(material)
	if err != nil {
		return "", fmt.Errorf("Decrypt: %w", err)
	}

	ct, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", ErrBadPayload
	}
	iv, err := base64.StdEncoding.DecodeString(payload.IV)
	if err != nil || len(iv) != nonceSize {
		return "", ErrBadPayload
	}
	tag, err := base64.StdEncoding.DecodeString(payload.AuthTag)
	if err != nil || len(tag) != tagSize {
		return "", ErrBadPayload
	}

	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("Decrypt: authentication failed: %w", err)
	}
	return string(plain), nil
}

// Rotate atomically demotes the user's active key to Deprecated and
// activates a fresh one. Already-stored ciphertexts are NOT
// re-encrypted; they stay readable through the deprecated key id.
func (v *Vault) Rotate(ctx context.Context, userID string) (*Key, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if revoked, err := v.store.HasRevoked(sctx, userID); err != nil {
		return nil, fmt.Errorf("Rotate: %w", err)
	} else if revoked {
		return nil, ErrRevoked
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	current, err := v.store.GetActive(sctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Rotate: %w", err)
	}
	if current != nil {
		if err := v.store.SetStatus(sctx, userID, current.KeyID, StatusDeprecated, time.Now()); err != nil {
			return nil, fmt.Errorf("Rotate: %w", err)
		}
	}

	key, _, err := v.mintKey(sctx, userID)
	if err != nil {
		return nil, err
	}
	delete(v.cache, userID)
	return key, nil
}

// Revoke is terminal: every key the user owns becomes Revoked and
// subsequent Encrypt/Decrypt calls fail instead of silently
// re-provisioning.
func (v *Vault) Revoke(ctx context.Context, userID string) error {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.RevokeAll(sctx, userID); err != nil {
		return fmt.Errorf("Revoke: %w", err)
	}
	delete(v.cache, userID)
	return nil
}

// NeedsRotation reports whether the user's active key is older than the
// configured maximum age. A user with no key needs no rotation.
func (v *Vault) NeedsRotation(ctx context.Context, userID string) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key, err := v.store.GetActive(sctx, userID)
	if err != nil {
		return false, fmt.Errorf("NeedsRotation: %w", err)
	}
	if key == nil {
		return false, nil
	}
	return time.Since(key.CreatedAt) > v.maxKeyAge, nil
}

// RotateExpired rotates every active key past the maximum age and
// returns how many were rotated. Called from the daily maintenance job.
func (v *Vault) RotateExpired(ctx context.Context) (int, error) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	expired, err := v.store.ListActiveOlderThan(sctx, time.Now().Add(-v.maxKeyAge))
	if err != nil {
		return 0, fmt.Errorf("RotateExpired: %w", err)
	}

	rotated := 0
	for _, key := range expired {
		if _, err := v.Rotate(ctx, key.UserID); err != nil {
			v.logger.Warn("key rotation failed",
				zap.String("user_id", key.UserID),
				zap.Error(err),
			)
			continue
		}
		rotated++
	}
	return rotated, nil
}

// Available reports whether the vault can do real encryption.
func (v *Vault) Available() bool {
	return v.master != nil
}

// activeKey returns the user's active key id and unwrapped material,
// consulting the in-memory cache first and lazily provisioning a key
// when the user has none.
func (v *Vault) activeKey(ctx context.Context, userID string) (string, []byte, error) {
	v.mu.RLock()
	if ck, ok := v.cache[userID]; ok {
		v.mu.RUnlock()
		return ck.keyID, ck.material, nil
	}
	v.mu.RUnlock()

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if revoked, err := v.store.HasRevoked(sctx, userID); err != nil {
		return "", nil, fmt.Errorf("activeKey: %w", err)
	} else if revoked {
		return "", nil, ErrRevoked
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if ck, ok := v.cache[userID]; ok {
		return ck.keyID, ck.material, nil
	}

	key, err := v.store.GetActive(sctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("activeKey: %w", err)
	}

	var material []byte
	if key == nil {
		key, material, err = v.mintKey(sctx, userID)
		if err != nil {
			return "", nil, err
		}
	} else {
		material, err = v.unwrap(key.EncryptedKey)
		if err != nil {
			return "", nil, fmt.Errorf("activeKey: %w", err)
		}
	}

	v.cache[userID] = &cachedKey{keyID: key.KeyID, material: material}
	return key.KeyID, material, nil
}

func (v *Vault) passthrough(plaintext string) EncryptedPayload {
	obs.VaultPassthrough.Inc()
	return EncryptedPayload{Ciphertext: plaintext, KeyID: PassthroughKeyID}
}

// wrap encrypts data-key material under the master key (nonce is
// prepended to the sealed bytes).
func (v *Vault) wrap(material []byte) ([]byte, error) {
	gcm, err := newGCM(v.master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return append(nonce, gcm.Seal(nil, nonce, material, nil)...), nil
}

// unwrap reverses wrap.
func (v *Vault) unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < nonceSize+tagSize {
		return nil, ErrBadPayload
	}
	gcm, err := newGCM(v.master)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, wrapped[:nonceSize], wrapped[nonceSize:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
