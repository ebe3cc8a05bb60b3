package vault

import (
	"context"
	"sync"
	"time"
)

// KeyStatus is the lifecycle state of a user key. Revoked is terminal.
type KeyStatus int

const (
	StatusActive KeyStatus = iota + 1
	StatusDeprecated
	StatusRevoked
)

// String returns the lowercase status name.
func (s KeyStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDeprecated:
		return "deprecated"
	case StatusRevoked:
		return "revoked"
	default:
		return "unspecified"
	}
}

// Key is the stored form of a user encryption key. EncryptedKey is the
// wrapped material — never the raw key.
type Key struct {
	UserID       string
	KeyID        string
	EncryptedKey []byte
	Algorithm    string
	CreatedAt    time.Time
	RotatedAt    time.Time // zero until deprecated
	Status       KeyStatus
}

// Store persists wrapped user keys. Get methods return (nil, nil) when
// nothing matches.
type Store interface {
	GetActive(ctx context.Context, userID string) (*Key, error)
	GetByID(ctx context.Context, userID, keyID string) (*Key, error)
	Insert(ctx context.Context, key *Key) error
	SetStatus(ctx context.Context, userID, keyID string, status KeyStatus, rotatedAt time.Time) error
	RevokeAll(ctx context.Context, userID string) error
	HasRevoked(ctx context.Context, userID string) (bool, error)
	ListActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*Key, error)
}

// MemoryStore is the in-memory fallback key store, used when no
// database is configured and by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	keys []*Key
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) GetActive(_ context.Context, userID string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.UserID == userID && k.Status == StatusActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetByID(_ context.Context, userID, keyID string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.UserID == userID && k.KeyID == keyID {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Insert(_ context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys = append(s.keys, &cp)
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, userID, keyID string, status KeyStatus, rotatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.UserID == userID && k.KeyID == keyID {
			k.Status = status
			if status == StatusDeprecated {
				k.RotatedAt = rotatedAt
			}
		}
	}
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.UserID == userID {
			k.Status = StatusRevoked
		}
	}
	return nil
}

func (s *MemoryStore) HasRevoked(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.UserID == userID && k.Status == StatusRevoked {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListActiveOlderThan(_ context.Context, cutoff time.Time) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Key
	for _, k := range s.keys {
		if k.Status == StatusActive && k.CreatedAt.Before(cutoff) {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}
