package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Client represents a row in the api_clients table. One row per
// consumer service allowed to call the middleware.
type Client struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClientStore manages API clients.
type ClientStore struct {
	db *sql.DB
}

// Clients returns the API-client view of the store.
func (s *Store) Clients() *ClientStore {
	return &ClientStore{db: s.db}
}

// GenerateAPIKey creates a new ssk_ API key with its bcrypt hash and
// prefix. Returns (fullKey, hash, prefix, error). The fullKey is shown
// to the caller once and never stored.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "ssk_" + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "ssk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateClient inserts a new API client. Returns the client and the
// plaintext key (shown once).
func (s *ClientStore) CreateClient(ctx context.Context, name string) (*Client, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateClient: %w", err)
	}

	var c Client
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_clients (id, name, api_key_hash, api_key_prefix)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, api_key_hash, api_key_prefix, disabled, created_at, updated_at`,
		uuid.NewString(), name, keyHash, keyPrefix,
	).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Disabled,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateClient: %w", err)
	}
	return &c, fullKey, nil
}

// LookupByPrefix finds a client by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify. Returns
// (nil, nil) when no client matches.
func (s *ClientStore) LookupByPrefix(ctx context.Context, prefix string) (*Client, error) {
	var c Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, disabled, created_at, updated_at
		FROM api_clients WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Disabled,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &c, nil
}

// SetDisabled enables or disables a client.
func (s *ClientStore) SetDisabled(ctx context.Context, id string, disabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_clients SET disabled = $2, updated_at = now() WHERE id = $1`,
		id, disabled,
	)
	if err != nil {
		return fmt.Errorf("SetDisabled: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
