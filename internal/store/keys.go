package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acalanto-app/sentinela/internal/vault"
)

// KeyStore implements vault.Store on the encryption_keys table.
type KeyStore struct {
	db *sql.DB
}

// Keys returns the encryption-key view of the store.
func (s *Store) Keys() *KeyStore {
	return &KeyStore{db: s.db}
}

func statusFromString(v string) vault.KeyStatus {
	switch v {
	case "active":
		return vault.StatusActive
	case "deprecated":
		return vault.StatusDeprecated
	case "revoked":
		return vault.StatusRevoked
	default:
		return 0
	}
}

func scanKey(row interface{ Scan(...any) error }) (*vault.Key, error) {
	var (
		k         vault.Key
		status    string
		rotatedAt sql.NullTime
	)
	err := row.Scan(&k.UserID, &k.KeyID, &k.EncryptedKey, &k.Algorithm,
		&status, &k.CreatedAt, &rotatedAt)
	if err != nil {
		return nil, err
	}
	k.Status = statusFromString(status)
	if rotatedAt.Valid {
		k.RotatedAt = rotatedAt.Time
	}
	return &k, nil
}

func (s *KeyStore) GetActive(ctx context.Context, userID string) (*vault.Key, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, `
		SELECT user_id, key_id, encrypted_key, algorithm, status, created_at, rotated_at
		FROM encryption_keys WHERE user_id = $1 AND status = 'active'`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("KeyStore.GetActive: %w", err)
	}
	return k, nil
}

func (s *KeyStore) GetByID(ctx context.Context, userID, keyID string) (*vault.Key, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, `
		SELECT user_id, key_id, encrypted_key, algorithm, status, created_at, rotated_at
		FROM encryption_keys WHERE user_id = $1 AND key_id = $2`,
		userID, keyID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("KeyStore.GetByID: %w", err)
	}
	return k, nil
}

func (s *KeyStore) Insert(ctx context.Context, key *vault.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encryption_keys (user_id, key_id, encrypted_key, algorithm, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		key.UserID, key.KeyID, key.EncryptedKey, key.Algorithm,
		key.Status.String(), key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("KeyStore.Insert: %w", err)
	}
	return nil
}

func (s *KeyStore) SetStatus(ctx context.Context, userID, keyID string, status vault.KeyStatus, rotatedAt time.Time) error {
	var rotated sql.NullTime
	if !rotatedAt.IsZero() {
		rotated = sql.NullTime{Time: rotatedAt, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE encryption_keys
		SET status = $3, rotated_at = COALESCE($4, rotated_at)
		WHERE user_id = $1 AND key_id = $2`,
		userID, keyID, status.String(), rotated,
	)
	if err != nil {
		return fmt.Errorf("KeyStore.SetStatus: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *KeyStore) RevokeAll(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE encryption_keys SET status = 'revoked' WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("KeyStore.RevokeAll: %w", err)
	}
	return nil
}

func (s *KeyStore) HasRevoked(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM encryption_keys WHERE user_id = $1 AND status = 'revoked')`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("KeyStore.HasRevoked: %w", err)
	}
	return exists, nil
}

func (s *KeyStore) ListActiveOlderThan(ctx context.Context, cutoff time.Time) ([]*vault.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, key_id, encrypted_key, algorithm, status, created_at, rotated_at
		FROM encryption_keys WHERE status = 'active' AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("KeyStore.ListActiveOlderThan: %w", err)
	}
	defer rows.Close()

	var out []*vault.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("KeyStore.ListActiveOlderThan: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
