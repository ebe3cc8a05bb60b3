// Package store provides PostgreSQL persistence for rate-limit windows,
// wrapped encryption keys, and API clients.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
	user_id       TEXT        NOT NULL,
	endpoint      TEXT        NOT NULL,
	requests      JSONB       NOT NULL DEFAULT '[]'::jsonb,
	blocked_until TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, endpoint)
);

CREATE TABLE IF NOT EXISTS encryption_keys (
	user_id       TEXT        NOT NULL,
	key_id        TEXT        NOT NULL,
	encrypted_key BYTEA       NOT NULL,
	algorithm     TEXT        NOT NULL,
	status        TEXT        NOT NULL DEFAULT 'active',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	rotated_at    TIMESTAMPTZ,
	PRIMARY KEY (user_id, key_id)
);

CREATE INDEX IF NOT EXISTS idx_encryption_keys_active
	ON encryption_keys (user_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS api_clients (
	id             TEXT        PRIMARY KEY,
	name           TEXT        NOT NULL,
	api_key_hash   TEXT        NOT NULL,
	api_key_prefix TEXT        NOT NULL,
	disabled       BOOLEAN     NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_clients_prefix ON api_clients (api_key_prefix);
`

// Store provides access to the PostgreSQL database.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL via the pgx stdlib driver, verifies the
// connection, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
