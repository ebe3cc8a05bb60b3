package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acalanto-app/sentinela/internal/quota"
)

// RateLimitStore implements quota.Store on the rate_limits table.
// Request timestamps are stored as a JSONB array of unix milliseconds.
type RateLimitStore struct {
	db *sql.DB
}

// RateLimits returns the rate-limit view of the store.
func (s *Store) RateLimits() *RateLimitStore {
	return &RateLimitStore{db: s.db}
}

func encodeRequests(ts []time.Time) ([]byte, error) {
	ms := make([]int64, len(ts))
	for i, t := range ts {
		ms[i] = t.UnixMilli()
	}
	return json.Marshal(ms)
}

func decodeRequests(raw []byte) ([]time.Time, error) {
	var ms []int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, err
	}
	ts := make([]time.Time, len(ms))
	for i, m := range ms {
		ts[i] = time.UnixMilli(m).UTC()
	}
	return ts, nil
}

func (s *RateLimitStore) Get(ctx context.Context, userID, endpoint string) (*quota.Record, error) {
	var (
		rec          quota.Record
		raw          []byte
		blockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, endpoint, requests, blocked_until, updated_at
		FROM rate_limits WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	).Scan(&rec.UserID, &rec.Endpoint, &raw, &blockedUntil, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("RateLimitStore.Get: %w", err)
	}
	if rec.Requests, err = decodeRequests(raw); err != nil {
		return nil, fmt.Errorf("RateLimitStore.Get: %w", err)
	}
	if blockedUntil.Valid {
		rec.BlockedUntil = blockedUntil.Time
	}
	return &rec, nil
}

func (s *RateLimitStore) Put(ctx context.Context, rec *quota.Record) error {
	raw, err := encodeRequests(rec.Requests)
	if err != nil {
		return fmt.Errorf("RateLimitStore.Put: %w", err)
	}
	var blockedUntil sql.NullTime
	if !rec.BlockedUntil.IsZero() {
		blockedUntil = sql.NullTime{Time: rec.BlockedUntil, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (user_id, endpoint, requests, blocked_until, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET
			requests      = EXCLUDED.requests,
			blocked_until = EXCLUDED.blocked_until,
			updated_at    = EXCLUDED.updated_at`,
		rec.UserID, rec.Endpoint, raw, blockedUntil, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("RateLimitStore.Put: %w", err)
	}
	return nil
}

func (s *RateLimitStore) Delete(ctx context.Context, userID, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("RateLimitStore.Delete: %w", err)
	}
	return nil
}

func (s *RateLimitStore) ListByUser(ctx context.Context, userID string) ([]*quota.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, endpoint, requests, blocked_until, updated_at
		FROM rate_limits WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("RateLimitStore.ListByUser: %w", err)
	}
	defer rows.Close()

	var out []*quota.Record
	for rows.Next() {
		var (
			rec          quota.Record
			raw          []byte
			blockedUntil sql.NullTime
		)
		if err := rows.Scan(&rec.UserID, &rec.Endpoint, &raw, &blockedUntil, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("RateLimitStore.ListByUser: %w", err)
		}
		if rec.Requests, err = decodeRequests(raw); err != nil {
			return nil, fmt.Errorf("RateLimitStore.ListByUser: %w", err)
		}
		if blockedUntil.Valid {
			rec.BlockedUntil = blockedUntil.Time
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *RateLimitStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("RateLimitStore.DeleteStale: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
