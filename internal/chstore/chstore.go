// Package chstore implements the audit store on ClickHouse. Audit logs
// are append-heavy and read rarely, which is exactly the workload
// ClickHouse is built for.
package chstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/acalanto-app/sentinela/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id            String,
	timestamp     DateTime64(3, 'UTC'),
	user_id       String,
	action_type   LowCardinality(String),
	endpoint      LowCardinality(String),
	metadata      String,
	ip_address    String,
	user_agent    String,
	success       UInt8,
	error_message String,
	latency_ms    Float64,
	flags         Array(LowCardinality(String))
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (user_id, timestamp)
`

// AuditStore persists audit entries in the audit_logs table.
type AuditStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

// New opens a ClickHouse connection and ensures the audit_logs table
// exists.
func New(dsn string, logger *zap.Logger) (*AuditStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("chstore: %w", err)
	}
	// ClickHouse Cloud requires TLS; ParseDSN only sets this for
	// ?secure=true DSNs.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("chstore: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("chstore ping: %w", err)
	}
	if err := conn.Exec(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("chstore schema: %w", err)
	}
	return &AuditStore{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (s *AuditStore) Close() error {
	return s.conn.Close()
}

// Ping verifies the connection is alive.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *AuditStore) InsertBatch(ctx context.Context, entries []*audit.Entry) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO audit_logs (
			id, timestamp, user_id, action_type, endpoint,
			metadata, ip_address, user_agent,
			success, error_message, latency_ms, flags
		)
	`)
	if err != nil {
		return fmt.Errorf("chstore prepare batch: %w", err)
	}

	for _, e := range entries {
		var meta string
		if e.Metadata != nil {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				s.logger.Error("chstore metadata marshal failed",
					zap.String("id", e.ID),
					zap.Error(err),
				)
			} else {
				meta = string(b)
			}
		}

		var success uint8
		if e.Success {
			success = 1
		}
		flags := make([]string, len(e.Flags))
		for i, f := range e.Flags {
			flags[i] = string(f)
		}

		if err := batch.Append(
			e.ID,
			e.Timestamp,
			e.UserID,
			string(e.ActionType),
			e.Endpoint,
			meta,
			e.IPAddress,
			e.UserAgent,
			success,
			e.ErrorMessage,
			e.LatencyMs,
			flags,
		); err != nil {
			return fmt.Errorf("chstore append: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("chstore batch send: %w", err)
	}
	return nil
}

func (s *AuditStore) Query(ctx context.Context, userID string, f audit.Filter) ([]*audit.Entry, error) {
	conditions := []string{"user_id = @user_id"}
	args := []any{
		clickhouse.Named("user_id", userID),
	}

	if f.ActionType != "" {
		conditions = append(conditions, "action_type = @action_type")
		args = append(args, clickhouse.Named("action_type", string(f.ActionType)))
	}
	if f.Flag != "" {
		conditions = append(conditions, "has(flags, @flag)")
		args = append(args, clickhouse.Named("flag", string(f.Flag)))
	}
	if !f.Start.IsZero() {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", f.Start))
	}
	if !f.End.IsZero() {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", f.End))
	}

	query := fmt.Sprintf(
		"SELECT id, timestamp, user_id, action_type, endpoint, "+
			"metadata, ip_address, user_agent, "+
			"success, error_message, latency_ms, flags "+
			"FROM audit_logs WHERE %s "+
			"ORDER BY timestamp DESC",
		strings.Join(conditions, " AND "),
	)
	if f.Limit > 0 {
		query += " LIMIT @limit"
		args = append(args, clickhouse.Named("limit", uint32(f.Limit)))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chstore query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			action   string
			meta     string
			success  uint8
			rawFlags []string
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.UserID, &action, &e.Endpoint,
			&meta, &e.IPAddress, &e.UserAgent,
			&success, &e.ErrorMessage, &e.LatencyMs, &rawFlags,
		); err != nil {
			return nil, fmt.Errorf("chstore scan: %w", err)
		}
		e.ActionType = audit.ActionType(action)
		e.Success = success == 1
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				s.logger.Warn("chstore metadata unmarshal failed",
					zap.String("id", e.ID),
					zap.Error(err),
				)
			}
		}
		for _, fl := range rawFlags {
			e.Flags = append(e.Flags, audit.Flag(fl))
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes entries past the retention cutoff via a
// lightweight delete mutation. The returned count is read before the
// mutation is issued, so it reflects the rows scheduled for removal.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var total uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count() FROM audit_logs WHERE timestamp < @cutoff",
		clickhouse.Named("cutoff", cutoff),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("chstore count: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	err = s.conn.Exec(ctx,
		"ALTER TABLE audit_logs DELETE WHERE timestamp < @cutoff",
		clickhouse.Named("cutoff", cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("chstore delete: %w", err)
	}
	return int(total), nil
}
