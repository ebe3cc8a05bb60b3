package audit

import (
	"context"
	"time"
)

// ActionType names the security-relevant action an entry records.
type ActionType string

const (
	ActionChatMessage    ActionType = "chat_message"
	ActionMessageBlocked ActionType = "message_blocked"
	ActionRiskDetected   ActionType = "risk_detected"
	ActionRateLimitHit   ActionType = "rate_limit_hit"
	ActionContentBlocked ActionType = "content_blocked"
	ActionDataExport     ActionType = "data_export"
	ActionDataDelete     ActionType = "data_delete"
	ActionKeyRotated     ActionType = "key_rotated"
	ActionQuotaCleared   ActionType = "quota_cleared"
)

// Flag marks what the security pipeline found for this entry.
type Flag string

const (
	FlagPIIDetected    Flag = "pii_detected"
	FlagRiskDetected   Flag = "risk_detected"
	FlagContentBlocked Flag = "content_blocked"
	FlagRateLimited    Flag = "rate_limited"
)

// Entry is one append-only audit record. Metadata is PII-free by
// construction: the logger redacts it before the entry enters the
// buffer, never after.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       string         `json:"user_id"`
	ActionType   ActionType     `json:"action_type"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	LatencyMs    float64        `json:"latency_ms,omitempty"`
	Flags        []Flag         `json:"flags,omitempty"`
}

// Filter narrows a log query. Zero values mean "any".
type Filter struct {
	ActionType ActionType
	Flag       Flag
	Start      time.Time
	End        time.Time
	Limit      int
}

// Store persists audit entries. InsertBatch must be atomic: either the
// whole batch lands or none of it (the logger re-queues failed batches).
type Store interface {
	InsertBatch(ctx context.Context, entries []*Entry) error
	Query(ctx context.Context, userID string, f Filter) ([]*Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Matches reports whether an entry passes the filter (Limit excluded).
// Shared by store implementations.
func (f Filter) Matches(e *Entry) bool {
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.Flag != "" {
		found := false
		for _, fl := range e.Flags {
			if fl == f.Flag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}
