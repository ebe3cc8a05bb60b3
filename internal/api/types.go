package api

import (
	"time"

	"github.com/acalanto-app/sentinela/internal/vault"
)

// ErrorResp is the uniform JSON error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- POST /v1/screen ---

// ScreenRequest is the JSON body for POST /v1/screen.
type ScreenRequest struct {
	UserID    string   `json:"user_id"`
	Message   string   `json:"message"`
	History   []string `json:"history,omitempty"`
	Endpoint  string   `json:"endpoint,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
}

// ViolationResp describes one policy violation.
type ViolationResp struct {
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// RiskResp summarizes the risk analysis without exposing raw matches.
type RiskResp struct {
	Level             string `json:"level"`
	Score             int    `json:"score"`
	Urgency           string `json:"urgency"`
	RecommendedAction string `json:"recommended_action"`
	NeedsHumanReview  bool   `json:"needs_human_review"`
}

// SafetyResponseResp is the crisis response shown to the user in place
// of the AI reply.
type SafetyResponseResp struct {
	Message           string   `json:"message"`
	Resources         []string `json:"resources"`
	BlocksInteraction bool     `json:"blocks_interaction"`
}

// ScreenResponse is the JSON body returned by POST /v1/screen.
type ScreenResponse struct {
	Allowed        bool                `json:"allowed"`
	SanitizedText  string              `json:"sanitized_text"`
	PIIDetected    bool                `json:"pii_detected"`
	PIICategories  []string            `json:"pii_categories,omitempty"`
	Violations     []ViolationResp     `json:"violations,omitempty"`
	Suggestions    []string            `json:"suggestions,omitempty"`
	Risk           RiskResp            `json:"risk"`
	SafetyResponse *SafetyResponseResp `json:"safety_response,omitempty"`
	LatencyMs      float64             `json:"latency_ms"`
}

// --- POST /v1/quota/check ---

type QuotaCheckRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
}

type QuotaCheckResponse struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

// --- POST /v1/quota/clear ---

type QuotaClearRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint,omitempty"` // empty clears every endpoint
}

// --- GET /v1/quota/stats ---

type QuotaStatsResp struct {
	Endpoint     string     `json:"endpoint"`
	InWindow     int        `json:"in_window"`
	Limit        int        `json:"limit"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// --- POST /v1/audit ---

type AuditRequest struct {
	UserID     string         `json:"user_id"`
	ActionType string         `json:"action_type"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Success    bool           `json:"success"`
}

// --- POST /v1/protect, POST /v1/reveal ---

type ProtectRequest struct {
	UserID    string `json:"user_id"`
	Plaintext string `json:"plaintext"`
}

type ProtectResponse struct {
	Payload vault.EncryptedPayload `json:"payload"`
}

type RevealRequest struct {
	UserID  string                 `json:"user_id"`
	Payload vault.EncryptedPayload `json:"payload"`
}

type RevealResponse struct {
	Plaintext string `json:"plaintext"`
}

// --- POST /v1/risk/history ---

type RiskHistoryRequest struct {
	UserID   string   `json:"user_id"`
	Messages []string `json:"messages"` // oldest first
}

type RiskHistoryResponse struct {
	CumulativeScore int      `json:"cumulative_score"`
	Trend           string   `json:"trend"`
	Latest          RiskResp `json:"latest"`
}

// --- Client admin ---

type CreateClientReq struct {
	Name string `json:"name"`
}

// CreateClientResp includes the plaintext API key (shown once).
type CreateClientResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	CreatedAt    time.Time `json:"created_at"`
}
