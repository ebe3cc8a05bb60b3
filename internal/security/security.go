// Package security is the facade the chat service talks to. It wires
// the PII redactor, content policy engine, risk detector, quota guard,
// key vault, and audit logger into a single screening pipeline.
package security

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acalanto-app/sentinela/internal/audit"
	"github.com/acalanto-app/sentinela/internal/obs"
	"github.com/acalanto-app/sentinela/internal/pii"
	"github.com/acalanto-app/sentinela/internal/policy"
	"github.com/acalanto-app/sentinela/internal/quota"
	"github.com/acalanto-app/sentinela/internal/risk"
	"github.com/acalanto-app/sentinela/internal/vault"
)

// DefaultScreenTimeout bounds the screening fan-out. Stages that miss
// the deadline are treated as absent and the pipeline fails open.
const DefaultScreenTimeout = 2 * time.Second

// Context carries per-request caller identity through the pipeline.
type Context struct {
	UserID    string
	Endpoint  string
	IPAddress string
	UserAgent string
}

// Pinger is implemented by backing stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config assembles a Middleware. Primary and AuditDB are nil when the
// corresponding store runs in memory.
type Config struct {
	Policy        *policy.Engine
	Risk          *risk.Detector
	Quota         *quota.Guard
	Vault         *vault.Vault
	Audit         *audit.Logger
	Primary       Pinger
	AuditDB       Pinger
	AICredential  string
	ScreenTimeout time.Duration
	Logger        *zap.Logger
}

// Middleware is the trust-and-safety facade.
type Middleware struct {
	policy        *policy.Engine
	risk          *risk.Detector
	quota         *quota.Guard
	vault         *vault.Vault
	audit         *audit.Logger
	primary       Pinger
	auditDB       Pinger
	aiCredential  string
	screenTimeout time.Duration
	logger        *zap.Logger
}

// New creates the facade from already-constructed components.
func New(cfg Config) *Middleware {
	timeout := cfg.ScreenTimeout
	if timeout <= 0 {
		timeout = DefaultScreenTimeout
	}
	return &Middleware{
		policy:        cfg.Policy,
		risk:          cfg.Risk,
		quota:         cfg.Quota,
		vault:         cfg.Vault,
		audit:         cfg.Audit,
		primary:       cfg.Primary,
		auditDB:       cfg.AuditDB,
		aiCredential:  cfg.AICredential,
		screenTimeout: timeout,
		logger:        cfg.Logger,
	}
}

// ScreenResult is the outcome of screening one inbound message.
type ScreenResult struct {
	Allowed        bool
	SanitizedText  string
	PII            pii.DetectionResult
	Policy         policy.ValidationResult
	Risk           risk.Analysis
	SafetyResponse *risk.SafetyResponse
	LatencyMs      float64
}

// stage output for the screening fan-out.
type stageOutput struct {
	name   string
	policy policy.ValidationResult
	risk   risk.Analysis
}

// ScreenMessage redacts PII, then runs policy validation and risk
// analysis in parallel and aggregates a verdict. History is the user's
// recent messages, oldest first; it feeds the policy repeat check.
//
// PII detection runs synchronously before the fan-out: SanitizedText
// must be safe to persist on every path, including a deadline miss.
// Each fan-out stage writes into a buffered channel sized for all
// stages, so a late finisher never blocks. On deadline the pipeline
// returns with whatever completed: missing policy allows, missing risk
// reads as no signals. Audit metadata never includes message text.
func (m *Middleware) ScreenMessage(ctx context.Context, sc Context, message string, history []string) ScreenResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, m.screenTimeout)
	defer cancel()

	detection := pii.Detect(message)

	const stages = 2
	ch := make(chan stageOutput, stages)

	go func() {
		ch <- stageOutput{name: "policy", policy: m.policy.Validate(message, history)}
	}()
	go func() {
		ch <- stageOutput{name: "risk", risk: m.risk.Analyze(message)}
	}()

	result := ScreenResult{
		Allowed:       true,
		SanitizedText: detection.SanitizedText,
		PII:           detection,
		Policy:        policy.ValidationResult{Allowed: true},
	}
	remaining := stages
	for remaining > 0 {
		select {
		case out := <-ch:
			remaining--
			switch out.name {
			case "policy":
				result.Policy = out.policy
			case "risk":
				result.Risk = out.risk
			}
		case <-ctx.Done():
			m.logger.Warn("screening timeout, returning partial verdict",
				zap.Duration("timeout", m.screenTimeout),
			)
			remaining = 0
		}
	}

	m.aggregate(&result)
	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	m.recordScreen(sc, &result)
	return result
}

// aggregate turns stage outputs into the final verdict. Policy blocks
// High and Critical violations; an Emergency risk overrides everything
// with a safety response that halts the interaction.
func (m *Middleware) aggregate(r *ScreenResult) {
	if !r.Policy.Allowed {
		r.Allowed = false
	}
	if r.Risk.Urgency >= risk.UrgencyUrgent || r.Risk.Level >= risk.LevelHigh {
		resp := risk.ComposeSafetyResponse(r.Risk)
		r.SafetyResponse = &resp
		if resp.BlocksInteraction {
			r.Allowed = false
		}
	}
}

func (m *Middleware) recordScreen(sc Context, r *ScreenResult) {
	var flags []audit.Flag
	meta := map[string]any{}

	if r.PII.HasPII {
		flags = append(flags, audit.FlagPIIDetected)
		categories := make([]string, len(r.PII.Types))
		for i, t := range r.PII.Types {
			categories[i] = t.String()
			obs.PIIDetections.WithLabelValues(t.String()).Inc()
		}
		meta["pii_categories"] = categories
	}
	if !r.Policy.Allowed {
		flags = append(flags, audit.FlagContentBlocked)
		obs.ContentBlocked.Inc()
		kinds := make([]string, len(r.Policy.Violations))
		for i, v := range r.Policy.Violations {
			kinds[i] = v.Kind.String()
		}
		meta["violations"] = kinds
		m.audit.LogContentBlocked(sc.UserID, kinds)
	}
	if r.Risk.Level > risk.LevelNone {
		for _, s := range r.Risk.Signals {
			obs.RiskSignals.WithLabelValues(s.Type.String()).Inc()
		}
		meta["risk_level"] = r.Risk.Level.String()
		meta["risk_score"] = r.Risk.Score
	}
	if r.Risk.NeedsHumanReview {
		flags = append(flags, audit.FlagRiskDetected)
		m.audit.LogRiskDetected(sc.UserID, r.Risk.Level.String(), r.Risk.Score, r.Risk.Urgency.String())
	}
	meta["allowed"] = r.Allowed

	m.audit.LogChatMessage(sc.UserID, sc.Endpoint, sc.IPAddress, sc.UserAgent, r.LatencyMs, flags, meta)
}

// CheckQuota consults the rate limiter for the caller. Denials are
// audited; the guard itself counts them.
func (m *Middleware) CheckQuota(ctx context.Context, sc Context) quota.Result {
	res := m.quota.Check(ctx, sc.UserID, sc.Endpoint)
	if !res.Allowed {
		m.audit.LogRateLimitHit(sc.UserID, sc.Endpoint, res.RetryAfterSeconds)
	}
	return res
}

// RecordAudit appends an arbitrary audit entry for the caller. Metadata
// is redacted by the audit logger before it is buffered.
func (m *Middleware) RecordAudit(sc Context, actionType audit.ActionType, metadata map[string]any, success bool) {
	m.audit.Log(audit.Record{
		ActionType: actionType,
		UserID:     sc.UserID,
		Endpoint:   sc.Endpoint,
		IPAddress:  sc.IPAddress,
		UserAgent:  sc.UserAgent,
		Metadata:   metadata,
		Success:    success,
	})
}

// Protect encrypts sensitive data under the user's key. When no master
// key is configured, or the key store is unreachable, the payload
// passes through unencrypted and is marked as such.
func (m *Middleware) Protect(ctx context.Context, userID, plaintext string) (vault.EncryptedPayload, error) {
	return m.vault.Encrypt(ctx, userID, plaintext)
}

// Reveal decrypts a payload previously produced by Protect.
func (m *Middleware) Reveal(ctx context.Context, userID string, payload vault.EncryptedPayload) (string, error) {
	return m.vault.Decrypt(ctx, userID, payload)
}

// Quota exposes the rate limiter for admin operations (clear, stats).
func (m *Middleware) Quota() *quota.Guard { return m.quota }

// Audit exposes the audit logger for read endpoints.
func (m *Middleware) Audit() *audit.Logger { return m.audit }

// Vault exposes the key vault for key admin operations.
func (m *Middleware) Vault() *vault.Vault { return m.vault }

// Risk exposes the risk detector for history analysis.
func (m *Middleware) Risk() *risk.Detector { return m.risk }
