package security

import (
	"context"
	"time"
)

// CheckStatus is the outcome of one health probe.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// ComponentHealth is the probe result for one dependency.
type ComponentHealth struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	LatencyMs float64     `json:"latency_ms"`
	Detail    string      `json:"detail,omitempty"`
}

// Health is the aggregate health report. Status is fail if any
// component fails, warn if any degrades, pass otherwise.
type Health struct {
	Status     CheckStatus       `json:"status"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthCheck probes every dependency and reports per-component and
// overall status. In-memory fallbacks and pass-through crypto degrade
// to warn rather than fail: the service still works, just without the
// durability or protection the production setup provides.
func (m *Middleware) HealthCheck(ctx context.Context) Health {
	h := Health{CheckedAt: time.Now().UTC()}

	h.Components = append(h.Components, m.checkPinger(ctx, "storage", m.primary))
	h.Components = append(h.Components, m.checkPinger(ctx, "audit_storage", m.auditDB))
	h.Components = append(h.Components, m.checkEncryption())
	h.Components = append(h.Components, m.checkRateLimiter(ctx))
	h.Components = append(h.Components, m.checkAuditBuffer())
	h.Components = append(h.Components, m.checkAICredential())

	h.Status = StatusPass
	for _, c := range h.Components {
		switch c.Status {
		case StatusFail:
			h.Status = StatusFail
		case StatusWarn:
			if h.Status == StatusPass {
				h.Status = StatusWarn
			}
		}
	}
	return h
}

func (m *Middleware) checkPinger(ctx context.Context, name string, p Pinger) ComponentHealth {
	if p == nil {
		return ComponentHealth{Name: name, Status: StatusWarn, Detail: "running in-memory, data is not durable"}
	}
	start := time.Now()
	err := p.Ping(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return ComponentHealth{Name: name, Status: StatusFail, LatencyMs: latency, Detail: err.Error()}
	}
	return ComponentHealth{Name: name, Status: StatusPass, LatencyMs: latency}
}

func (m *Middleware) checkEncryption() ComponentHealth {
	if !m.vault.Available() {
		return ComponentHealth{Name: "encryption", Status: StatusWarn, Detail: "no master key, payloads pass through unencrypted"}
	}
	return ComponentHealth{Name: "encryption", Status: StatusPass}
}

func (m *Middleware) checkRateLimiter(ctx context.Context) ComponentHealth {
	start := time.Now()
	// Stats is non-mutating, so the probe never consumes quota.
	_, err := m.quota.Stats(ctx, "healthcheck")
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		// The guard fails open on store errors, so a broken store
		// degrades enforcement rather than availability.
		return ComponentHealth{Name: "rate_limiter", Status: StatusWarn, LatencyMs: latency, Detail: err.Error()}
	}
	return ComponentHealth{Name: "rate_limiter", Status: StatusPass, LatencyMs: latency}
}

func (m *Middleware) checkAuditBuffer() ComponentHealth {
	if n := m.audit.Dropped(); n > 0 {
		return ComponentHealth{Name: "audit", Status: StatusWarn, Detail: "entries have been dropped, check store capacity"}
	}
	return ComponentHealth{Name: "audit", Status: StatusPass}
}

func (m *Middleware) checkAICredential() ComponentHealth {
	if m.aiCredential == "" {
		return ComponentHealth{Name: "ai_credential", Status: StatusWarn, Detail: "upstream AI credential not configured"}
	}
	return ComponentHealth{Name: "ai_credential", Status: StatusPass}
}
