// Package obs holds the service's Prometheus metrics. Degraded-protection
// paths (fail-open admits, crypto pass-through, dropped audit entries)
// MUST increment a counter here so operators can see reduced coverage
// even though the user-facing flow never errors.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinela_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// QuotaFailOpen counts requests admitted because the rate-limit
	// store was unreachable.
	QuotaFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_quota_fail_open_total",
		Help: "Requests admitted because the rate limit store errored.",
	})

	// QuotaBlocked counts requests denied by the quota guard.
	QuotaBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_quota_blocked_total",
		Help: "Requests denied by the sliding-window rate limiter.",
	})

	// VaultPassthrough counts encrypt/decrypt calls served without real
	// encryption because no master key or crypto primitive was available.
	VaultPassthrough = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_vault_passthrough_total",
		Help: "Encrypt/decrypt calls degraded to unencrypted pass-through.",
	})

	// AuditDropped counts audit entries discarded because the retry
	// buffer hit its hard cap during a storage outage.
	AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_audit_dropped_total",
		Help: "Audit entries dropped after the retry buffer overflowed.",
	})

	// AuditFlushFailures counts failed batch flushes (each failed batch
	// is re-queued for retry).
	AuditFlushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_audit_flush_failures_total",
		Help: "Audit batch flushes that failed and were re-queued.",
	})

	// PIIDetections counts messages in which at least one PII span was
	// redacted, by category.
	PIIDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_pii_detections_total",
			Help: "Messages with redacted PII, by category.",
		},
		[]string{"category"},
	)

	// RiskSignals counts fired crisis signals by type.
	RiskSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinela_risk_signals_total",
			Help: "Crisis signals fired, by signal type.",
		},
		[]string{"signal"},
	)

	// ContentBlocked counts messages denied by the content policy.
	ContentBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinela_content_blocked_total",
		Help: "Messages denied by the content policy engine.",
	})
)

// Init registers all metrics with the default registry. Call once from
// main.
func Init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		QuotaFailOpen,
		QuotaBlocked,
		VaultPassthrough,
		AuditDropped,
		AuditFlushFailures,
		PIIDetections,
		RiskSignals,
		ContentBlocked,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an http.Handler with request count and latency
// metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
