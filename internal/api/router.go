package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acalanto-app/sentinela/internal/obs"
	"github.com/acalanto-app/sentinela/internal/security"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Security *security.Middleware
	Clients  ClientDirectory // nil disables auth (local development)
	Logger   *zap.Logger
	CacheTTL time.Duration

	// Transport abuse protection, requests per second per source IP.
	IPRateRPS   float64
	IPRateBurst int

	limiter *ipLimiter
}

// Close stops background work owned by the router. Called at shutdown.
func (d *Dependencies) Close() {
	if d.limiter != nil {
		d.limiter.stop()
	}
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Safety pipeline (auth required via Bearer ssk_ token)
	mux.HandleFunc("POST /v1/screen", deps.authMiddleware(deps.handleScreen))
	mux.HandleFunc("POST /v1/risk/history", deps.authMiddleware(deps.handleRiskHistory))
	mux.HandleFunc("POST /v1/quota/check", deps.authMiddleware(deps.handleQuotaCheck))
	mux.HandleFunc("POST /v1/quota/clear", deps.authMiddleware(deps.handleQuotaClear))
	mux.HandleFunc("GET /v1/quota/stats", deps.authMiddleware(deps.handleQuotaStats))
	mux.HandleFunc("POST /v1/audit", deps.authMiddleware(deps.handleRecordAudit))
	mux.HandleFunc("GET /v1/audit/logs", deps.authMiddleware(deps.handleAuditLogs))
	mux.HandleFunc("GET /v1/audit/stats", deps.authMiddleware(deps.handleAuditStats))
	mux.HandleFunc("GET /v1/audit/export", deps.authMiddleware(deps.handleAuditExport))
	mux.HandleFunc("POST /v1/protect", deps.authMiddleware(deps.handleProtect))
	mux.HandleFunc("POST /v1/reveal", deps.authMiddleware(deps.handleReveal))
	mux.HandleFunc("POST /v1/keys/rotate", deps.authMiddleware(deps.handleRotateKey))
	mux.HandleFunc("POST /v1/keys/revoke", deps.authMiddleware(deps.handleRevokeKeys))

	// Client admin (no auth — operator tooling behind the VPN)
	mux.HandleFunc("POST /api/sentinela/clients", deps.handleCreateClient)

	// Health and metrics
	mux.HandleFunc("GET /healthz", deps.handleHealth)
	mux.Handle("GET /metrics", obs.Handler())

	var handler http.Handler = mux
	if deps.IPRateRPS > 0 {
		deps.limiter = newIPLimiter(deps.IPRateRPS, deps.IPRateBurst)
		handler = deps.limiter.middleware(handler)
	}
	return corsMiddleware(requestLogging(obs.Instrument(handler), deps.Logger))
}

// handleHealth implements GET /healthz. Degraded dependencies report
// warn but still answer 200; only a hard failure flips to 503.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := d.Security.HealthCheck(r.Context())
	status := http.StatusOK
	if h.Status == security.StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// handleCreateClient implements POST /api/sentinela/clients.
func (d *Dependencies) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	if d.Clients == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "client directory requires a database"})
		return
	}
	var req CreateClientReq
	if err := readJSON(r, &req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}

	c, fullKey, err := d.Clients.CreateClient(r.Context(), req.Name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, CreateClientResp{
		ID:           c.ID,
		Name:         c.Name,
		APIKey:       fullKey,
		APIKeyPrefix: c.APIKeyPrefix,
		CreatedAt:    c.CreatedAt,
	})
}
