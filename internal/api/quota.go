package api

import (
	"net/http"

	"github.com/acalanto-app/sentinela/internal/security"
)

// handleQuotaCheck implements POST /v1/quota/check. A denied check
// answers 429 with a retry hint, matching what the client should show
// the user.
func (d *Dependencies) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	var req QuotaCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" || req.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id and endpoint are required"})
		return
	}

	res := d.Security.CheckQuota(r.Context(), security.Context{
		UserID:    req.UserID,
		Endpoint:  req.Endpoint,
		IPAddress: clientIP(r),
	})

	resp := QuotaCheckResponse{
		Allowed:           res.Allowed,
		Remaining:         res.Remaining,
		ResetAt:           res.ResetAt,
		RetryAfterSeconds: res.RetryAfterSeconds,
	}
	status := http.StatusOK
	if !res.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

// handleQuotaClear implements POST /v1/quota/clear (support tooling).
func (d *Dependencies) handleQuotaClear(w http.ResponseWriter, r *http.Request) {
	var req QuotaClearRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	if err := d.Security.Quota().Clear(r.Context(), req.UserID, req.Endpoint); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	d.Security.RecordAudit(security.Context{UserID: req.UserID, Endpoint: req.Endpoint},
		"quota_cleared", nil, true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleQuotaStats implements GET /v1/quota/stats?user_id=...
func (d *Dependencies) handleQuotaStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	stats, err := d.Security.Quota().Stats(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}

	out := make([]QuotaStatsResp, 0, len(stats))
	for _, s := range stats {
		item := QuotaStatsResp{
			Endpoint: s.Endpoint,
			InWindow: s.InWindow,
			Limit:    s.Limit,
		}
		if !s.BlockedUntil.IsZero() {
			t := s.BlockedUntil
			item.BlockedUntil = &t
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}
