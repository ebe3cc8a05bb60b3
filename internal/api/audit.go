package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/acalanto-app/sentinela/internal/audit"
	"github.com/acalanto-app/sentinela/internal/security"
)

// handleRecordAudit implements POST /v1/audit: appends one entry on
// behalf of the calling service.
func (d *Dependencies) handleRecordAudit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" || req.ActionType == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id and action_type are required"})
		return
	}

	d.Security.RecordAudit(security.Context{
		UserID:    req.UserID,
		Endpoint:  req.Endpoint,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}, audit.ActionType(req.ActionType), req.Metadata, req.Success)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleAuditLogs implements GET /v1/audit/logs with query filters.
func (d *Dependencies) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	f := audit.Filter{
		ActionType: audit.ActionType(q.Get("action_type")),
		Flag:       audit.Flag(q.Get("flag")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "start must be RFC3339"})
			return
		}
		f.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "end must be RFC3339"})
			return
		}
		f.End = t
	}

	entries, err := d.Security.Audit().GetLogs(r.Context(), userID, f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleAuditStats implements GET /v1/audit/stats?user_id=&since_hours=
func (d *Dependencies) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	sinceHours := 24 * 30
	if v := q.Get("since_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "since_hours must be a positive integer"})
			return
		}
		sinceHours = n
	}

	stats, err := d.Security.Audit().GetStats(r.Context(), userID,
		time.Now().Add(-time.Duration(sinceHours)*time.Hour))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAuditExport implements GET /v1/audit/export?user_id=&format=
// and records the export itself in the audit trail.
func (d *Dependencies) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "json"
	}

	out, err := d.Security.Audit().ExportForCompliance(r.Context(), userID, format)
	if err != nil {
		d.Security.Audit().LogDataExport(userID, clientIP(r), false)
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	d.Security.Audit().LogDataExport(userID, clientIP(r), true)

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
