package api

import (
	"net/http"

	"github.com/acalanto-app/sentinela/internal/security"
)

// handleScreen implements POST /v1/screen: the full safety pipeline for
// one inbound chat message.
func (d *Dependencies) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req ScreenRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message is required"})
		return
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = "chat_message"
	}

	sc := security.Context{
		UserID:    req.UserID,
		Endpoint:  endpoint,
		IPAddress: clientIP(r),
		UserAgent: req.UserAgent,
	}
	res := d.Security.ScreenMessage(r.Context(), sc, req.Message, req.History)

	resp := ScreenResponse{
		Allowed:       res.Allowed,
		SanitizedText: res.SanitizedText,
		PIIDetected:   res.PII.HasPII,
		Suggestions:   res.Policy.Suggestions,
		Risk: RiskResp{
			Level:             res.Risk.Level.String(),
			Score:             res.Risk.Score,
			Urgency:           res.Risk.Urgency.String(),
			RecommendedAction: res.Risk.RecommendedAction.String(),
			NeedsHumanReview:  res.Risk.NeedsHumanReview,
		},
		LatencyMs: res.LatencyMs,
	}
	for _, t := range res.PII.Types {
		resp.PIICategories = append(resp.PIICategories, t.String())
	}
	for _, v := range res.Policy.Violations {
		resp.Violations = append(resp.Violations, ViolationResp{
			Kind:        v.Kind.String(),
			Severity:    v.Severity.String(),
			Description: v.Description,
		})
	}
	if res.SafetyResponse != nil {
		resp.SafetyResponse = &SafetyResponseResp{
			Message:           res.SafetyResponse.Message,
			Resources:         res.SafetyResponse.Resources,
			BlocksInteraction: res.SafetyResponse.BlocksInteraction,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRiskHistory implements POST /v1/risk/history: trend analysis
// over a user's recent messages.
func (d *Dependencies) handleRiskHistory(w http.ResponseWriter, r *http.Request) {
	var req RiskHistoryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "messages is required"})
		return
	}

	h := d.Security.Risk().AnalyzeHistory(req.Messages)
	writeJSON(w, http.StatusOK, RiskHistoryResponse{
		CumulativeScore: h.CumulativeScore,
		Trend:           h.Trend.String(),
		Latest: RiskResp{
			Level:             h.Latest.Level.String(),
			Score:             h.Latest.Score,
			Urgency:           h.Latest.Urgency.String(),
			RecommendedAction: h.Latest.RecommendedAction.String(),
			NeedsHumanReview:  h.Latest.NeedsHumanReview,
		},
	})
}
