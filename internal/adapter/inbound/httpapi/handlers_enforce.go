package httpapi

import (
	"net/http"
	"time"

	"github.com/donbool/tame/internal/domain/audit"
	"github.com/donbool/tame/internal/service"
	"github.com/donbool/tame/internal/tameerr"
)

type enforceRequestBody struct {
	ToolName  string         `json:"tool_name"`
	ToolArgs  map[string]any `json:"tool_args"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type enforceResponseBody struct {
	SessionID     string    `json:"session_id"`
	Decision      string    `json:"decision"`
	RuleName      string    `json:"rule_name,omitempty"`
	Reason        string    `json:"reason"`
	PolicyVersion string    `json:"policy_version,omitempty"`
	LogID         string    `json:"log_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// handleEnforce implements POST /api/v1/enforce.
func (h *Handler) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var body enforceRequestBody
	if err := readJSON(w, r, &body); err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "invalid JSON request body"))
		return
	}

	resp, err := h.enforcement.Enforce(r.Context(), service.EnforceRequest{
		ToolName:  body.ToolName,
		ToolArgs:  body.ToolArgs,
		SessionID: body.SessionID,
		AgentID:   body.AgentID,
		UserID:    body.UserID,
		Metadata:  body.Metadata,
		Context:   body.Context,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if h.metrics != nil {
		h.metrics.PolicyEvaluations.WithLabelValues(string(resp.Decision.Action)).Inc()
	}

	respondJSON(w, h.logger, http.StatusOK, enforceResponseBody{
		SessionID:     resp.SessionID,
		Decision:      string(resp.Decision.Action),
		RuleName:      resp.Decision.RuleName,
		Reason:        resp.Decision.Reason,
		PolicyVersion: resp.Decision.PolicyVersion,
		LogID:         resp.LogID,
		Timestamp:     resp.Timestamp,
	})
}

type updateResultBody struct {
	Status         string         `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	DurationMillis int64          `json:"duration_ms,omitempty"`
}

// handleUpdateResult implements POST /api/v1/enforce/{session_id}/result?log_id=...
func (h *Handler) handleUpdateResult(w http.ResponseWriter, r *http.Request) {
	sessionID := pathParam(r, "session_id")
	logID := r.URL.Query().Get("log_id")
	if sessionID == "" || logID == "" {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "session_id and log_id are required"))
		return
	}

	var body updateResultBody
	if err := readJSON(w, r, &body); err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "invalid JSON request body"))
		return
	}

	status := audit.Status(body.Status)
	if status != audit.StatusSuccess && status != audit.StatusError {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, `status must be "success" or "error"`))
		return
	}

	outcome := audit.Outcome{
		Status:         status,
		Result:         body.Result,
		ErrorMessage:   body.ErrorMessage,
		DurationMillis: body.DurationMillis,
	}
	if err := h.enforcement.UpdateResult(r.Context(), sessionID, logID, outcome); err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok", "log_id": logID})
}
