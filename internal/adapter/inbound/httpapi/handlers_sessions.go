package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/donbool/tame/internal/domain/audit"
	"github.com/donbool/tame/internal/tameerr"
)

type sessionSummaryBody struct {
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Archived     bool      `json:"archived"`
	ArchivedAt   time.Time `json:"archived_at,omitempty"`
	EntryCount   int64     `json:"entry_count"`
	AllowCount   int64     `json:"allow_count"`
	DenyCount    int64     `json:"deny_count"`
	ApproveCount int64     `json:"approve_count"`
}

func toSessionSummaryBody(s audit.SessionSummary) sessionSummaryBody {
	return sessionSummaryBody{
		SessionID:    s.SessionID,
		AgentID:      s.AgentID,
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		Archived:     s.Archived,
		ArchivedAt:   s.ArchivedAt,
		EntryCount:   s.EntryCount,
		AllowCount:   s.AllowCount,
		DenyCount:    s.DenyCount,
		ApproveCount: s.ApproveCount,
	}
}

// handleListSessions implements GET /api/v1/sessions.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := audit.SessionFilter{
		AgentID:         q.Get("agent_id"),
		UserID:          q.Get("user_id"),
		IncludeArchived: q.Get("include_archived") == "true",
		Page:            page,
		PageSize:        pageSize,
	}
	if start := q.Get("start"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filter.Start = t
		}
	}
	if end := q.Get("end"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filter.End = t
		}
	}

	summaries, err := h.audit.ListSessions(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	out := make([]sessionSummaryBody, len(summaries))
	for i, s := range summaries {
		out[i] = toSessionSummaryBody(s)
	}
	respondJSON(w, h.logger, http.StatusOK, out)
}

type logEntryBody struct {
	ID                 string         `json:"id"`
	SeqIndex           int64          `json:"seq_index"`
	Timestamp          time.Time      `json:"timestamp"`
	ToolName           string         `json:"tool_name"`
	ToolArgs           map[string]any `json:"tool_args,omitempty"`
	PolicyVersionLabel string         `json:"policy_version_label,omitempty"`
	Decision           string         `json:"decision"`
	RuleName           string         `json:"rule_name,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	Status             string         `json:"status"`
	Outcome            map[string]any `json:"outcome,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	DurationMillis     int64          `json:"duration_ms,omitempty"`
}

func toLogEntryBody(e audit.LogEntry) logEntryBody {
	return logEntryBody{
		ID:                 e.ID,
		SeqIndex:           e.SeqIndex,
		Timestamp:          e.Timestamp,
		ToolName:           e.ToolName,
		ToolArgs:           e.ToolArgs,
		PolicyVersionLabel: e.PolicyVersionLabel,
		Decision:           e.Decision,
		RuleName:           e.RuleName,
		Reason:             e.Reason,
		Status:             string(e.Status),
		Outcome:            e.Outcome,
		ErrorMessage:       e.ErrorMessage,
		DurationMillis:     e.DurationMillis,
	}
}

// handleGetSession implements GET /api/v1/sessions/{id}.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	redact := q.Get("redact") != "false"

	entries, err := h.audit.GetSession(r.Context(), id, offset, limit, redact)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	out := make([]logEntryBody, len(entries))
	for i, e := range entries {
		out[i] = toLogEntryBody(e)
	}
	respondJSON(w, h.logger, http.StatusOK, out)
}

// handleGetSessionSummary implements GET /api/v1/sessions/{id}/summary.
func (h *Handler) handleGetSessionSummary(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	summaries, err := h.audit.ListSessions(r.Context(), audit.SessionFilter{
		IncludeArchived: true, Page: 1, PageSize: 1 << 20,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	for _, s := range summaries {
		if s.SessionID == id {
			respondJSON(w, h.logger, http.StatusOK, toSessionSummaryBody(s))
			return
		}
	}
	respondError(w, h.logger, tameerr.New(tameerr.KindNotFound, "session not found"))
}

// handleDeleteSession implements DELETE /api/v1/sessions/{id}.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	deleted, err := h.audit.DeleteSession(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]int64{"deleted_count": deleted})
}

type archiveRequestBody struct {
	SessionIDs    []string `json:"session_ids,omitempty"`
	RetentionDays int      `json:"retention_days,omitempty"`
	ArchivedBy    string   `json:"archived_by,omitempty"`
}

// handleArchiveSession implements POST /api/v1/sessions/{id}/archive.
func (h *Handler) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var body archiveRequestBody
	_ = readJSON(w, r, &body)

	if err := h.retention.ScheduleArchival(r.Context(), []string{id}, body.RetentionDays, body.ArchivedBy); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBulkArchiveSessions implements POST /api/v1/sessions/bulk/archive.
func (h *Handler) handleBulkArchiveSessions(w http.ResponseWriter, r *http.Request) {
	var body archiveRequestBody
	if err := readJSON(w, r, &body); err != nil || len(body.SessionIDs) == 0 {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "session_ids is required"))
		return
	}
	if err := h.retention.ScheduleArchival(r.Context(), body.SessionIDs, body.RetentionDays, body.ArchivedBy); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{"status": "ok", "count": len(body.SessionIDs)})
}

// handleExportSessions implements GET /api/v1/sessions/export.
func (h *Handler) handleExportSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := audit.ExportFormat(q.Get("format"))
	if format == "" {
		format = audit.ExportJSON
	}
	filter := audit.ExportFilter{SessionID: q.Get("session_id")}
	if start := q.Get("start"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filter.Start = t
		}
	}
	if end := q.Get("end"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filter.End = t
		}
	}

	data, err := h.audit.Export(r.Context(), filter, format)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	switch format {
	case audit.ExportCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", "attachment; filename=sessions."+string(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
