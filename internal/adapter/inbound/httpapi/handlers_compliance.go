package httpapi

import (
	"net/http"
	"time"

	"github.com/donbool/tame/internal/domain/audit"
	"github.com/donbool/tame/internal/tameerr"
)

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	var start, end time.Time
	if s := q.Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return start, end, err
		}
		start = t
	}
	if e := q.Get("end_date"); e != "" {
		t, err := time.Parse(time.RFC3339, e)
		if err != nil {
			return start, end, err
		}
		end = t
	} else {
		end = time.Now().UTC()
	}
	return start, end, nil
}

type reportBody struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	TotalCalls        int64     `json:"total_calls"`
	AllowCount        int64     `json:"allow_count"`
	DenyCount         int64     `json:"deny_count"`
	ApproveCount      int64     `json:"approve_count"`
	UniqueAgents      int       `json:"unique_agents"`
	UniqueUsers       int       `json:"unique_users"`
	ViolationRate     float64   `json:"violation_rate"`
	IntegrityOK       bool      `json:"integrity_ok"`
	OverdueCount      int       `json:"overdue_count"`
	UpcomingCount     int       `json:"upcoming_count"`
	DetailedEntries   []sessionSummaryBody `json:"detailed_entries,omitempty"`
}

// handleComplianceReport implements GET /api/v1/compliance/report/generate.
func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "invalid start_date/end_date"))
		return
	}
	detailed := r.URL.Query().Get("detail_level") == "detailed"

	report, err := h.retention.AssembleReport(r.Context(), start, end, detailed)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var detailedEntries []sessionSummaryBody
	if detailed {
		detailedEntries = make([]sessionSummaryBody, len(report.DetailedEntries))
		for i, s := range report.DetailedEntries {
			detailedEntries[i] = toSessionSummaryBody(s)
		}
	}

	respondJSON(w, h.logger, http.StatusOK, reportBody{
		Start:           report.Start,
		End:             report.End,
		TotalCalls:      report.TotalCalls,
		AllowCount:      report.Actions.Allow,
		DenyCount:       report.Actions.Deny,
		ApproveCount:    report.Actions.Approve,
		UniqueAgents:    report.UniqueAgents,
		UniqueUsers:     report.UniqueUsers,
		ViolationRate:   report.ViolationRate,
		IntegrityOK:     report.IntegrityOK,
		OverdueCount:    report.OverdueCount,
		UpcomingCount:   report.UpcomingCount,
		DetailedEntries: detailedEntries,
	})
}

// handleRetentionStatus implements GET /api/v1/compliance/retention/status.
func (h *Handler) handleRetentionStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.retention.SweepExpired(r.Context(), true)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"overdue": result.Candidates,
	})
}

// handleRetentionCleanup implements POST /api/v1/compliance/retention/cleanup?dry_run=.
func (h *Handler) handleRetentionCleanup(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	result, err := h.retention.SweepExpired(r.Context(), dryRun)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"candidates":    result.Candidates,
		"deleted_count": result.DeletedCount,
		"failures":      result.Failures,
	})
}

type verifyResponseBody struct {
	EntriesChecked int64             `json:"entries_checked"`
	ChainIntact    bool              `json:"chain_intact"`
	Violations     []audit.Violation `json:"violations,omitempty"`
}

// handleIntegrityVerify implements GET /api/v1/compliance/integrity/verify.
func (h *Handler) handleIntegrityVerify(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "invalid start_date/end_date"))
		return
	}
	result, err := h.retention.VerifyRange(r.Context(), start, end)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, verifyResponseBody{
		EntriesChecked: result.EntriesChecked,
		ChainIntact:    result.ChainIntact(),
		Violations:     result.Violations,
	})
}
