package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/donbool/tame/internal/tameerr"
)

type ruleBody struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

type policyCurrentBody struct {
	PolicyVersion     string     `json:"policy_version"`
	PolicyFingerprint string     `json:"policy_fingerprint"`
	RulesCount        int        `json:"rules_count"`
	Rules             []ruleBody `json:"rules"`
	BypassMode        bool       `json:"bypass_mode"`
}

// handlePolicyCurrent implements GET /api/v1/policy/current. Its response
// shape doubles as the tamesdk status subcommand's introspection payload.
func (h *Handler) handlePolicyCurrent(w http.ResponseWriter, r *http.Request) {
	snapshot := h.policy.Snapshot()
	if snapshot == nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindNotFound, "no active policy version"))
		return
	}
	rules := make([]ruleBody, len(snapshot.Rules))
	for i, rule := range snapshot.Rules {
		rules[i] = ruleBody{Name: rule.Name, Action: string(rule.Action), Reason: rule.Reason}
	}
	respondJSON(w, h.logger, http.StatusOK, policyCurrentBody{
		PolicyVersion:     snapshot.VersionLabel,
		PolicyFingerprint: snapshot.Fingerprint,
		RulesCount:        len(snapshot.Rules),
		Rules:             rules,
		BypassMode:        h.enforcement.BypassEnabled(),
	})
}

// handlePolicyTest implements GET /api/v1/policy/test. tool_args and
// session_context are passed as JSON-encoded query parameters.
func (h *Handler) handlePolicyTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	toolName := q.Get("tool_name")

	toolArgs, err := parseJSONQueryParam(q.Get("tool_args"))
	if err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "tool_args must be valid JSON"))
		return
	}
	sessionContext, err := parseJSONQueryParam(q.Get("session_context"))
	if err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "session_context must be valid JSON"))
		return
	}

	decision, err := h.enforcement.Test(r.Context(), toolName, toolArgs, sessionContext, nil)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]string{
		"decision":  string(decision.Action),
		"rule_name": decision.RuleName,
		"reason":    decision.Reason,
	})
}

func parseJSONQueryParam(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

type policyValidateRequestBody struct {
	Source string `json:"source"`
}

type policyValidateResponseBody struct {
	IsValid    bool     `json:"is_valid"`
	Errors     []string `json:"errors,omitempty"`
	RulesCount int      `json:"rules_count"`
	Version    string   `json:"version,omitempty"`
}

// handlePolicyValidate implements POST /api/v1/policy/validate.
func (h *Handler) handlePolicyValidate(w http.ResponseWriter, r *http.Request) {
	var body policyValidateRequestBody
	if err := readJSON(w, r, &body); err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "invalid JSON request body"))
		return
	}
	result, err := h.policy.Validate(r.Context(), body.Source)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, policyValidateResponseBody{
		IsValid:    result.OK,
		Errors:     result.Errors,
		RulesCount: result.RulesCount,
		Version:    result.VersionLabel,
	})
}

type policyCreateRequestBody struct {
	Source       string `json:"source"`
	VersionLabel string `json:"version_label"`
	Description  string `json:"description,omitempty"`
	Activate     bool   `json:"activate"`
}

type policyCreateResponseBody struct {
	Success          bool     `json:"success"`
	PolicyID         string   `json:"policy_id,omitempty"`
	Version          string   `json:"version,omitempty"`
	Message          string   `json:"message"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// handlePolicyCreate implements POST /api/v1/policy/create.
func (h *Handler) handlePolicyCreate(w http.ResponseWriter, r *http.Request) {
	var body policyCreateRequestBody
	if err := readJSON(w, r, &body); err != nil {
		respondError(w, h.logger, tameerr.New(tameerr.KindValidation, "invalid JSON request body"))
		return
	}

	result, err := h.policy.Create(r.Context(), body.Source, body.VersionLabel, body.Description, body.Activate)
	if err != nil {
		if te, ok := asTameErr(err); ok && te.Kind == tameerr.KindValidation {
			respondJSON(w, h.logger, http.StatusBadRequest, policyCreateResponseBody{
				Success: false,
				Message: te.Message,
			})
			return
		}
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, policyCreateResponseBody{
		Success:  true,
		PolicyID: result.PolicyID,
		Version:  body.VersionLabel,
		Message:  "policy created",
	})
}

type policyReloadResponseBody struct {
	Status     string `json:"status"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	RulesCount int    `json:"rules_count"`
}

// handlePolicyReload implements POST /api/v1/policy/reload.
func (h *Handler) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	before := h.policy.Snapshot()
	oldVersion := ""
	if before != nil {
		oldVersion = before.VersionLabel
	}

	pv, err := h.policy.Reload(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	newVersion, rulesCount := oldVersion, 0
	if pv != nil {
		newVersion = pv.VersionLabel
		rulesCount = len(pv.Rules)
	}
	respondJSON(w, h.logger, http.StatusOK, policyReloadResponseBody{
		Status:     "ok",
		OldVersion: oldVersion,
		NewVersion: newVersion,
		RulesCount: rulesCount,
	})
}
