// Package tame is the Go client SDK for tamed, the policy enforcement
// and audit service. A minimal integration looks like:
//
//	client := tame.NewClient(tame.WithAPIURL("http://localhost:8080"), tame.WithAPIKey(key))
//	resp, err := client.Enforce(ctx, "fs.read", map[string]any{"path": "/tmp/a"})
//	if err != nil {
//	    // transport/validation failure
//	}
//	switch resp.Decision {
//	case tame.DecisionAllow:
//	    result, execErr := doTheActualWork()
//	    _ = client.UpdateResult(ctx, resp.SessionID, resp.LogID, tame.ResultPayload{
//	        Status: tame.OutcomeSuccess,
//	        Result: result,
//	    })
//	case tame.DecisionDeny, tame.DecisionApprove:
//	    // handle as a first-class response, not an exception
//	}
package tame

import "time"

// Decision is the evaluator's verdict returned by Enforce.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionDeny    Decision = "deny"
	DecisionApprove Decision = "approve"
)

// Outcome is the status UpdateResult reports back for a log entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// EnforceRequest is the body of POST /api/v1/enforce.
type EnforceRequest struct {
	ToolName  string         `json:"tool_name"`
	ToolArgs  map[string]any `json:"tool_args,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// EnforceResponse is the body of a successful POST /api/v1/enforce.
type EnforceResponse struct {
	SessionID     string    `json:"session_id"`
	Decision      Decision  `json:"decision"`
	RuleName      string    `json:"rule_name,omitempty"`
	Reason        string    `json:"reason"`
	PolicyVersion string    `json:"policy_version"`
	LogID         string    `json:"log_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// ResultPayload is the body of POST /api/v1/enforce/{session_id}/result.
type ResultPayload struct {
	Status         Outcome        `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	DurationMillis int64          `json:"duration_ms,omitempty"`
}

// PolicyRule summarizes one rule from the active policy version.
type PolicyRule struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// StatusResponse is the body of GET /api/v1/policy/current and similar
// introspection calls used by the tamesdk CLI's status/policy subcommands.
type StatusResponse struct {
	Reachable         bool         `json:"reachable"`
	AuthConfigured    bool         `json:"auth_configured"`
	PolicyVersion     string       `json:"policy_version"`
	PolicyFingerprint string       `json:"policy_fingerprint"`
	RulesCount        int          `json:"rules_count"`
	Rules             []PolicyRule `json:"rules,omitempty"`
	BypassMode        bool         `json:"bypass_mode"`
}
