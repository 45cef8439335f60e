package tame

import "errors"

// Sentinel errors clients can compare against with errors.Is.
var (
	// ErrPolicyDenied is returned by Enforce (when WithRaiseOnDeny(true))
	// for a DENY decision.
	ErrPolicyDenied = errors.New("tame: policy denied")
	// ErrApprovalRequired is returned by Enforce (when WithRaiseOnDeny(true))
	// for an APPROVE decision.
	ErrApprovalRequired = errors.New("tame: approval required")
	// ErrServerUnreachable is returned when the client could not reach
	// tamed at all (connection refused, timeout, DNS failure).
	ErrServerUnreachable = errors.New("tame: server unreachable")
	// ErrConflict is returned by UpdateResult when the entry was already
	// sealed.
	ErrConflict = errors.New("tame: entry already sealed")
)

// PolicyDeniedError carries the decision detail for a DENY verdict.
type PolicyDeniedError struct {
	RuleName string
	Reason   string
	LogID    string
}

func (e *PolicyDeniedError) Error() string {
	if e.RuleName != "" {
		return "tame: denied by rule " + e.RuleName + ": " + e.Reason
	}
	return "tame: denied: " + e.Reason
}

func (e *PolicyDeniedError) Is(target error) bool { return target == ErrPolicyDenied }

// ApprovalRequiredError carries the decision detail for an APPROVE verdict.
type ApprovalRequiredError struct {
	RuleName string
	Reason   string
	LogID    string
}

func (e *ApprovalRequiredError) Error() string {
	if e.RuleName != "" {
		return "tame: approval required by rule " + e.RuleName + ": " + e.Reason
	}
	return "tame: approval required: " + e.Reason
}

func (e *ApprovalRequiredError) Is(target error) bool { return target == ErrApprovalRequired }

// ServerUnreachableError wraps the underlying transport error.
type ServerUnreachableError struct {
	Cause error
}

func (e *ServerUnreachableError) Error() string {
	return "tame: server unreachable: " + e.Cause.Error()
}

func (e *ServerUnreachableError) Unwrap() error { return e.Cause }

func (e *ServerUnreachableError) Is(target error) bool { return target == ErrServerUnreachable }

// ConflictError is returned by UpdateResult when the target entry is no
// longer pending.
type ConflictError struct {
	LogID string
}

func (e *ConflictError) Error() string {
	return "tame: log entry " + e.LogID + " is already sealed"
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// APIError is returned for any other non-2xx response from tamed.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return "tame: " + e.Kind + ": " + e.Message
}
