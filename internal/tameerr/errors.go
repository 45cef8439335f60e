// Package tameerr defines the single typed error used throughout the
// server, carrying one of the closed set of Kinds from the error
// handling design instead of an open set of per-case sentinels.
package tameerr

import "net/http"

// Kind is the closed taxonomy of error categories a request handler maps
// onto HTTP status codes.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindPolicyDenied       Kind = "POLICY_DENIED"
	KindApprovalRequired   Kind = "APPROVAL_REQUIRED"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindIntegrityViolation Kind = "INTEGRITY_VIOLATION"
	KindServer             Kind = "SERVER"
)

// Error is the one error type every layer of this service returns.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// New constructs an *Error with no details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error carrying Details.
func Newf(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// HTTPStatus maps Kind onto the status codes fixed by the error table.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPolicyDenied, KindApprovalRequired:
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindIntegrityViolation:
		return http.StatusUnprocessableEntity
	case KindServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
