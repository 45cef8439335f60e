// Package audit defines the hash-chained, append-only log entry and the
// store contract that backs it.
package audit

import (
	"strings"
	"time"
)

// Status is the outcome lifecycle of a LogEntry: CREATED(pending) ->
// SEALED(success|error). No other transition is legal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// GenesisHash is the fixed constant used as the previous-entry hash for
// the first entry of every session's chain.
const GenesisHash = "genesis"

// LogEntry is the atomic audit record described in §4.3: the fields set
// at Append time are frozen once own-hash is computed; only the outcome
// block below the divider ever changes, and exactly once.
type LogEntry struct {
	ID                 string
	SessionID          string
	SeqIndex           int64
	Timestamp          time.Time
	ToolName           string
	ToolArgs           map[string]any
	PolicyVersionLabel string
	Decision           string // policy.Action value, stored as a plain string at rest
	RuleName           string
	Reason             string
	Bypass             bool

	// --- mutable outcome block, set exactly once by SealOutcome ---
	Status          Status
	Outcome         map[string]any
	ErrorMessage    string
	DurationMillis  int64
	SealedAt        time.Time

	PrevHash string
	OwnHash  string
}

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is considered sensitive if it contains any sensitiveKeywords
// substring (case-insensitive); matched values are replaced in the copy.
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
