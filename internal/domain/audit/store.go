package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by AuditStore implementations.
var (
	// ErrNotFound is returned when a session or log entry id is unknown.
	ErrNotFound = errors.New("audit: not found")
	// ErrAlreadySealed is returned by SealOutcome when the entry's status
	// is not pending.
	ErrAlreadySealed = errors.New("audit: entry already sealed")
	// ErrDateRangeExceeded is returned when a query date range exceeds
	// the maximum allowed window.
	ErrDateRangeExceeded = errors.New("audit: date range exceeds maximum allowed window")
)

// Outcome is the payload SealOutcome writes into a pending entry.
type Outcome struct {
	Status         Status
	Result         map[string]any
	ErrorMessage   string
	DurationMillis int64
}

// SessionFilter specifies query parameters for ListSessions.
type SessionFilter struct {
	AgentID         string
	UserID          string
	IncludeArchived bool
	Start, End      time.Time
	Page, PageSize  int
}

// SessionSummary aggregates per-session decision counts.
type SessionSummary struct {
	SessionID   string
	AgentID     string
	UserID      string
	CreatedAt   time.Time
	Archived    bool
	ArchivedAt  time.Time
	EntryCount  int64
	AllowCount  int64
	DenyCount   int64
	ApproveCount int64
}

// ExportFilter specifies the scope of an Export call.
type ExportFilter struct {
	SessionID string
	Start, End time.Time
}

// ExportFormat selects Export's serialization.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// VerifyResult is the outcome of Verify: the chain was walked and any
// broken links or index gaps are reported, without mutating anything.
type VerifyResult struct {
	EntriesChecked int64
	Violations     []Violation
}

// Violation describes one integrity problem found by Verify.
type Violation struct {
	SessionID string
	SeqIndex  int64
	Kind      string // "hash_mismatch" | "index_gap"
	Detail    string
}

// ChainIntact reports whether Verify found zero violations.
func (r VerifyResult) ChainIntact() bool {
	return len(r.Violations) == 0
}

// SessionRange scopes Verify/Export/reporting to one or more sessions
// across a time window; an empty SessionID means "all sessions".
type SessionRange struct {
	SessionID  string
	Start, End time.Time
}

// Store is the Audit Log contract (C3). Append and SealOutcome are
// synchronous: both return only after the write has committed, since the
// spec requires the caller to receive entry/outcome ids it can act on
// immediately and requires a failed append to fail the enforce call.
type Store interface {
	// Append acquires a per-session append lock, computes the next
	// contiguous index and the own-hash chained to the previous entry,
	// writes the row transactionally, and returns the assigned entry id.
	Append(ctx context.Context, entry LogEntry) (string, error)

	// SealOutcome locates entryID, verifies its status is pending, and
	// writes the outcome fields. The own-hash is untouched by this call.
	SealOutcome(ctx context.Context, entryID string, outcome Outcome) error

	// GetSession returns sessionID's entries ordered by index
	// ascending, paginated by (offset, limit).
	GetSession(ctx context.Context, sessionID string, offset, limit int) ([]LogEntry, error)

	// GetEntry returns a single entry by id, used to validate
	// (session_id, log_id) pairs before sealing.
	GetEntry(ctx context.Context, entryID string) (LogEntry, error)

	// ListSessions returns paged session summaries matching filter.
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionSummary, error)

	// Verify recomputes each entry's own-hash in the given range and
	// reports mismatches and index gaps. Pure read.
	Verify(ctx context.Context, rng SessionRange) (VerifyResult, error)

	// Export renders filtered entries as canonical JSON or CSV, ordered
	// by session id ascending then entry index ascending.
	Export(ctx context.Context, filter ExportFilter, format ExportFormat) ([]byte, error)

	// ArchiveSessions marks sessionIDs archived with the given retention
	// window, per C5.ScheduleArchival.
	ArchiveSessions(ctx context.Context, sessionIDs []string, retentionDays int, archivedBy string) error

	// DeleteSession deletes a session and all of its log entries in a
	// single transaction, returning the number of entries deleted.
	DeleteSession(ctx context.Context, sessionID string) (int64, error)

	// ExpiredSessions returns session ids whose retention_until has
	// passed, for C5.SweepExpired.
	ExpiredSessions(ctx context.Context, asOf time.Time) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
