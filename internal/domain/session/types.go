// Package session holds the session entity that scopes an audit chain:
// one row per agent run, carrying the metadata bag merged into every
// evaluation's context and the archival/retention state C5 manages.
package session

import "time"

// Session is one row of the persisted session table.
type Session struct {
	ID             string
	CreatedAt      time.Time
	AgentID        string
	UserID         string
	Metadata       map[string]any
	Archived       bool
	ArchivedAt     time.Time
	ArchivedBy     string
	RetentionUntil time.Time
}

// IsExpired reports whether s has a retention window and it has passed.
func (s *Session) IsExpired(asOf time.Time) bool {
	return !s.RetentionUntil.IsZero() && asOf.After(s.RetentionUntil)
}
