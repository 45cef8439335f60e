package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session id is unknown to the store.
var ErrNotFound = errors.New("session: not found")

// Store is the session-row half of the persisted state (the audit.Store
// owns log entries; Store owns the session row they're scoped to).
type Store interface {
	// GetOrCreate returns the existing session for id, or creates a new
	// row with the given agent/user ids if none exists yet.
	GetOrCreate(ctx context.Context, id, agentID, userID string) (*Session, error)
	// Get returns a session by id.
	Get(ctx context.Context, id string) (*Session, error)
}

// GenerateID creates a cryptographically random session identifier: 32
// bytes of crypto/rand, hex-encoded to 64 characters — well above the
// spec's 128-bit collision-resistance floor.
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
