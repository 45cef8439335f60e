package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/donbool/tame/internal/domain/session"
)

// SessionStore implements session.Store against the embedded sqlite
// database.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) GetOrCreate(ctx context.Context, id, agentID, userID string) (*session.Session, error) {
	existing, err := s.Get(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:        id,
		CreatedAt: now,
		AgentID:   agentID,
		UserID:    userID,
		Metadata:  map[string]any{},
	}
	metadataJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: marshal session metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session (id, created_at, agent_id, user_id, metadata, archived)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.CreatedAt.Format(time.RFC3339Nano), sess.AgentID, sess.UserID, string(metadataJSON))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: insert session %s: %w", id, err)
	}

	// Another goroutine may have won the race to create the row first;
	// re-read so the caller always gets the row actually persisted.
	return s.Get(ctx, id)
}

func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, agent_id, user_id, metadata, archived, archived_at, archived_by, retention_until
		FROM session WHERE id = ?`, id)

	var (
		sess                          session.Session
		createdAt                     string
		metadataJSON                  string
		archivedInt                   int
		archivedAt, archivedBy, retention sql.NullString
	)
	if err := row.Scan(&sess.ID, &createdAt, &sess.AgentID, &sess.UserID, &metadataJSON,
		&archivedInt, &archivedAt, &archivedBy, &retention); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: scan session %s: %w", id, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: parse session created_at: %w", err)
	}
	sess.CreatedAt = ts

	if err := json.Unmarshal([]byte(metadataJSON), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal session metadata: %w", err)
	}
	sess.Archived = archivedInt != 0
	sess.ArchivedBy = archivedBy.String
	if archivedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, archivedAt.String); err == nil {
			sess.ArchivedAt = t
		}
	}
	if retention.Valid {
		if t, err := time.Parse(time.RFC3339Nano, retention.String); err == nil {
			sess.RetentionUntil = t
		}
	}
	return &sess, nil
}

var _ session.Store = (*SessionStore)(nil)
