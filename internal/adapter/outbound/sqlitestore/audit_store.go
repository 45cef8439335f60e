package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donbool/tame/internal/domain/audit"
)

// AuditStore implements audit.Store against the embedded sqlite database.
// Append/SealOutcome are synchronous and hash-chained per §4.3; a striped
// per-session mutex serializes concurrent Appends for the same session
// without serializing unrelated sessions against each other, mirroring
// the teacher's striped-lock idiom for per-key critical sections.
type AuditStore struct {
	db     *sql.DB
	secret []byte

	stripesMu sync.Mutex
	stripes   map[string]*sync.Mutex
}

// NewAuditStore wraps db, using secret as the HMAC key for the hash chain.
func NewAuditStore(db *sql.DB, secret []byte) *AuditStore {
	return &AuditStore{db: db, secret: secret, stripes: make(map[string]*sync.Mutex)}
}

func (s *AuditStore) stripe(sessionID string) *sync.Mutex {
	s.stripesMu.Lock()
	defer s.stripesMu.Unlock()
	m, ok := s.stripes[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.stripes[sessionID] = m
	}
	return m
}

func (s *AuditStore) Append(ctx context.Context, entry audit.LogEntry) (string, error) {
	lock := s.stripe(entry.SessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: begin append tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var maxSeq sql.NullInt64
	var prevHash sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT seq_index, own_hash FROM log_entry
		WHERE session_id = ? ORDER BY seq_index DESC LIMIT 1`, entry.SessionID).
		Scan(&maxSeq, &prevHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		entry.SeqIndex = 1
		entry.PrevHash = audit.GenesisHash
	case err != nil:
		return "", fmt.Errorf("sqlitestore: lookup chain tail for session %s: %w", entry.SessionID, err)
	default:
		entry.SeqIndex = maxSeq.Int64 + 1
		entry.PrevHash = prevHash.String
	}

	entry.ID = uuid.NewString()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = audit.StatusPending
	}
	entry.OwnHash = audit.ComputeOwnHash(s.secret, entry, entry.PrevHash)

	toolArgsJSON, err := json.Marshal(entry.ToolArgs)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: marshal tool_args: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO log_entry (
			id, session_id, seq_index, timestamp, tool_name, tool_args,
			policy_version_label, decision, rule_name, reason, bypass,
			status, error_message, duration_ms, prev_hash, own_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.SeqIndex, entry.Timestamp.Format(time.RFC3339Nano),
		entry.ToolName, string(toolArgsJSON), entry.PolicyVersionLabel, entry.Decision,
		entry.RuleName, entry.Reason, entry.Bypass, entry.Status, "", 0,
		entry.PrevHash, entry.OwnHash)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: insert log entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlitestore: commit append tx: %w", err)
	}
	return entry.ID, nil
}

func (s *AuditStore) SealOutcome(ctx context.Context, entryID string, outcome audit.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin seal tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status audit.Status
	if err := tx.QueryRowContext(ctx, `SELECT status FROM log_entry WHERE id = ?`, entryID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.ErrNotFound
		}
		return fmt.Errorf("sqlitestore: lookup entry %s: %w", entryID, err)
	}
	if status != audit.StatusPending {
		return audit.ErrAlreadySealed
	}

	outcomeJSON, err := json.Marshal(outcome.Result)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal outcome result: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE log_entry
		SET status = ?, outcome = ?, error_message = ?, duration_ms = ?, sealed_at = ?
		WHERE id = ?`,
		outcome.Status, string(outcomeJSON), outcome.ErrorMessage, outcome.DurationMillis,
		time.Now().UTC().Format(time.RFC3339Nano), entryID)
	if err != nil {
		return fmt.Errorf("sqlitestore: seal entry %s: %w", entryID, err)
	}
	return tx.Commit()
}

func (s *AuditStore) GetSession(ctx context.Context, sessionID string, offset, limit int) ([]audit.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+logEntryColumns+`
		FROM log_entry WHERE session_id = ?
		ORDER BY seq_index ASC LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query session entries: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

func (s *AuditStore) GetEntry(ctx context.Context, entryID string) (audit.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logEntryColumns+` FROM log_entry WHERE id = ?`, entryID)
	e, err := scanLogEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.LogEntry{}, audit.ErrNotFound
		}
		return audit.LogEntry{}, err
	}
	return e, nil
}

func (s *AuditStore) ListSessions(ctx context.Context, filter audit.SessionFilter) ([]audit.SessionSummary, error) {
	where := "WHERE 1=1"
	args := []any{}
	if filter.AgentID != "" {
		where += " AND s.agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.UserID != "" {
		where += " AND s.user_id = ?"
		args = append(args, filter.UserID)
	}
	if !filter.IncludeArchived {
		where += " AND s.archived = 0"
	}
	if !filter.Start.IsZero() {
		where += " AND s.created_at >= ?"
		args = append(args, filter.Start.UTC().Format(time.RFC3339Nano))
	}
	if !filter.End.IsZero() {
		where += " AND s.created_at <= ?"
		args = append(args, filter.End.UTC().Format(time.RFC3339Nano))
	}

	page, pageSize := filter.Page, filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}
	args = append(args, pageSize, (page-1)*pageSize)

	query := `
		SELECT s.id, s.agent_id, s.user_id, s.created_at, s.archived, s.archived_at,
			COUNT(l.id),
			SUM(CASE WHEN l.decision = 'allow' THEN 1 ELSE 0 END),
			SUM(CASE WHEN l.decision = 'deny' THEN 1 ELSE 0 END),
			SUM(CASE WHEN l.decision = 'approve' THEN 1 ELSE 0 END)
		FROM session s
		LEFT JOIN log_entry l ON l.session_id = s.id
		` + where + `
		GROUP BY s.id
		ORDER BY s.created_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []audit.SessionSummary
	for rows.Next() {
		var (
			sum                                   audit.SessionSummary
			createdAt                              string
			archivedInt                            int
			archivedAt                             sql.NullString
			allowCount, denyCount, approveCount    sql.NullInt64
		)
		if err := rows.Scan(&sum.SessionID, &sum.AgentID, &sum.UserID, &createdAt, &archivedInt, &archivedAt,
			&sum.EntryCount, &allowCount, &denyCount, &approveCount); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan session summary: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			sum.CreatedAt = ts
		}
		sum.Archived = archivedInt != 0
		if archivedAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, archivedAt.String); err == nil {
				sum.ArchivedAt = ts
			}
		}
		sum.AllowCount = allowCount.Int64
		sum.DenyCount = denyCount.Int64
		sum.ApproveCount = approveCount.Int64
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Verify recomputes each entry's own-hash within rng and reports
// mismatches and index gaps. Pure read, no mutation.
func (s *AuditStore) Verify(ctx context.Context, rng audit.SessionRange) (audit.VerifyResult, error) {
	where := "WHERE 1=1"
	args := []any{}
	if rng.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, rng.SessionID)
	}
	if !rng.Start.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, rng.Start.UTC().Format(time.RFC3339Nano))
	}
	if !rng.End.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, rng.End.UTC().Format(time.RFC3339Nano))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+logEntryColumns+` FROM log_entry `+where+`
		ORDER BY session_id ASC, seq_index ASC`, args...)
	if err != nil {
		return audit.VerifyResult{}, fmt.Errorf("sqlitestore: verify query: %w", err)
	}
	defer rows.Close()

	entries, err := scanLogEntries(rows)
	if err != nil {
		return audit.VerifyResult{}, err
	}

	var result audit.VerifyResult
	lastSeq := map[string]int64{}
	lastHash := map[string]string{}
	for _, e := range entries {
		result.EntriesChecked++

		prevHash, seen := lastHash[e.SessionID]
		if !seen {
			prevHash = audit.GenesisHash
			lastSeq[e.SessionID] = 0
		}

		if e.SeqIndex != lastSeq[e.SessionID]+1 {
			result.Violations = append(result.Violations, audit.Violation{
				SessionID: e.SessionID, SeqIndex: e.SeqIndex, Kind: "index_gap",
				Detail: fmt.Sprintf("expected seq_index %d, found %d", lastSeq[e.SessionID]+1, e.SeqIndex),
			})
		}
		if !audit.VerifyOwnHash(s.secret, e, prevHash) {
			result.Violations = append(result.Violations, audit.Violation{
				SessionID: e.SessionID, SeqIndex: e.SeqIndex, Kind: "hash_mismatch",
				Detail: "own_hash does not match recomputed HMAC chain",
			})
		}

		lastSeq[e.SessionID] = e.SeqIndex
		lastHash[e.SessionID] = e.OwnHash
	}
	return result, nil
}

func (s *AuditStore) Export(ctx context.Context, filter audit.ExportFilter, format audit.ExportFormat) ([]byte, error) {
	where := "WHERE 1=1"
	args := []any{}
	if filter.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if !filter.Start.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, filter.Start.UTC().Format(time.RFC3339Nano))
	}
	if !filter.End.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, filter.End.UTC().Format(time.RFC3339Nano))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+logEntryColumns+` FROM log_entry `+where+`
		ORDER BY session_id ASC, seq_index ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: export query: %w", err)
	}
	defer rows.Close()

	entries, err := scanLogEntries(rows)
	if err != nil {
		return nil, err
	}

	switch format {
	case audit.ExportCSV:
		return exportCSV(entries)
	default:
		return json.Marshal(entries)
	}
}

func exportCSV(entries []audit.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "session_id", "seq_index", "timestamp", "tool_name",
		"policy_version", "decision", "rule_name", "reason", "bypass", "status",
		"error_message", "duration_ms", "prev_hash", "own_hash"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("sqlitestore: write csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID, e.SessionID, strconv.FormatInt(e.SeqIndex, 10),
			e.Timestamp.UTC().Format(time.RFC3339Nano), e.ToolName,
			e.PolicyVersionLabel, e.Decision, e.RuleName, e.Reason,
			strconv.FormatBool(e.Bypass), string(e.Status), e.ErrorMessage,
			strconv.FormatInt(e.DurationMillis, 10), e.PrevHash, e.OwnHash,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("sqlitestore: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("sqlitestore: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *AuditStore) ArchiveSessions(ctx context.Context, sessionIDs []string, retentionDays int, archivedBy string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	retentionUntil := now.AddDate(0, 0, retentionDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin archive tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE session SET archived = 1, archived_at = ?, archived_by = ?, retention_until = ?
		WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare archive stmt: %w", err)
	}
	defer stmt.Close()

	for _, id := range sessionIDs {
		if _, err := stmt.ExecContext(ctx, now.Format(time.RFC3339Nano), archivedBy,
			retentionUntil.Format(time.RFC3339Nano), id); err != nil {
			return fmt.Errorf("sqlitestore: archive session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *AuditStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM log_entry WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: delete log entries for %s: %w", sessionID, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("sqlitestore: delete session %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlitestore: commit delete tx: %w", err)
	}
	return deleted, nil
}

func (s *AuditStore) ExpiredSessions(ctx context.Context, asOf time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM session
		WHERE retention_until IS NOT NULL AND retention_until <= ?`,
		asOf.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: expired sessions query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan expired session id: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

const logEntryColumns = `
	id, session_id, seq_index, timestamp, tool_name, tool_args,
	policy_version_label, decision, rule_name, reason, bypass,
	status, outcome, error_message, duration_ms, sealed_at, prev_hash, own_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLogEntry(row rowScanner) (audit.LogEntry, error) {
	var (
		e                                    audit.LogEntry
		timestamp                            string
		toolArgsJSON                         string
		bypassInt                            int
		outcomeJSON, sealedAt                sql.NullString
		status                               string
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.SeqIndex, &timestamp, &e.ToolName, &toolArgsJSON,
		&e.PolicyVersionLabel, &e.Decision, &e.RuleName, &e.Reason, &bypassInt,
		&status, &outcomeJSON, &e.ErrorMessage, &e.DurationMillis, &sealedAt, &e.PrevHash, &e.OwnHash); err != nil {
		return audit.LogEntry{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("sqlitestore: parse log entry timestamp: %w", err)
	}
	e.Timestamp = ts
	e.Bypass = bypassInt != 0
	e.Status = audit.Status(status)

	if err := json.Unmarshal([]byte(toolArgsJSON), &e.ToolArgs); err != nil {
		return audit.LogEntry{}, fmt.Errorf("sqlitestore: unmarshal tool_args: %w", err)
	}
	if outcomeJSON.Valid && outcomeJSON.String != "" && outcomeJSON.String != "null" {
		if err := json.Unmarshal([]byte(outcomeJSON.String), &e.Outcome); err != nil {
			return audit.LogEntry{}, fmt.Errorf("sqlitestore: unmarshal outcome: %w", err)
		}
	}
	if sealedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, sealedAt.String); err == nil {
			e.SealedAt = t
		}
	}
	return e, nil
}

func scanLogEntries(rows *sql.Rows) ([]audit.LogEntry, error) {
	var out []audit.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ audit.Store = (*AuditStore)(nil)
