package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donbool/tame/internal/adapter/outbound/bundle"
	"github.com/donbool/tame/internal/domain/policy"
)

// PolicyStore implements policy.Store against the embedded sqlite
// database, with activation serialized by a single writer mutex so
// "exactly one active version" never races two concurrent Activate
// calls.
type PolicyStore struct {
	db     *sql.DB
	bundle *bundle.FileBundle
	logger *slog.Logger

	mu       sync.Mutex
	onChange func(policy.ChangeEvent)
}

// NewPolicyStore wraps db. fb may be nil, in which case Reload() is a
// no-op returning the unchanged current version.
func NewPolicyStore(db *sql.DB, fb *bundle.FileBundle, logger *slog.Logger) *PolicyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyStore{db: db, bundle: fb, logger: logger}
}

// OnChange registers a callback invoked after every successful Activate.
func (s *PolicyStore) OnChange(fn func(policy.ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *PolicyStore) Validate(ctx context.Context, source string) (policy.ValidateResult, error) {
	pv, errs, err := policy.ParseDocument(source, true)
	if err != nil {
		return policy.ValidateResult{}, err
	}
	if len(errs) > 0 {
		return policy.ValidateResult{OK: false, Errors: errs}, nil
	}
	return policy.ValidateResult{OK: true, RulesCount: len(pv.Rules), VersionLabel: pv.VersionLabel}, nil
}

func (s *PolicyStore) Create(ctx context.Context, source, versionLabel, description string, activate bool) (policy.CreateResult, error) {
	pv, errs, err := policy.ParseDocument(source, true)
	if err != nil {
		return policy.CreateResult{}, err
	}
	if len(errs) > 0 {
		return policy.CreateResult{}, fmt.Errorf("sqlitestore: invalid policy document: %v", errs)
	}
	if versionLabel != "" {
		pv.VersionLabel = versionLabel
	}
	if description != "" {
		pv.Description = description
	}
	pv.ID = uuid.NewString()
	pv.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return policy.CreateResult{}, fmt.Errorf("sqlitestore: begin create tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO policy_version (id, label, source, fingerprint, description, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		pv.ID, pv.VersionLabel, pv.Source, pv.Fingerprint, pv.Description, pv.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return policy.CreateResult{}, fmt.Errorf("sqlitestore: insert policy version: %w", err)
	}

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE policy_version SET active = 0 WHERE active = 1`); err != nil {
			return policy.CreateResult{}, fmt.Errorf("sqlitestore: deactivate prior version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE policy_version SET active = 1 WHERE id = ?`, pv.ID); err != nil {
			return policy.CreateResult{}, fmt.Errorf("sqlitestore: activate new version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return policy.CreateResult{}, fmt.Errorf("sqlitestore: commit create tx: %w", err)
	}

	if activate {
		s.logger.Info("policy version activated", "policy_id", pv.ID, "label", pv.VersionLabel, "fingerprint", pv.Fingerprint)
		s.notifyChange("", pv.VersionLabel)
	}
	return policy.CreateResult{PolicyID: pv.ID, Fingerprint: pv.Fingerprint, Activated: activate}, nil
}

func (s *PolicyStore) Activate(ctx context.Context, policyID string) (policy.ActivateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return policy.ActivateResult{}, fmt.Errorf("sqlitestore: begin activate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var oldLabel string
	_ = tx.QueryRowContext(ctx, `SELECT label FROM policy_version WHERE active = 1`).Scan(&oldLabel)

	var newLabel string
	if err := tx.QueryRowContext(ctx, `SELECT label FROM policy_version WHERE id = ?`, policyID).Scan(&newLabel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.ActivateResult{}, fmt.Errorf("sqlitestore: policy %s: %w", policyID, policy.ErrNotFound)
		}
		return policy.ActivateResult{}, fmt.Errorf("sqlitestore: lookup policy %s: %w", policyID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE policy_version SET active = 0 WHERE active = 1`); err != nil {
		return policy.ActivateResult{}, fmt.Errorf("sqlitestore: deactivate prior version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE policy_version SET active = 1 WHERE id = ?`, policyID); err != nil {
		return policy.ActivateResult{}, fmt.Errorf("sqlitestore: activate version %s: %w", policyID, err)
	}
	if err := tx.Commit(); err != nil {
		return policy.ActivateResult{}, fmt.Errorf("sqlitestore: commit activate tx: %w", err)
	}

	s.logger.Info("policy version activated", "policy_id", policyID, "old_label", oldLabel, "new_label", newLabel)
	s.notifyChange(oldLabel, newLabel)
	return policy.ActivateResult{OldVersion: oldLabel, NewVersion: newLabel}, nil
}

func (s *PolicyStore) Current(ctx context.Context) (*policy.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, source, fingerprint, description, created_at
		FROM policy_version WHERE active = 1`)
	return scanPolicyVersion(row)
}

func (s *PolicyStore) Get(ctx context.Context, policyID string) (*policy.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, source, fingerprint, description, created_at
		FROM policy_version WHERE id = ?`, policyID)
	return scanPolicyVersion(row)
}

// Reload re-reads the file bundle (if bound), and if its contents differ
// from the active version's source, creates and activates a new version
// from it. Returns the unchanged current version when no file is bound
// or the file is unchanged.
func (s *PolicyStore) Reload(ctx context.Context) (*policy.PolicyVersion, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if s.bundle == nil || !s.bundle.Bound() {
		return current, nil
	}

	data, err := s.bundle.Read()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: reload bundle: %w", err)
	}
	source := string(data)
	if current != nil && current.Source == source {
		return current, nil
	}

	if _, err := s.Create(ctx, source, "", "reloaded from file bundle", true); err != nil {
		return nil, err
	}
	return s.Current(ctx)
}

func (s *PolicyStore) notifyChange(old, new string) {
	if s.onChange == nil {
		return
	}
	s.onChange(policy.ChangeEvent{OldVersion: old, NewVersion: new, At: time.Now().UTC()})
}

func scanPolicyVersion(row *sql.Row) (*policy.PolicyVersion, error) {
	var (
		id, label, source, fingerprint, description, createdAt string
	)
	if err := row.Scan(&id, &label, &source, &fingerprint, &description, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, policy.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: scan policy version: %w", err)
	}

	pv, errs, err := policy.ParseDocument(source, false)
	if err != nil || len(errs) > 0 {
		return nil, fmt.Errorf("sqlitestore: stored policy version %s failed to re-parse: %v / %w", id, errs, err)
	}
	pv.ID = id
	pv.VersionLabel = label
	pv.Fingerprint = fingerprint
	pv.Description = description
	ts, _ := time.Parse(time.RFC3339Nano, createdAt)
	pv.CreatedAt = ts
	pv.Active = true
	return pv, nil
}
