package policy

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Activate/Get when the given policy id
// is unknown.
var ErrNotFound = errors.New("policy: not found")

// Evaluator is the pure decision function (C2): Evaluate(policy_snapshot,
// call) -> Decision. Implementations MUST be deterministic: identical
// inputs on the same wall-clock sample produce byte-identical Decisions.
type Evaluator interface {
	Evaluate(snapshot *PolicyVersion, call Call) (Decision, error)
}

// ValidateResult is the outcome of validating a declarative policy
// document without touching storage.
type ValidateResult struct {
	OK           bool
	RulesCount   int
	VersionLabel string
	Errors       []string
}

// CreateResult is returned by Store.Create.
type CreateResult struct {
	PolicyID    string
	Fingerprint string
	Activated   bool
}

// ActivateResult is returned by Store.Activate.
type ActivateResult struct {
	OldVersion string
	NewVersion string
}

// Store is the Policy Store contract (C1).
type Store interface {
	// Validate parses source without persisting anything.
	Validate(ctx context.Context, source string) (ValidateResult, error)
	// Create validates then persists a new policy version, optionally
	// activating it in the same transaction.
	Create(ctx context.Context, source, versionLabel, description string, activate bool) (CreateResult, error)
	// Activate makes policyID the sole active version.
	Activate(ctx context.Context, policyID string) (ActivateResult, error)
	// Current returns the active policy version.
	Current(ctx context.Context) (*PolicyVersion, error)
	// Reload re-reads the on-disk bundle bound to the active version
	// label, if file-tracking is configured, and replaces the compiled
	// cache. It is a no-op (returning the unchanged current version) when
	// no file is bound.
	Reload(ctx context.Context) (*PolicyVersion, error)
	// Get returns a specific policy version by ID, active or not.
	Get(ctx context.Context, policyID string) (*PolicyVersion, error)
}

// ChangeEvent is emitted on a single-writer channel whenever Activate
// completes, so the Enforcement Service can react without polling.
type ChangeEvent struct {
	OldVersion string
	NewVersion string
	At         time.Time
}
