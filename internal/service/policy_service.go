// Package service orchestrates the domain ports into the operations the
// API surface calls: policy lifecycle (C1 glue), audit writes (C3 glue),
// per-request enforcement (C4), and retention sweeping (C5).
package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/donbool/tame/internal/domain/policy"
	"github.com/donbool/tame/internal/tameerr"
)

// PolicyService glues the Policy Store (C1) to an atomic snapshot
// pointer so Enforcement Service reads never block on activation, and
// wraps store errors into the closed tameerr.Kind taxonomy.
type PolicyService struct {
	store    policy.Store
	snapshot atomic.Pointer[policy.PolicyVersion]
}

// NewPolicyService constructs a PolicyService and loads the current
// snapshot, if any version is already active.
func NewPolicyService(ctx context.Context, store policy.Store) (*PolicyService, error) {
	s := &PolicyService{store: store}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the active policy version, a lock-free atomic load.
// Returns nil if no version is active yet.
func (s *PolicyService) Snapshot() *policy.PolicyVersion {
	return s.snapshot.Load()
}

func (s *PolicyService) refresh(ctx context.Context) error {
	current, err := s.store.Current(ctx)
	if err != nil {
		if err == policy.ErrNotFound {
			return nil
		}
		return tameerr.New(tameerr.KindServer, fmt.Sprintf("load current policy version: %v", err))
	}
	s.snapshot.Store(current)
	return nil
}

// Validate parses source without persisting, returning VALIDATION
// details rather than an error for ordinary validation failures.
func (s *PolicyService) Validate(ctx context.Context, source string) (policy.ValidateResult, error) {
	res, err := s.store.Validate(ctx, source)
	if err != nil {
		return policy.ValidateResult{}, tameerr.New(tameerr.KindValidation, err.Error())
	}
	return res, nil
}

// Create validates then persists a new version, refreshing the snapshot
// when activate is true.
func (s *PolicyService) Create(ctx context.Context, source, versionLabel, description string, activate bool) (policy.CreateResult, error) {
	res, err := s.store.Create(ctx, source, versionLabel, description, activate)
	if err != nil {
		return policy.CreateResult{}, tameerr.New(tameerr.KindValidation, err.Error())
	}
	if activate {
		if err := s.refresh(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Activate makes policyID the sole active version and refreshes the
// snapshot pointer in the same call.
func (s *PolicyService) Activate(ctx context.Context, policyID string) (policy.ActivateResult, error) {
	res, err := s.store.Activate(ctx, policyID)
	if err != nil {
		if err == policy.ErrNotFound {
			return policy.ActivateResult{}, tameerr.New(tameerr.KindConflict, fmt.Sprintf("policy %s does not exist", policyID))
		}
		return policy.ActivateResult{}, tameerr.New(tameerr.KindServer, err.Error())
	}
	if err := s.refresh(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Reload re-reads the bound file bundle (if any) and refreshes the
// snapshot if its contents produced a new active version.
func (s *PolicyService) Reload(ctx context.Context) (*policy.PolicyVersion, error) {
	pv, err := s.store.Reload(ctx)
	if err != nil {
		return nil, tameerr.New(tameerr.KindServer, err.Error())
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return pv, nil
}

// Get returns a specific policy version by id, active or not.
func (s *PolicyService) Get(ctx context.Context, policyID string) (*policy.PolicyVersion, error) {
	pv, err := s.store.Get(ctx, policyID)
	if err != nil {
		if err == policy.ErrNotFound {
			return nil, tameerr.New(tameerr.KindNotFound, fmt.Sprintf("policy %s not found", policyID))
		}
		return nil, tameerr.New(tameerr.KindServer, err.Error())
	}
	return pv, nil
}
