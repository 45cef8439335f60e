package sqlitestore

import (
	"context"
	"errors"
	"testing"

	"github.com/donbool/tame/internal/domain/policy"
)

const testDoc = `
version: "v1"
rules:
  - name: "allow-read"
    action: allow
    tools: ["fs.read"]
default_action: deny
default_reason: "not explicitly allowed"
`

const testDocV2 = `
version: "v2"
rules:
  - name: "allow-read"
    action: allow
    tools: ["fs.read"]
  - name: "allow-write"
    action: allow
    tools: ["fs.write"]
default_action: deny
default_reason: "not explicitly allowed"
`

func openTestDB(t *testing.T) *PolicyStore {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPolicyStore(db, nil, nil)
}

func TestPolicyStore_CreateAndActivate(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	res, err := store.Create(ctx, testDoc, "", "", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.Activated {
		t.Fatalf("expected Activated true")
	}

	current, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.ID != res.PolicyID || len(current.Rules) != 1 {
		t.Fatalf("unexpected current version: %+v", current)
	}
}

func TestPolicyStore_ActivateSwapsCurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	first, err := store.Create(ctx, testDoc, "", "", true)
	if err != nil {
		t.Fatalf("Create v1: %v", err)
	}
	second, err := store.Create(ctx, testDocV2, "", "", false)
	if err != nil {
		t.Fatalf("Create v2: %v", err)
	}

	actRes, err := store.Activate(ctx, second.PolicyID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if actRes.NewVersion != "v2" {
		t.Fatalf("expected new version v2, got %s", actRes.NewVersion)
	}

	current, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.ID != second.PolicyID {
		t.Fatalf("expected current to be v2, got id %s (v1 id %s)", current.ID, first.PolicyID)
	}
	if len(current.Rules) != 2 {
		t.Fatalf("expected 2 rules in v2, got %d", len(current.Rules))
	}
}

func TestPolicyStore_ActivateUnknownID(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	_, err := store.Activate(ctx, "does-not-exist")
	if !errors.Is(err, policy.ErrNotFound) {
		t.Fatalf("expected policy.ErrNotFound, got %v", err)
	}
}

func TestPolicyStore_ValidateRejectsBadDocument(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	res, err := store.Validate(ctx, "version: \"v1\"\nrules: []\ndefault_action: deny\n")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.OK {
		t.Fatalf("expected validation to fail for empty rule set")
	}
}

func TestPolicyStore_ReloadWithoutBundleIsNoop(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	if _, err := store.Create(ctx, testDoc, "", "", true); err != nil {
		t.Fatalf("Create: %v", err)
	}

	before, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	after, err := store.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if after.Fingerprint != before.Fingerprint {
		t.Fatalf("expected reload to be a no-op without a bound bundle")
	}
}
