package audit

import (
	"testing"
	"time"
)

func sampleEntry() LogEntry {
	return LogEntry{
		SessionID:          "s1",
		SeqIndex:           1,
		Timestamp:          time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		ToolName:           "fs.read",
		ToolArgs:           map[string]any{"path": "/tmp/a"},
		PolicyVersionLabel: "v1",
		Decision:           "allow",
		RuleName:           "allow-read",
		Reason:             "matched allow-read",
	}
}

func TestComputeOwnHash_Deterministic(t *testing.T) {
	secret := []byte("test-secret")
	e := sampleEntry()

	h1 := ComputeOwnHash(secret, e, GenesisHash)
	h2 := ComputeOwnHash(secret, e, GenesisHash)
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s vs %s", h1, h2)
	}
}

func TestComputeOwnHash_OutcomeDoesNotAffectHash(t *testing.T) {
	secret := []byte("test-secret")
	e := sampleEntry()

	before := ComputeOwnHash(secret, e, GenesisHash)

	e.Status = StatusSuccess
	e.Outcome = map[string]any{"rows": 3}
	e.DurationMillis = 42

	after := ComputeOwnHash(secret, e, GenesisHash)
	if before != after {
		t.Fatalf("sealing outcome must not change the own-hash: %s vs %s", before, after)
	}
}

func TestVerifyOwnHash_DetectsTamper(t *testing.T) {
	secret := []byte("test-secret")
	e := sampleEntry()
	e.OwnHash = ComputeOwnHash(secret, e, GenesisHash)

	if !VerifyOwnHash(secret, e, GenesisHash) {
		t.Fatalf("expected untampered entry to verify")
	}

	tampered := e
	tampered.ToolArgs = map[string]any{"path": "/etc/passwd"}
	if VerifyOwnHash(secret, tampered, GenesisHash) {
		t.Fatalf("expected tampered tool_args to break verification")
	}
}

func TestComputeOwnHash_ChainsToPrevious(t *testing.T) {
	secret := []byte("test-secret")
	e1 := sampleEntry()
	h1 := ComputeOwnHash(secret, e1, GenesisHash)

	e2 := sampleEntry()
	e2.SeqIndex = 2
	h2a := ComputeOwnHash(secret, e2, h1)
	h2b := ComputeOwnHash(secret, e2, "a-different-prev-hash")

	if h2a == h2b {
		t.Fatalf("own-hash must depend on prev-hash")
	}
}
