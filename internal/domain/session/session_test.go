package session

import (
	"testing"
	"time"
)

func mustParse(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGenerateID_LengthAndUniqueness(t *testing.T) {
	a, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	b, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}

	if len(a) != 64 {
		t.Fatalf("expected 64 hex characters (256 bits), got %d", len(a))
	}
	if a == b {
		t.Fatalf("expected distinct ids across calls")
	}
}

func TestSession_IsExpired(t *testing.T) {
	s := &Session{}
	if s.IsExpired(mustParse("2026-07-31T00:00:00Z")) {
		t.Fatalf("zero RetentionUntil must never expire")
	}

	s.RetentionUntil = mustParse("2026-07-01T00:00:00Z")
	if !s.IsExpired(mustParse("2026-07-31T00:00:00Z")) {
		t.Fatalf("expected expiry after retention_until has passed")
	}
	if s.IsExpired(mustParse("2026-06-30T00:00:00Z")) {
		t.Fatalf("expected no expiry before retention_until")
	}
}
