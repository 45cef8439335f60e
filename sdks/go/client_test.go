package tame

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Enforce_Allow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/enforce" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(EnforceResponse{
			SessionID:     "s1",
			Decision:      DecisionAllow,
			RuleName:      "allow-read",
			Reason:        "matched allow-read",
			PolicyVersion: "v1",
			LogID:         "l1",
			Timestamp:     time.Now(),
		})
	}))
	defer srv.Close()

	c := NewClient(WithAPIURL(srv.URL), WithAPIKey("test-key"))
	resp, err := c.Enforce(context.Background(), "fs.read", map[string]any{"path": "/tmp/a"})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if resp.Decision != DecisionAllow || resp.LogID != "l1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClient_Enforce_RaiseOnDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EnforceResponse{
			SessionID: "s1",
			Decision:  DecisionDeny,
			RuleName:  "deny-admin",
			Reason:    "admin tools blocked",
			LogID:     "l2",
		})
	}))
	defer srv.Close()

	c := NewClient(WithAPIURL(srv.URL), WithRaiseOnDeny(true))
	_, err := c.Enforce(context.Background(), "admin.reset", nil)
	if err == nil {
		t.Fatal("expected an error for a denied decision")
	}
	var denied *PolicyDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *PolicyDeniedError, got %T: %v", err, err)
	}
	if denied.RuleName != "deny-admin" {
		t.Fatalf("unexpected rule name: %s", denied.RuleName)
	}
}

func TestClient_Enforce_WithoutRaiseOnDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EnforceResponse{Decision: DecisionDeny, LogID: "l3"})
	}))
	defer srv.Close()

	c := NewClient(WithAPIURL(srv.URL))
	resp, err := c.Enforce(context.Background(), "admin.reset", nil)
	if err != nil {
		t.Fatalf("expected a first-class response, got error: %v", err)
	}
	if resp.Decision != DecisionDeny {
		t.Fatalf("expected deny decision, got %s", resp.Decision)
	}
}

func TestClient_UpdateResult_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"kind": "CONFLICT", "message": "already sealed"})
	}))
	defer srv.Close()

	c := NewClient(WithAPIURL(srv.URL))
	err := c.UpdateResult(context.Background(), "s1", "l1", ResultPayload{Status: OutcomeSuccess})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %T: %v", err, err)
	}
}

func TestClient_Enforce_ServerUnreachable(t *testing.T) {
	c := NewClient(WithAPIURL("http://127.0.0.1:0"), WithTimeout(100*time.Millisecond))
	_, err := c.Enforce(context.Background(), "fs.read", nil)
	if err == nil {
		t.Fatal("expected an error when the server is unreachable")
	}
	var unreachable *ServerUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected *ServerUnreachableError, got %T: %v", err, err)
	}
}
