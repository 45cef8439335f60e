package tame

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client talks to a tamed server over its HTTP/JSON API.
type Client struct {
	apiURL     string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client

	agentID     string
	userID      string
	raiseOnDeny bool
	bypass      bool
}

// NewClient builds a Client, applying opts over defaults sourced from
// TAME_API_URL, TAME_API_KEY, TAME_AGENT_ID, TAME_USER_ID, and
// TAME_BYPASS_MODE environment variables.
func NewClient(opts ...Option) *Client {
	c := &Client{
		apiURL:  envOr("TAME_API_URL", "http://localhost:8080"),
		apiKey:  os.Getenv("TAME_API_KEY"),
		timeout: 30 * time.Second,
		agentID: os.Getenv("TAME_AGENT_ID"),
		userID:  os.Getenv("TAME_USER_ID"),
		bypass:  os.Getenv("TAME_BYPASS_MODE") == "true",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Enforce calls POST /api/v1/enforce. When WithRaiseOnDeny(true) was set
// and the decision is deny/approve, it returns a *PolicyDeniedError /
// *ApprovalRequiredError instead of a nil error.
func (c *Client) Enforce(ctx context.Context, toolName string, toolArgs map[string]any, opts ...func(*EnforceRequest)) (*EnforceResponse, error) {
	req := EnforceRequest{
		ToolName: toolName,
		ToolArgs: toolArgs,
		AgentID:  c.agentID,
		UserID:   c.userID,
	}
	for _, opt := range opts {
		opt(&req)
	}

	var resp EnforceResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/enforce", req, &resp); err != nil {
		return nil, err
	}

	if c.raiseOnDeny {
		switch resp.Decision {
		case DecisionDeny:
			return &resp, &PolicyDeniedError{RuleName: resp.RuleName, Reason: resp.Reason, LogID: resp.LogID}
		case DecisionApprove:
			return &resp, &ApprovalRequiredError{RuleName: resp.RuleName, Reason: resp.Reason, LogID: resp.LogID}
		}
	}
	return &resp, nil
}

// UpdateResult calls POST /api/v1/enforce/{session_id}/result?log_id=....
// A second call for the same log id returns ConflictError.
func (c *Client) UpdateResult(ctx context.Context, sessionID, logID string, outcome ResultPayload) error {
	path := fmt.Sprintf("/api/v1/enforce/%s/result?log_id=%s", url.PathEscape(sessionID), url.QueryEscape(logID))

	var ack struct {
		Status string `json:"status"`
		LogID  string `json:"log_id"`
	}
	err := c.do(ctx, http.MethodPost, path, outcome, &ack)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return &ConflictError{LogID: logID}
	}
	return err
}

// Status calls GET /api/v1/policy/current and reports server reachability
// and auth configuration, used by the tamesdk CLI's status subcommand.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/policy/current", nil, &resp); err != nil {
		var unreachable *ServerUnreachableError
		if errors.As(err, &unreachable) {
			return &StatusResponse{Reachable: false}, nil
		}
		return nil, err
	}
	resp.Reachable = true
	resp.AuthConfigured = c.apiKey != ""
	return &resp, nil
}

// TestResult is the body of GET /api/v1/policy/test, a dry-run decision
// that never touches session state, the audit log, or subscribers.
type TestResult struct {
	Decision Decision `json:"decision"`
	RuleName string   `json:"rule_name,omitempty"`
	Reason   string   `json:"reason"`
}

// Test calls GET /api/v1/policy/test to evaluate toolName/toolArgs against
// the current policy without recording anything, used by the tamesdk
// CLI's test subcommand.
func (c *Client) Test(ctx context.Context, toolName string, toolArgs, sessionContext map[string]any) (*TestResult, error) {
	q := url.Values{}
	q.Set("tool_name", toolName)
	if toolArgs != nil {
		encoded, err := json.Marshal(toolArgs)
		if err != nil {
			return nil, fmt.Errorf("tame: encode tool_args: %w", err)
		}
		q.Set("tool_args", string(encoded))
	}
	if sessionContext != nil {
		encoded, err := json.Marshal(sessionContext)
		if err != nil {
			return nil, fmt.Errorf("tame: encode session_context: %w", err)
		}
		q.Set("session_context", string(encoded))
	}

	var result TestResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/policy/test?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tame: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("tame: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}

	if httpResp.StatusCode >= 300 {
		var errBody struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errBody)
		if errBody.Message == "" {
			errBody.Message = string(respBody)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Kind: errBody.Kind, Message: errBody.Message}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("tame: decode response: %w", err)
	}
	return nil
}

// WithSessionID sets the session_id on a single Enforce call.
func WithSessionID(sessionID string) func(*EnforceRequest) {
	return func(r *EnforceRequest) { r.SessionID = sessionID }
}

// WithMetadata sets caller-supplied metadata on a single Enforce call.
func WithMetadata(metadata map[string]any) func(*EnforceRequest) {
	return func(r *EnforceRequest) { r.Metadata = metadata }
}

// WithEvalContext sets caller-supplied context overrides on a single
// Enforce call, merged onto the session's stored metadata server-side.
func WithEvalContext(context map[string]any) func(*EnforceRequest) {
	return func(r *EnforceRequest) { r.Context = context }
}
