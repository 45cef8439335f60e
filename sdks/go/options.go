package tame

import (
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIURL sets the tamed server's base URL (e.g. "http://localhost:8080").
// If not set, defaults to the TAME_API_URL environment variable.
func WithAPIURL(url string) Option {
	return func(c *Client) {
		c.apiURL = url
	}
}

// WithAPIKey sets the bearer token used to authenticate with tamed.
// If not set, defaults to the TAME_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 seconds,
// the same value as the server's default request_timeout setting.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client, useful for testing or custom
// transport configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAgentID sets the default agent_id attached to every Enforce call
// that does not specify its own.
func WithAgentID(agentID string) Option {
	return func(c *Client) {
		c.agentID = agentID
	}
}

// WithUserID sets the default user_id attached to every Enforce call
// that does not specify its own.
func WithUserID(userID string) Option {
	return func(c *Client) {
		c.userID = userID
	}
}

// WithRaiseOnDeny controls whether Enforce returns PolicyDeniedError /
// ApprovalRequiredError as a Go error (true) or a normal *EnforceResponse
// with Decision set to "deny"/"approve" (false, the default).
func WithRaiseOnDeny(raise bool) Option {
	return func(c *Client) {
		c.raiseOnDeny = raise
	}
}

// WithBypass records a bypass preference on the client. Enforce does not
// send it to the server; bypass mode is controlled by the server alone.
func WithBypass(bypass bool) Option {
	return func(c *Client) {
		c.bypass = bypass
	}
}
