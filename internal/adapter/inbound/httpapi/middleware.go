package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/donbool/tame/internal/domain/ratelimit"
	"github.com/donbool/tame/internal/tameerr"
)

type requestIDKey struct{}

// requestIDMiddleware stamps every request with a uuid, echoed back on
// the response and available to handlers/logging via the context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stamped by requestIDMiddleware, or ""
// if called outside that middleware's scope.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// authMiddleware enforces the shared-secret bearer token configured via
// AuthConfig.BearerTokenHash. An empty hash means no token is configured
// — explicit development mode, every caller accepted.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	if h.bearerTokenHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || token == "" {
			respondError(w, h.logger, tameerr.New(tameerr.KindUnauthenticated, "missing bearer token"))
			return
		}
		match, err := safeArgon2idCompare(token, h.bearerTokenHash)
		if err != nil || !match {
			respondError(w, h.logger, tameerr.New(tameerr.KindUnauthenticated, "invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed PHC parameters.
func safeArgon2idCompare(token, hash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match, err = false, tameerr.New(tameerr.KindServer, "invalid bearer token hash configuration")
		}
	}()
	return argon2id.ComparePasswordAndHash(token, hash)
}

// rateLimitMiddleware applies per-IP GCRA throttling when configured.
// The per-session limit passed to WithRateLimiter is not applied here;
// requests are keyed by source IP only.
func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	if !h.rateLimitOn {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := realIP(r)
		key := ratelimit.FormatKey(ratelimit.KeyTypeIP, ip)
		result, err := h.rateLimiter.Allow(r.Context(), key, h.rateLimitPerIP)
		if err != nil {
			respondError(w, h.logger, tameerr.New(tameerr.KindServer, "rate limiter unavailable"))
			return
		}
		if !result.Allowed {
			if h.metrics != nil {
				h.metrics.RateLimitRejections.WithLabelValues(string(ratelimit.KeyTypeIP)).Inc()
			}
			respondError(w, h.logger, tameerr.Newf(tameerr.KindRateLimited, "rate limit exceeded", map[string]any{
				"retry_after_seconds": result.RetryAfter.Seconds(),
			}))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// realIP extracts the caller's address from RemoteAddr. X-Forwarded-For
// is intentionally not trusted, matching the teacher's own reasoning: an
// untrusted proxy could spoof it to dodge the limiter.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
