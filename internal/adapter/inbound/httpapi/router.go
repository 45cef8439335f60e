package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/donbool/tame/internal/domain/ratelimit"
	"github.com/donbool/tame/internal/service"
)

func promHandler() http.Handler {
	return promhttp.Handler()
}

// maxRequestBodySize bounds every request body (1 MB), matching the
// teacher's own MCP transport limit.
const maxRequestBodySize = 1 << 20

// Handler wires the service layer into the HTTP/JSON API surface.
type Handler struct {
	enforcement *service.EnforcementService
	policy      *service.PolicyService
	audit       *service.AuditService
	retention   *service.RetentionService
	hub         *service.Hub

	bearerTokenHash string
	rateLimiter     ratelimit.RateLimiter
	rateLimit       ratelimit.RateLimitConfig
	rateLimitPerIP  ratelimit.RateLimitConfig
	rateLimitOn     bool

	metrics *Metrics
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

func WithBearerTokenHash(hash string) Option {
	return func(h *Handler) { h.bearerTokenHash = hash }
}

func WithRateLimiter(rl ratelimit.RateLimiter, perSession, perIP ratelimit.RateLimitConfig) Option {
	return func(h *Handler) {
		h.rateLimiter = rl
		h.rateLimit = perSession
		h.rateLimitPerIP = perIP
		h.rateLimitOn = true
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler constructs a Handler over the service layer.
func NewHandler(
	enforcement *service.EnforcementService,
	policySvc *service.PolicyService,
	auditSvc *service.AuditService,
	retentionSvc *service.RetentionService,
	hub *service.Hub,
	opts ...Option,
) *Handler {
	h := &Handler{
		enforcement: enforcement,
		policy:      policySvc,
		audit:       auditSvc,
		retention:   retentionSvc,
		hub:         hub,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the fully wired http.Handler: /healthz and /metrics are
// unauthenticated; every /api/v1/* route requires a bearer token (unless
// none is configured — explicit development mode) and is subject to
// optional per-IP rate limiting; /ws/{session_id} upgrades
// to a websocket and is authenticated the same way.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/enforce", h.handleEnforce)
	api.HandleFunc("POST /api/v1/enforce/{session_id}/result", h.handleUpdateResult)

	api.HandleFunc("GET /api/v1/sessions", h.handleListSessions)
	api.HandleFunc("GET /api/v1/sessions/export", h.handleExportSessions)
	api.HandleFunc("GET /api/v1/sessions/{id}", h.handleGetSession)
	api.HandleFunc("GET /api/v1/sessions/{id}/summary", h.handleGetSessionSummary)
	api.HandleFunc("DELETE /api/v1/sessions/{id}", h.handleDeleteSession)
	api.HandleFunc("POST /api/v1/sessions/{id}/archive", h.handleArchiveSession)
	api.HandleFunc("POST /api/v1/sessions/bulk/archive", h.handleBulkArchiveSessions)

	api.HandleFunc("GET /api/v1/policy/current", h.handlePolicyCurrent)
	api.HandleFunc("GET /api/v1/policy/test", h.handlePolicyTest)
	api.HandleFunc("POST /api/v1/policy/validate", h.handlePolicyValidate)
	api.HandleFunc("POST /api/v1/policy/reload", h.handlePolicyReload)
	api.HandleFunc("POST /api/v1/policy/create", h.handlePolicyCreate)

	api.HandleFunc("GET /api/v1/compliance/report/generate", h.handleComplianceReport)
	api.HandleFunc("GET /api/v1/compliance/retention/status", h.handleRetentionStatus)
	api.HandleFunc("POST /api/v1/compliance/retention/cleanup", h.handleRetentionCleanup)
	api.HandleFunc("GET /api/v1/compliance/integrity/verify", h.handleIntegrityVerify)

	api.HandleFunc("GET /ws/{session_id}", h.handleWebsocket)
	api.HandleFunc("GET /ws", h.handleWebsocket)

	mux.Handle("/api/v1/", h.withMiddleware(api))
	mux.Handle("/ws", h.withMiddleware(api))
	mux.Handle("/ws/", h.withMiddleware(api))

	if h.metrics != nil {
		mux.Handle("GET /metrics", promHandler())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// withMiddleware composes the request-id, metrics, rate-limit, and auth
// middleware around next; a request passes through them in that order.
func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	wrapped := h.authMiddleware(next)
	wrapped = h.rateLimitMiddleware(wrapped)
	wrapped = h.metricsMiddleware(wrapped)
	return requestIDMiddleware(wrapped)
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		h.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		h.metrics.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusLabel(code int) string {
	switch {
	case code < 400:
		return "ok"
	case code < 500:
		return "client_error"
	default:
		return "server_error"
	}
}
