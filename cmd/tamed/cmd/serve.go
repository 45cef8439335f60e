package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/donbool/tame/internal/adapter/inbound/httpapi"
	"github.com/donbool/tame/internal/adapter/outbound/bundle"
	"github.com/donbool/tame/internal/adapter/outbound/clause"
	"github.com/donbool/tame/internal/adapter/outbound/memory"
	"github.com/donbool/tame/internal/adapter/outbound/sqlitestore"
	"github.com/donbool/tame/internal/config"
	"github.com/donbool/tame/internal/domain/ratelimit"
	"github.com/donbool/tame/internal/service"
	"github.com/donbool/tame/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tamed server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if cfg.Bypass {
		logger.Warn("bypass mode active: every enforce call will ALLOW without consulting the policy evaluator")
	}
	if cfg.Auth.BearerTokenHash == "" {
		logger.Warn("no auth.bearer_token_hash configured: the API accepts unauthenticated callers (dev mode)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	return run(ctx, cfg, logger)
}

// run wires every component together: sqlite-backed stores, the closed-
// clause evaluator, the service layer, telemetry, and the HTTP/WebSocket
// API, then blocks serving until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := sqlitestore.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	secret, err := resolveAuditSecret(cfg.Audit.SecretSource)
	if err != nil {
		return fmt.Errorf("resolve audit secret: %w", err)
	}

	fb := bundle.New(cfg.Policy.BundlePath, logger)
	policyStore := sqlitestore.NewPolicyStore(db, fb, logger)
	sessionStore := sqlitestore.NewSessionStore(db)
	auditStore := sqlitestore.NewAuditStore(db, secret)

	policyService, err := service.NewPolicyService(ctx, policyStore)
	if err != nil {
		return fmt.Errorf("create policy service: %w", err)
	}

	if policyService.Snapshot() == nil && cfg.Policy.SeedDocument != "" {
		logger.Info("no active policy version, applying seed document")
		if _, err := policyService.Create(ctx, cfg.Policy.SeedDocument, "v1", "seed document applied on first boot", true); err != nil {
			return fmt.Errorf("apply seed policy document: %w", err)
		}
	}
	if policyService.Snapshot() == nil {
		logger.Warn("no active policy version: every enforce call will fail until one is created")
	}

	providers, err := telemetry.Setup(true, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	auditService := service.NewAuditService(auditStore)
	hub := service.NewHub()
	evaluator := clause.New()
	enforcementService := service.NewEnforcementService(
		policyService, evaluator, sessionStore, auditService, hub, cfg.Bypass,
		service.WithTracer(providers.Tracer), service.WithMeter(providers.Meter),
	)

	sweepInterval, err := time.ParseDuration(cfg.Retention.SweepInterval)
	if err != nil {
		sweepInterval = time.Hour
		logger.Warn("invalid retention.sweep_interval, using default", "value", cfg.Retention.SweepInterval, "default", "1h")
	}
	retentionService := service.NewRetentionService(auditStore, cfg.Retention.DefaultRetentionDays, sweepInterval, logger)
	retentionService.StartSweeper(ctx)
	defer retentionService.StopSweeper()

	var rateLimiter ratelimit.RateLimiter
	var perSessionLimit, perIPLimit ratelimit.RateLimitConfig
	if cfg.RateLimit.Enabled {
		cleanupInterval, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
		if err != nil {
			cleanupInterval = 5 * time.Minute
		}
		maxTTL, err := time.ParseDuration(cfg.RateLimit.MaxTTL)
		if err != nil {
			maxTTL = time.Hour
		}
		mrl := memory.NewRateLimiterWithConfig(cleanupInterval, maxTTL)
		mrl.StartCleanup(ctx)
		defer mrl.Stop()
		rateLimiter = mrl

		perSessionLimit = ratelimit.RateLimitConfig{Rate: cfg.RateLimit.PerSessionRate, Burst: cfg.RateLimit.PerSessionRate, Period: time.Minute}
		perIPLimit = ratelimit.RateLimitConfig{Rate: cfg.RateLimit.PerIPRate, Burst: cfg.RateLimit.PerIPRate, Period: time.Minute}
	}

	metrics := httpapi.NewMetrics(nil)
	opts := []httpapi.Option{
		httpapi.WithMetrics(metrics),
		httpapi.WithLogger(logger),
	}
	if cfg.Auth.BearerTokenHash != "" {
		opts = append(opts, httpapi.WithBearerTokenHash(cfg.Auth.BearerTokenHash))
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, httpapi.WithRateLimiter(rateLimiter, perSessionLimit, perIPLimit))
	}

	handler := httpapi.NewHandler(enforcementService, policyService, auditService, retentionService, hub, opts...)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: handler.Routes(),
	}
	if requestTimeout, err := time.ParseDuration(cfg.Server.RequestTimeout); err == nil {
		srv.ReadHeaderTimeout = requestTimeout
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("tamed listening", "addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode, "bypass", cfg.Bypass)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		<-serveErrCh
	}

	logger.Info("tamed stopped")
	return nil
}

// resolveAuditSecret reads the HMAC chaining key from the location named
// by source, validated by config.Validate's "audit_secret_source" tag to
// be "env:VAR_NAME" or "file:///absolute/path".
func resolveAuditSecret(source string) ([]byte, error) {
	switch {
	case strings.HasPrefix(source, "env:"):
		name := strings.TrimPrefix(source, "env:")
		v := os.Getenv(name)
		if v == "" {
			return nil, fmt.Errorf("environment variable %s is empty or unset", name)
		}
		return []byte(v), nil
	case strings.HasPrefix(source, "file://"):
		path := strings.TrimPrefix(source, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return []byte(strings.TrimSpace(string(data))), nil
	default:
		return nil, fmt.Errorf("invalid audit secret source: %s", source)
	}
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
