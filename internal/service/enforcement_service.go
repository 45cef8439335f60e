package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/donbool/tame/internal/domain/audit"
	"github.com/donbool/tame/internal/domain/policy"
	"github.com/donbool/tame/internal/domain/session"
	"github.com/donbool/tame/internal/tameerr"
)

// EnforceRequest is the decoded body of POST /enforce.
type EnforceRequest struct {
	ToolName  string
	ToolArgs  map[string]any
	SessionID string
	AgentID   string
	UserID    string
	Metadata  map[string]any
	Context   map[string]any
}

// EnforceResponse is the service-level result of an Enforce call.
type EnforceResponse struct {
	SessionID     string
	Decision      policy.Decision
	LogID         string
	Timestamp     time.Time
}

// EnforcementService implements the per-request enforce/update_result
// algorithms of C4: session resolution, evaluation-context assembly,
// policy evaluation, audit append, and subscriber fan-out.
type EnforcementService struct {
	policy    *PolicyService
	evaluator policy.Evaluator
	sessions  session.Store
	audit     *AuditService
	hub       *Hub
	bypass    bool

	tracer         trace.Tracer
	enforceLatency metric.Float64Histogram
}

// EnforcementOption configures optional server-side-only observability on
// an EnforcementService.
type EnforcementOption func(*EnforcementService)

// WithTracer attaches a tracer that wraps Enforce/UpdateResult in a span
// apiece, per §4.4's tracing requirement.
func WithTracer(t trace.Tracer) EnforcementOption {
	return func(e *EnforcementService) { e.tracer = t }
}

// WithMeter attaches a meter used to record enforce call latency as an
// OTel histogram, alongside the Prometheus instrumentation at the HTTP
// adapter layer.
func WithMeter(m metric.Meter) EnforcementOption {
	return func(e *EnforcementService) {
		h, err := m.Float64Histogram("tame.enforce.duration_ms",
			metric.WithDescription("enforce() wall-clock duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err == nil {
			e.enforceLatency = h
		}
	}
}

func NewEnforcementService(policySvc *PolicyService, evaluator policy.Evaluator, sessions session.Store, auditSvc *AuditService, hub *Hub, bypass bool, opts ...EnforcementOption) *EnforcementService {
	e := &EnforcementService{
		policy:    policySvc,
		evaluator: evaluator,
		sessions:  sessions,
		audit:     auditSvc,
		hub:       hub,
		bypass:    bypass,
		tracer:    tracenoop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.enforceLatency == nil {
		// noop.Meter satisfies metric.Meter; Float64Histogram on it never errs.
		h, _ := noop.Meter{}.Float64Histogram("tame.enforce.duration_ms")
		e.enforceLatency = h
	}
	return e
}

// Enforce runs the full per-request algorithm described in the
// component design for C4: resolve session, snapshot policy, build
// context, evaluate, append, publish, return.
func (e *EnforcementService) Enforce(ctx context.Context, req EnforceRequest) (resp *EnforceResponse, err error) {
	ctx, span := e.tracer.Start(ctx, "enforce", trace.WithAttributes(
		attribute.String("tool_name", req.ToolName),
	))
	start := time.Now()
	defer func() {
		e.enforceLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("decision", string(resp.Decision.Action)))
		}
		span.End()
	}()

	if req.ToolName == "" {
		return nil, tameerr.New(tameerr.KindValidation, "tool_name is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		id, err := session.GenerateID()
		if err != nil {
			return nil, tameerr.New(tameerr.KindServer, fmt.Sprintf("generate session id: %v", err))
		}
		sessionID = id
	}

	sess, err := e.sessions.GetOrCreate(ctx, sessionID, req.AgentID, req.UserID)
	if err != nil {
		return nil, tameerr.New(tameerr.KindServer, fmt.Sprintf("resolve session: %v", err))
	}

	now := time.Now().UTC()
	var decision policy.Decision
	policyVersionLabel := ""

	if e.bypass {
		decision = policy.Decision{Action: policy.ActionAllow, Reason: "bypass mode active"}
	} else {
		snapshot := e.policy.Snapshot()
		if snapshot == nil {
			return nil, tameerr.New(tameerr.KindServer, "no active policy version")
		}
		policyVersionLabel = snapshot.VersionLabel

		sessionContext := mergeContext(sess.Metadata, req.Context)
		sessionContext = policy.WithWallClockSample(sessionContext, now)

		call := policy.Call{
			ToolName:       req.ToolName,
			ToolArgs:       req.ToolArgs,
			SessionContext: sessionContext,
			Metadata:       req.Metadata,
		}
		decision, err = e.evaluator.Evaluate(snapshot, call)
		if err != nil {
			return nil, tameerr.New(tameerr.KindServer, fmt.Sprintf("evaluate policy: %v", err))
		}
	}

	entry := audit.LogEntry{
		SessionID:          sessionID,
		Timestamp:          now,
		ToolName:           req.ToolName,
		ToolArgs:           req.ToolArgs,
		PolicyVersionLabel: policyVersionLabel,
		Decision:           string(decision.Action),
		RuleName:           decision.RuleName,
		Reason:             decision.Reason,
		Bypass:             e.bypass,
		Status:             audit.StatusPending,
	}
	logID, err := e.audit.Append(ctx, entry)
	if err != nil {
		return nil, err
	}

	if e.hub != nil {
		d := decision
		e.hub.Publish(Event{Kind: EventDecision, SessionID: sessionID, LogID: logID, Decision: &d, At: now})
	}

	return &EnforceResponse{SessionID: sessionID, Decision: decision, LogID: logID, Timestamp: now}, nil
}

// BypassEnabled reports whether this service is running in bypass mode,
// surfaced by GET /api/v1/policy/current for the tamesdk status subcommand.
func (e *EnforcementService) BypassEnabled() bool {
	return e.bypass
}

// Test evaluates a hypothetical call against the current policy snapshot
// without touching session state, the audit log, or subscribers — the
// dry-run counterpart to Enforce used by GET /policy/test.
func (e *EnforcementService) Test(ctx context.Context, toolName string, toolArgs, sessionContext, metadata map[string]any) (policy.Decision, error) {
	if toolName == "" {
		return policy.Decision{}, tameerr.New(tameerr.KindValidation, "tool_name is required")
	}
	if e.bypass {
		return policy.Decision{Action: policy.ActionAllow, Reason: "bypass mode active"}, nil
	}
	snapshot := e.policy.Snapshot()
	if snapshot == nil {
		return policy.Decision{}, tameerr.New(tameerr.KindServer, "no active policy version")
	}
	call := policy.Call{
		ToolName:       toolName,
		ToolArgs:       toolArgs,
		SessionContext: policy.WithWallClockSample(sessionContext, time.Now().UTC()),
		Metadata:       metadata,
	}
	decision, err := e.evaluator.Evaluate(snapshot, call)
	if err != nil {
		return policy.Decision{}, tameerr.New(tameerr.KindServer, fmt.Sprintf("evaluate policy: %v", err))
	}
	return decision, nil
}

// UpdateResult runs C4's update_result algorithm: validate the
// (session_id, log_id) pair, seal the outcome, and publish a result
// event to subscribers.
func (e *EnforcementService) UpdateResult(ctx context.Context, sessionID, logID string, outcome audit.Outcome) (err error) {
	ctx, span := e.tracer.Start(ctx, "update_result", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("log_id", logID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := e.audit.SealOutcome(ctx, logID, sessionID, outcome); err != nil {
		return err
	}
	if e.hub != nil {
		o := outcome
		e.hub.Publish(Event{Kind: EventResult, SessionID: sessionID, LogID: logID, Outcome: &o, At: time.Now().UTC()})
	}
	return nil
}

// mergeContext overlays caller-supplied context onto the session's
// stored metadata, caller values winning on key collision.
func mergeContext(sessionMetadata, callerContext map[string]any) map[string]any {
	out := make(map[string]any, len(sessionMetadata)+len(callerContext))
	for k, v := range sessionMetadata {
		out[k] = v
	}
	for k, v := range callerContext {
		out[k] = v
	}
	return out
}
