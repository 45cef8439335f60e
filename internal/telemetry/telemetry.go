// Package telemetry wires the server-side-only OpenTelemetry tracer and
// meter used to instrument the enforce/update_result request path. This
// module never propagates trace context to callers — distributed tracing
// across the agent/service boundary is out of scope — so the providers
// here exist purely to emit spans and metric instruments for whatever is
// tailing tamed's own output (a stdout exporter by default, swappable for
// an OTLP pipeline without touching call sites).
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/donbool/tame/internal/service"

// Providers bundles the tracer and meter handed to the service layer,
// plus a Shutdown that flushes and releases both.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Shutdown func(context.Context) error
}

// Setup constructs the tracer/meter providers. When enabled is false it
// returns the no-op global providers, so every span/instrument call in
// the service layer stays cheap without branching at each call site.
func Setup(enabled bool, logger *slog.Logger) (*Providers, error) {
	if !enabled {
		return &Providers{
			Tracer:   otel.Tracer(instrumentationName),
			Meter:    otel.Meter(instrumentationName),
			Shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "tamed"),
		attribute.String("service.namespace", "tame"),
	)

	traceExp, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metrics default to a discard writer: Prometheus (scraped via
	// /metrics) is this server's primary metrics sink, so the OTel meter
	// exists for the same instrument calls to also reach an OTLP pipeline
	// later without a code change, not to duplicate Prometheus's output
	// onto stderr by default.
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Debug("otel tracing/metrics enabled", "exporter", "stdout")

	return &Providers{
		Tracer: tp.Tracer(instrumentationName),
		Meter:  mp.Meter(instrumentationName),
		Shutdown: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return err
			}
			return mp.Shutdown(ctx)
		},
	}, nil
}
