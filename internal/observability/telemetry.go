// Package observability owns the OpenTelemetry tracer-provider
// lifecycle and the span vocabulary for client sessions: the request
// handler emits one server span per operation, carrying the session id,
// the operation name, and the outcome.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/oriys/moviedb/internal/logging"
)

const tracerName = "moviedb"

// Config configures the global tracer provider.
type Config struct {
	Enabled     bool
	Exporter    string  // otlp-http, log
	Endpoint    string  // localhost:4318
	ServiceName string  // moviedb
	SampleRate  float64 // 0.0 to 1.0
}

var (
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer(tracerName)
)

// Init installs the global tracer provider. Called once at daemon
// startup; with Enabled false the package keeps its no-op tracer, so
// StartOperation is always safe to call.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate >= 0 && cfg.SampleRate < 1.0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = provider.Tracer(tracerName)
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-http", "otlp":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		return exp, nil
	case "log":
		return logExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
}

// Shutdown drains the provider's batcher and uninstalls the tracer. A
// no-op if Init never installed a provider.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := provider.Shutdown(ctx)
	provider = nil
	tracer = noop.NewTracerProvider().Tracer(tracerName)
	return err
}

// StartOperation opens the span for one client operation.
func StartOperation(ctx context.Context, sessionID, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "moviedb."+operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("moviedb.session_id", sessionID),
			attribute.String("moviedb.operation", operation),
		),
	)
}

// EndOperation records the operation's outcome on span and closes it.
// A hard failure marks the span as errored.
func EndOperation(span trace.Span, outcome string, hard bool) {
	span.SetAttributes(attribute.String("moviedb.outcome", outcome))
	if hard {
		span.SetStatus(codes.Error, "hard failure")
	}
	span.End()
}

// logExporter feeds finished spans to the operational logger, for
// inspecting trace output on a deployment with no collector.
type logExporter struct{}

func (logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		logging.Op().Debug("span finished",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"duration", s.EndTime().Sub(s.StartTime()).String(),
		)
	}
	return nil
}

func (logExporter) Shutdown(context.Context) error { return nil }
