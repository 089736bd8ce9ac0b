// Package telemetry configures OpenTelemetry tracing for the back-office API.
//
// Custom span attributes use the `backoffice.` prefix. Span attributes never
// carry passwords, tokens or emails.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/ricemill/backoffice"
	serviceName = "ricemill-backoffice"
)

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider installs an OTLP gRPC exporter. An empty endpoint leaves
// the global noop provider in place. The returned function flushes and stops
// the provider.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartAuthSpan starts a span for one session operation (login, refresh,
// logout, register).
func StartAuthSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "auth."+operation,
		trace.WithAttributes(attribute.String("backoffice.auth.operation", operation)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndAuthSpan records the outcome and ends the span. result is a short label
// such as "ok", "invalid_credentials" or a token rejection reason.
func EndAuthSpan(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String("backoffice.auth.result", result))
	if err != nil && result == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
	}
	span.End()
}

// SetUser tags the span with the authenticated subject.
func SetUser(span trace.Span, userID, role string) {
	span.SetAttributes(
		attribute.String("backoffice.user_id", userID),
		attribute.String("backoffice.role", role),
	)
}
