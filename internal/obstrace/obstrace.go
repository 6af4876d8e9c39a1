// Package obstrace reconstructs the teacher's internal/tracing package,
// whose test file was retrieved without its implementation. InitTracer and
// StartSpan match the surface tracing_test.go exercises: a Jaeger-exporting
// TracerProvider is constructed even when the collector endpoint is
// unreachable (connection errors only surface later, on export), and
// StartSpan is a thin wrapper over the global tracer.
package obstrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer builds and registers a TracerProvider exporting spans to a
// Jaeger collector at endpoint under serviceName. It returns a usable
// provider even if endpoint cannot be reached immediately — jaeger's HTTP
// exporter only fails on export, not on construction.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartSpan starts a span named name under the global tracer, tagged with
// attrs, and returns the derived context alongside the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("github.com/driftsync/core")
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
