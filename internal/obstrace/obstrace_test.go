package obstrace

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracer(t *testing.T) {
	// An unreachable endpoint should not prevent provider construction —
	// jaeger's exporter only fails on export, not on dial.
	tp, err := InitTracer("test-service", "http://invalid-endpoint:14268/api/traces")
	if tp == nil {
		t.Error("expected TracerProvider to be created")
	}
	_ = err
}

func TestStartSpan(t *testing.T) {
	tp, _ := InitTracer("test-service", "http://localhost:14268/api/traces")
	if tp != nil {
		defer tp.Shutdown(context.Background())
	}

	ctx := context.Background()
	newCtx, span := StartSpan(ctx, "test-operation",
		attribute.String("test.key", "test.value"))
	if span == nil {
		t.Fatal("expected a span")
	}
	defer span.End()

	if newCtx == nil {
		t.Error("expected a derived context")
	}
}
