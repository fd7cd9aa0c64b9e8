package tracing

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInit_NoEndpointReturnsNoop(t *testing.T) {
	restoreOpenTelemetryGlobals(t)
	sentinelProvider := noop.NewTracerProvider()
	otel.SetTracerProvider(sentinelProvider)

	shutdown, err := Init(context.Background(), Options{Endpoint: "   "})
	if err != nil {
		t.Fatalf("Init() error = %v, want nil", err)
	}
	if shutdown == nil {
		t.Fatal("Init() shutdown = nil, want non-nil")
	}
	if got := otel.GetTracerProvider(); got != sentinelProvider {
		t.Fatal("Init() changed global tracer provider without an endpoint")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v, want nil", err)
	}
}

func TestInit_WithEndpointInitializesTracerProvider(t *testing.T) {
	restoreOpenTelemetryGlobals(t)
	sentinelProvider := noop.NewTracerProvider()
	otel.SetTracerProvider(sentinelProvider)

	shutdown, err := Init(context.Background(), Options{
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "flagwatch-test",
	})
	if err != nil {
		t.Fatalf("Init() error = %v, want nil", err)
	}

	got := otel.GetTracerProvider()
	if got == sentinelProvider {
		t.Fatal("Init() did not replace global tracer provider")
	}
	if _, ok := got.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("Init() tracer provider type = %T, want *sdktrace.TracerProvider", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v, want nil", err)
	}
}

func TestInit_InvalidEndpointReturnsError(t *testing.T) {
	restoreOpenTelemetryGlobals(t)
	sentinelProvider := noop.NewTracerProvider()
	otel.SetTracerProvider(sentinelProvider)

	for _, endpoint := range []string{"http://[::1", "localhost:4318", "ftp://collector"} {
		shutdown, err := Init(context.Background(), Options{Endpoint: endpoint})
		if err == nil {
			t.Fatalf("Init(%q) error = nil, want non-nil", endpoint)
		}
		if shutdown != nil {
			t.Fatalf("Init(%q) shutdown should be nil on error", endpoint)
		}
		if !strings.Contains(err.Error(), "invalid OTLP endpoint") {
			t.Fatalf("Init(%q) error = %q", endpoint, err.Error())
		}
	}
	if got := otel.GetTracerProvider(); got != sentinelProvider {
		t.Fatal("Init() changed global tracer provider on error")
	}
}

func TestServiceName(t *testing.T) {
	if got := serviceName("  "); got != defaultServiceName {
		t.Fatalf("serviceName(blank) = %q, want %q", got, defaultServiceName)
	}
	if got := serviceName(" custom "); got != "custom" {
		t.Fatalf("serviceName() = %q, want %q", got, "custom")
	}
}

func restoreOpenTelemetryGlobals(t *testing.T) {
	t.Helper()
	originalProvider := otel.GetTracerProvider()
	originalPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(originalProvider)
		otel.SetTextMapPropagator(originalPropagator)
	})
}
