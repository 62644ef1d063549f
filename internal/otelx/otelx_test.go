package otelx

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored:1"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	fields := strings.Join(otel.GetTextMapPropagator().Fields(), ",")
	for _, want := range []string{"traceparent", "baggage"} {
		if !strings.Contains(fields, want) {
			t.Errorf("propagator fields %q missing %s", fields, want)
		}
	}
}

func TestInit_Disabled_SpansHaveIDs(t *testing.T) {
	_, _ = Init(context.Background(), Options{})

	_, span := otel.Tracer("test").Start(context.Background(), "reqguard.evaluate")
	defer span.End()

	if !span.SpanContext().IsValid() {
		t.Fatal("spans should carry valid ids with tracing disabled")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "permit-api",
		Component: "server",
		Version:   "v0.0.0-test",
	})
	elapsed := time.Since(start)
	if elapsed > 10*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestServiceName(t *testing.T) {
	cases := []struct {
		o    Options
		want string
		ua   string
	}{
		{Options{Service: "permit-api", Component: "server", Version: "1.2.0"}, "permit-api.server", "permit-api.server/1.2.0"},
		{Options{Service: "permit-api"}, "permit-api", "permit-api"},
		{Options{Component: "server", Version: "dev"}, "server", "server/dev"},
	}
	for _, tc := range cases {
		if got := tc.o.serviceName(); got != tc.want {
			t.Errorf("serviceName(%+v) = %q, want %q", tc.o, got, tc.want)
		}
		if got := tc.o.userAgent(); got != tc.ua {
			t.Errorf("userAgent(%+v) = %q, want %q", tc.o, got, tc.ua)
		}
	}
}

func TestSampler_Clamps(t *testing.T) {
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "root",
	}
	if got := sampler(-3).ShouldSample(root).Decision; got != sdktrace.Drop {
		t.Errorf("negative ratio decision = %v, want Drop", got)
	}
	if got := sampler(7).ShouldSample(root).Decision; got != sdktrace.RecordAndSample {
		t.Errorf("ratio > 1 decision = %v, want RecordAndSample", got)
	}
}
