package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpointIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, endpoint, "test-service", false)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) returned nil providers", endpoint)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("noop shutdown: %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second shutdown: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, err := NewProviders(ctx, endpoint, "test-service", false); err == nil {
			t.Errorf("NewProviders(%q) should fail", endpoint)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	testCases := []struct {
		endpoint string
		target   string
		https    bool
	}{
		{"", "", false},
		{"localhost:4317", "localhost:4317", false},
		{"http://collector:4317", "collector:4317", false},
		{"https://collector:4317", "collector:4317", true},
		{"http://collector:4317/v1/traces", "collector:4317", false},
		{"http://collector:4317?x=y", "collector:4317", false},
	}
	for _, tc := range testCases {
		target, https, err := resolveTarget(tc.endpoint)
		if err != nil {
			t.Errorf("resolveTarget(%q): %v", tc.endpoint, err)
			continue
		}
		if target != tc.target || https != tc.https {
			t.Errorf("resolveTarget(%q) = (%q, %v), want (%q, %v)",
				tc.endpoint, target, https, tc.target, tc.https)
		}
	}
}

func TestSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "test-service", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	providers.SetGlobal()
	if otel.GetTracerProvider() == oldTP {
		t.Error("TracerProvider not installed")
	}
	if otel.GetMeterProvider() == oldMP {
		t.Error("MeterProvider not installed")
	}
}

func TestSetGlobal_NilFieldsDoNotPanic(t *testing.T) {
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	p := &Providers{}
	p.SetGlobal()
	if otel.GetTracerProvider() != oldTP {
		t.Error("nil TracerProvider should leave global unchanged")
	}
}
