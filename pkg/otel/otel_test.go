package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	if config.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", config.ServiceName)
	}

	if config.ServiceVersion == "" {
		t.Error("Service version should not be empty")
	}

	if config.CollectorEndpoint == "" {
		t.Error("Collector endpoint should not be empty")
	}

	if config.SamplingRate < 0.0 || config.SamplingRate > 1.0 {
		t.Errorf("Sampling rate out of bounds: %.2f", config.SamplingRate)
	}
}

func TestRunAttributes(t *testing.T) {
	attrs := RunAttributes("run-123", "el_load", "abc123", 4096)

	if len(attrs) != 4 {
		t.Errorf("Expected 4 attributes, got %d", len(attrs))
	}

	found := false
	for _, attr := range attrs {
		if attr.Key == AttrRunID && attr.Value.AsString() == "run-123" {
			found = true
			break
		}
	}
	if !found {
		t.Error("RunID attribute not found")
	}
}

func TestModelAttributes(t *testing.T) {
	attrs := ModelAttributes("gbm", 0.12, 0.93)

	if len(attrs) != 3 {
		t.Errorf("Expected 3 attributes, got %d", len(attrs))
	}

	for _, attr := range attrs {
		if attr.Key == AttrValMAE && attr.Value.AsFloat64() != 0.12 {
			t.Errorf("ValMAE = %v, want 0.12", attr.Value.AsFloat64())
		}
	}
}

func TestExplainAttributes(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		feature string
		samples int
		want    int
	}{
		{"method only", "shapley", "", 0, 1},
		{"with feature", "pdp", "hour", 0, 2},
		{"with samples", "lime", "lag_24", 500, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := ExplainAttributes(tt.method, tt.feature, tt.samples)
			if len(attrs) != tt.want {
				t.Errorf("got %d attributes, want %d", len(attrs), tt.want)
			}
		})
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	// Without an initialized provider the global no-op tracer must still
	// hand back a usable span.
	ctx, span := StartSpan(context.Background(), "test", "operation",
		attribute.String("k", "v"))
	if ctx == nil {
		t.Fatal("context should not be nil")
	}
	if span == nil {
		t.Fatal("span should not be nil")
	}
	span.End()
}

func TestRecordErrorNilSafety(t *testing.T) {
	// Must not panic with nil span or nil error.
	RecordError(nil, nil, "")

	_, span := StartSpan(context.Background(), "test", "op")
	RecordError(span, nil, "no error")
	span.End()
}

func TestShutdownNilProvider(t *testing.T) {
	if err := Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown(nil) error = %v, want nil", err)
	}
}
