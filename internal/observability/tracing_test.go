package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "callbridge-test",
				ServiceVersion: "1.0.0",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name: "without endpoint (no-op)",
			config: TraceConfig{
				ServiceName: "callbridge-test",
			},
		},
		{
			name: "with sampling",
			config: TraceConfig{
				ServiceName:  "callbridge-test",
				Endpoint:     "localhost:4317",
				SamplingRate: 0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
		})
	}
}

func TestTracerStart(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "callbridge-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.Start(context.Background(), "call.session", SpanOptions{
		Kind: trace.SpanKindServer,
		Attributes: []attribute.KeyValue{
			attribute.String("session_id", "sess-1"),
		},
	})
	defer span.End()

	if span == nil {
		t.Fatal("Start() returned nil span")
	}
	if SpanFromContext(ctx) == nil {
		t.Error("expected span in context")
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "callbridge-test"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "call.session")
	defer span.End()

	tracer.RecordError(span, errors.New("dial failed"))

	// Recording nil must not panic or change status.
	tracer.RecordError(span, nil)
}

func TestTracerSetAttributesAndAddEvent(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "callbridge-test"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "call.session")
	defer span.End()

	tracer.SetAttributes(span,
		"call_sid", "CA123",
		"stream_sid", "MZ123",
		"duration_s", 12.5,
		"frames", 42,
		"concluded", true,
	)

	// Odd pairs and non-string keys are dropped, not panicked on.
	tracer.SetAttributes(span, "dangling")
	tracer.SetAttributes(span, 7, "value")

	tracer.AddEvent(span, "call_ended", "reason", "completed")
}

func TestTracerCallHelpers(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "callbridge-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, callSpan := tracer.TraceCallSession(context.Background(), "sess-1")
	defer callSpan.End()
	if callSpan == nil {
		t.Fatal("TraceCallSession() returned nil span")
	}

	_, dialSpan := tracer.TraceAIDial(ctx, "gpt-4o-realtime-preview-2024-10-01")
	dialSpan.End()

	_, httpSpan := tracer.TraceHTTPRequest(ctx, "POST", "/api/calls")
	httpSpan.End()
}

func TestGetTraceID(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("trace id without a span = %q, want empty", id)
	}
}
