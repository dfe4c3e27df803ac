package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{name: "empty", input: "", want: nil},
		{name: "single", input: "x-api-key=abc", want: map[string]string{"x-api-key": "abc"}},
		{name: "multiple", input: "a=1, b=2", want: map[string]string{"a": "1", "b": "2"}},
		{name: "value with equals", input: "auth=Basic a=b", want: map[string]string{"auth": "Basic a=b"}},
		{name: "malformed pair skipped", input: "novalue,k=v", want: map[string]string{"k": "v"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parseHeaders(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("header %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestBasicAuth(t *testing.T) {
	if got := basicAuth("pk", "sk"); got != "Basic cGs6c2s=" {
		t.Errorf("basicAuth = %q", got)
	}
}

func TestInit(t *testing.T) {
	if err := Init(Config{Enabled: false}); err != nil {
		t.Errorf("disabled init failed: %v", err)
	}
	if err := Init(Config{Enabled: true, ExporterType: "none"}); err != nil {
		t.Errorf("none exporter init failed: %v", err)
	}
	if err := Init(Config{Enabled: true, ExporterType: "zipkin"}); err == nil {
		t.Error("expected error for unknown exporter")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("LANGFUSE_ENABLED", "")
	if err := InitFromEnv("", false); err != nil {
		t.Errorf("InitFromEnv failed: %v", err)
	}
}

func TestStartSpanWithOtel(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := tracer
	tracer = tp.Tracer("test")
	t.Cleanup(func() { tracer = prev })

	ctx, span := StartSpanWithOtel(context.Background(), "session.save",
		trace.WithAttributes(attribute.String("session.id", "s1")))
	_, child := StartSpanWithOtel(ctx, "eventstore.append")
	child.End()
	span.End()

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "eventstore.append" || ended[1].Name() != "session.save" {
		t.Errorf("unexpected span names: %s, %s", ended[0].Name(), ended[1].Name())
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Error("child span is not parented to the save span")
	}
}

func TestStartSpanWithOtelUninitialized(t *testing.T) {
	prev := tracer
	tracer = nil
	t.Cleanup(func() { tracer = prev })

	_, span := StartSpanWithOtel(context.Background(), "noop")
	if span == nil {
		t.Fatal("expected a span")
	}
	span.End()
}
