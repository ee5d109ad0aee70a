package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestProviderDisabledIsNoop(t *testing.T) {
	tp, shutdown, err := Provider(Config{})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a recording span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestProviderStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, shutdown, err := Provider(Config{Enabled: true, Exporter: "stdout", Output: &buf})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "phiguard.Analyze")
	span.SetAttributes(attribute.String("correlation_id", "corr-t"))
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "phiguard.Analyze") || !strings.Contains(out, "corr-t") {
		t.Fatalf("span not exported: %s", out)
	}
}

func TestProviderRejectsUnknownExporter(t *testing.T) {
	if _, _, err := Provider(Config{Enabled: true, Exporter: "zipkin"}); err == nil {
		t.Fatalf("expected error")
	}
}
