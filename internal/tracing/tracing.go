// Package tracing installs the OpenTelemetry tracer provider used by the facade.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls the tracer provider.
type Config struct {
	Enabled     bool
	Exporter    string
	ServiceName string
	Output      io.Writer
}

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Provider builds a tracer provider for cfg. Disabled tracing or the "none" exporter yields a
// noop provider.
func Provider(cfg Config) (trace.TracerProvider, Shutdown, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	if cfg.Exporter != "" && cfg.Exporter != "stdout" {
		return nil, nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "mirador-phiguard"
	}
	res := resource.NewWithAttributes("", attribute.String("service.name", name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}

// Init builds the provider and installs it globally.
func Init(cfg Config) (Shutdown, error) {
	tp, shutdown, err := Provider(cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return shutdown, nil
}
