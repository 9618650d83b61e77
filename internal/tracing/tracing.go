// Package tracing installs the global OpenTelemetry tracer provider.
// Spans go to an OTLP/HTTP collector when an endpoint is configured and
// to a stdout-style writer otherwise.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Config defines tracing configuration
type Config struct {
	Enabled      bool   `toml:"enabled"`
	ServiceName  string `toml:"service_name"`
	OutputFile   string `toml:"output_file"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
}

// DefaultConfig returns tracing defaults; tracing is off unless enabled
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "ganymede",
	}
}

// Shutdown flushes and stops the tracer provider
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs the global tracer provider. When tracing is disabled the
// default no-op provider stays in place and the returned Shutdown does
// nothing.
func Init(ctx context.Context, cfg Config, version string) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}

	exporter, closer, err := newExporter(ctx, cfg)
	if err != nil {
		return noop, err
	}

	return Install(ctx, cfg, version, exporter, closer)
}

// Install registers a tracer provider backed by exporter. closer, when
// non-nil, is closed after the provider shuts down.
func Install(ctx context.Context, cfg Config, version string, exporter sdktrace.SpanExporter, closer io.Closer) (Shutdown, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "ganymede"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
			attribute.String("service.component", serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			if cerr := closer.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, io.Closer, error) {
	if cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exporter, nil, nil
	}

	var (
		w      io.Writer = os.Stdout
		closer io.Closer
	)
	if cfg.OutputFile != "" {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return exporter, closer, nil
}
