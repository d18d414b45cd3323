// Package tracing wires the OpenTelemetry SDK and OTLP gRPC exporter.
// stablereq.Execute starts one span per call through otel.Tracer(...)
// against whatever global provider is installed; the phase, branch and
// workflow executors start no spans. This package's only job is to set
// that provider up (or leave the no-op default in place) and tear it down.
package tracing

import (
	"context"

	"github.com/wudi/stablegate/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer owns the installed TracerProvider's lifecycle. A zero-value
// Tracer (from a disabled config) is a no-op: Close does nothing and the
// otel global provider stays whatever default was already installed.
type Tracer struct {
	enabled  bool
	provider *sdktrace.TracerProvider
}

// New installs an OTLP-exporting TracerProvider as the otel global
// provider when cfg.Enabled, and returns a Tracer to shut it down later.
func New(cfg config.TracingConfig) (*Tracer, error) {
	t := &Tracer{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return t, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "stablegate"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// IsEnabled reports whether a real provider is installed.
func (t *Tracer) IsEnabled() bool { return t.enabled }

// Close flushes and shuts down the provider. A no-op Tracer returns nil.
func (t *Tracer) Close() error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(context.Background())
}
