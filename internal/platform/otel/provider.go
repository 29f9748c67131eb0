// Package otel wires opt-in OpenTelemetry tracing for the SDK and CLI.
package otel

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// settings is the tracing configuration read from the environment.
type settings struct {
	endpoint    string
	disabled    bool
	sampleRatio float64
}

func readSettings() settings {
	s := settings{
		endpoint:    strings.TrimSpace(os.Getenv("MEMBERKIT_OTEL_ENDPOINT")),
		disabled:    strings.EqualFold(os.Getenv("MEMBERKIT_OTEL_ENABLED"), "false"),
		sampleRatio: 1,
	}
	if raw := os.Getenv("MEMBERKIT_OTEL_SAMPLE_RATIO"); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil && ratio >= 0 && ratio <= 1 {
			s.sampleRatio = ratio
		}
	}
	return s
}

// Setup installs a global tracer provider exporting over OTLP/HTTP.
//
// Tracing is opt-in: without MEMBERKIT_OTEL_ENDPOINT, or with
// MEMBERKIT_OTEL_ENABLED=false, no provider is registered and the returned
// shutdown is a no-op. MEMBERKIT_OTEL_SAMPLE_RATIO (0..1, default 1) tunes
// the parent-based sampler. The returned shutdown flushes pending spans and
// should be deferred by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	cfg := readSettings()
	if cfg.disabled || cfg.endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.endpoint))
	if err != nil {
		return noop, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return noop, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return provider.Shutdown, nil
}
