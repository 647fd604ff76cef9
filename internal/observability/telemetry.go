// Package observability wires OpenTelemetry tracing and metrics.
//
// Traces ride on Genkit's TracerProvider so turn spans and the model
// spans Genkit emits land in the same pipeline; metrics use a dedicated
// MeterProvider registered globally. Both export over OTLP HTTP to a
// local collector.
package observability

import (
	"context"
	"errors"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/log"
)

// DefaultEndpoint is the default OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup configures OTLP export for traces and metrics.
//
// Returns a shutdown function that flushes pending telemetry. When
// telemetry is disabled or the exporters cannot be created, the service
// runs without export and shutdown is a no-op: observability never
// blocks startup.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger log.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = log.NewNop()
	}
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads service identity from the OTEL
	// environment at span creation.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return noop, nil
	}
	tracing.TracerProvider().RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter))

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating metric exporter failed, metrics disabled", "error", err)
		return tracing.TracerProvider().Shutdown, nil
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(meterProvider)

	logger.Debug("telemetry enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracing.TracerProvider().Shutdown(ctx),
		)
	}, nil
}
