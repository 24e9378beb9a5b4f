// Package observability wires OpenTelemetry for the server. Metrics are
// pulled by Prometheus; traces and logs are pushed to an OTLP collector over
// gRPC or HTTP.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const shutdownTimeout = 5 * time.Second

// Config identifies the service and, for the push signals, the collector.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

// newResource merges the SDK defaults with the service identity. The
// semconv schema URL must match resource.Default's or Merge fails, so the
// service attributes are attached without one.
func newResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdownWithTimeout bounds a provider shutdown and logs the outcome.
func shutdownWithTimeout(ctx context.Context, logger *slog.Logger, signal string, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shut down "+signal+" provider", slog.String("error", err.Error()))
		return fmt.Errorf("shut down %s provider: %w", signal, err)
	}
	logger.Debug(signal + " provider shut down")
	return nil
}
