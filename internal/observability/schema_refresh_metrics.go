package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reload failure stages.
const (
	ReloadStageLoad       = "load"
	ReloadStageSynthesize = "synthesize"
)

// ReloadOutcome describes one schema reload attempt. FailedStage is empty
// on success.
type ReloadOutcome struct {
	Trigger     string
	Duration    time.Duration
	FailedStage string
	Resolvers   int
	Changed     bool
}

// SchemaReloadMetrics tracks schema synthesis attempts and atomic swaps.
type SchemaReloadMetrics struct {
	attempts metric.Int64Counter
	failures metric.Int64Counter
	swaps    metric.Int64Counter
	duration metric.Float64Histogram

	lastSuccessUnix atomic.Int64
	resolvers       atomic.Int64
}

// InitSchemaReloadMetrics registers the reload instruments and the gauges
// describing the active schema.
func InitSchemaReloadMetrics(logger *slog.Logger) (*SchemaReloadMetrics, error) {
	meter := otel.Meter(meterName)
	m := &SchemaReloadMetrics{}
	var err error

	if m.attempts, err = meter.Int64Counter("schema.reload.total",
		metric.WithDescription("Schema reload attempts by trigger and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema reload counter: %w", err)
	}
	if m.failures, err = meter.Int64Counter("schema.reload.errors.total",
		metric.WithDescription("Failed schema reloads by trigger and failing stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema reload error counter: %w", err)
	}
	if m.swaps, err = meter.Int64Counter("schema.swaps.total",
		metric.WithDescription("Successful reloads that replaced the schema with a different one"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema swap counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("schema.reload.duration",
		metric.WithDescription("Duration of schema reload attempts in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema reload duration histogram: %w", err)
	}

	lastSuccess, err := meter.Int64ObservableGauge("schema.reload.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful schema reload"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reload last success gauge: %w", err)
	}
	active, err := meter.Int64ObservableGauge("schema.resolvers.active",
		metric.WithDescription("Resolver fields in the active schema"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active resolver gauge: %w", err)
	}

	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if ts := m.lastSuccessUnix.Load(); ts > 0 {
			o.ObserveInt64(lastSuccess, ts)
			o.ObserveInt64(active, m.resolvers.Load())
		}
		return nil
	}, lastSuccess, active); err != nil {
		return nil, fmt.Errorf("failed to register schema reload gauge callback: %w", err)
	}

	logger.Info("schema reload metrics initialized")
	return m, nil
}

// RecordReload records one attempt. A nil receiver is a no-op.
func (m *SchemaReloadMetrics) RecordReload(ctx context.Context, o ReloadOutcome) {
	if m == nil {
		return
	}
	success := o.FailedStage == ""
	attrs := metric.WithAttributes(
		attribute.String("trigger", o.Trigger),
		attribute.Bool("success", success),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(o.Duration.Milliseconds()), attrs)

	if !success {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", o.Trigger),
			attribute.String("stage", o.FailedStage),
		))
		return
	}
	if o.Changed {
		m.swaps.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", o.Trigger)))
	}
	m.resolvers.Store(int64(o.Resolvers))
	m.lastSuccessUnix.Store(time.Now().Unix())
}
