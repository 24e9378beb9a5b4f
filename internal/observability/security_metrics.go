package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdminMetrics counts requests to the token-protected admin routes.
type AdminMetrics struct {
	access   metric.Int64Counter
	rejected metric.Int64Counter
}

// InitAdminMetrics registers the admin counters on the global meter provider.
func InitAdminMetrics() (*AdminMetrics, error) {
	meter := otel.Meter(meterName + "/admin")

	access, err := meter.Int64Counter(
		"security.admin.access.total",
		metric.WithDescription("Admin requests by route and token check outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin access counter: %w", err)
	}

	rejected, err := meter.Int64Counter(
		"security.unauthorized.attempts.total",
		metric.WithDescription("Admin requests rejected for a missing or wrong token"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unauthorized attempts counter: %w", err)
	}

	return &AdminMetrics{access: access, rejected: rejected}, nil
}

// RecordAdminAccess counts one admin request. Any outcome other than
// "granted" also counts as an unauthorized attempt.
func (m *AdminMetrics) RecordAdminAccess(ctx context.Context, route, outcome string) {
	if m == nil {
		return
	}
	m.access.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("outcome", outcome),
	))
	if outcome != "granted" {
		m.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("reason", outcome),
		))
	}
}
