package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "dynamic-graphql"

// GraphQLMetrics holds request-level metrics for the GraphQL endpoint.
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	rootFields      metric.Int64Histogram
	resolverCalls   metric.Int64Counter
	resolverErrors  metric.Int64Counter
}

// InitGraphQLMetrics initializes GraphQL request metrics.
func InitGraphQLMetrics() (*GraphQLMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL requests that returned errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of active GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	rootFields, err := meter.Int64Histogram(
		"graphql.request.root_fields",
		metric.WithDescription("Number of root resolver fields selected per request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create root fields histogram: %w", err)
	}

	resolverCalls, err := meter.Int64Counter(
		"graphql.resolver.calls.total",
		metric.WithDescription("Root resolver fields selected, by resolver name"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver calls counter: %w", err)
	}

	resolverErrors, err := meter.Int64Counter(
		"graphql.resolver.errors.total",
		metric.WithDescription("GraphQL errors attributed to a root resolver field"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver errors counter: %w", err)
	}

	return &GraphQLMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		rootFields:      rootFields,
		resolverCalls:   resolverCalls,
		resolverErrors:  resolverErrors,
	}, nil
}

// RecordRequest records a GraphQL request with its duration and outcome
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string, rootFields int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", hasErrors),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
	m.rootFields.Record(ctx, int64(rootFields), metric.WithAttributes(attribute.String("operation_type", operationType)))
	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation_type", operationType)))
	}
}

// RecordResolvers counts each selected root field once and each field named
// at the head of an error path once per error.
func (m *GraphQLMetrics) RecordResolvers(ctx context.Context, operationType string, selected, failed []string) {
	if m == nil {
		return
	}
	for _, name := range selected {
		m.resolverCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation_type", operationType),
			attribute.String("resolver", name),
		))
	}
	for _, name := range failed {
		m.resolverErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation_type", operationType),
			attribute.String("resolver", name),
		))
	}
}

// IncrementActiveRequests increments the active requests counter
func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	if m != nil {
		m.activeRequests.Add(ctx, 1)
	}
}

// DecrementActiveRequests decrements the active requests counter
func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	if m != nil {
		m.activeRequests.Add(ctx, -1)
	}
}

// ExecutionMetrics records resolver SQL executions per backend route.
type ExecutionMetrics struct {
	duration metric.Float64Histogram
	counter  metric.Int64Counter
	errors   metric.Int64Counter
	rows     metric.Int64Histogram
}

// InitExecutionMetrics initializes resolver execution metrics.
func InitExecutionMetrics() (*ExecutionMetrics, error) {
	meter := otel.Meter(meterName)

	duration, err := meter.Float64Histogram(
		"resolver.execution.duration",
		metric.WithDescription("Duration of resolver SQL executions in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution duration histogram: %w", err)
	}

	counter, err := meter.Int64Counter(
		"resolver.executions.total",
		metric.WithDescription("Total number of resolver SQL executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution counter: %w", err)
	}

	errorsCounter, err := meter.Int64Counter(
		"resolver.execution.errors.total",
		metric.WithDescription("Total number of failed resolver SQL executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution error counter: %w", err)
	}

	rows, err := meter.Int64Histogram(
		"resolver.execution.rows",
		metric.WithDescription("Rows returned by reads or affected by writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution rows histogram: %w", err)
	}

	return &ExecutionMetrics{duration: duration, counter: counter, errors: errorsCounter, rows: rows}, nil
}

// RecordExecution records one SQL execution. A nil receiver is a no-op.
func (m *ExecutionMetrics) RecordExecution(ctx context.Context, backendKind, variant, operation string, duration time.Duration, rows int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backendKind),
		attribute.String("variant", variant),
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	)
	m.counter.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
		return
	}
	m.rows.Record(ctx, rows, attrs)
}

// InitMetrics initializes all custom metrics.
func InitMetrics(logger *slog.Logger) (*GraphQLMetrics, *ExecutionMetrics, error) {
	graphqlMetrics, err := InitGraphQLMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", err)
	}
	executionMetrics, err := InitExecutionMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize execution metrics: %w", err)
	}

	logger.Info("custom metrics initialized")
	return graphqlMetrics, executionMetrics, nil
}
