package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dynamic-graphql/internal/logging"
)

const graphQLTracerName = "dynamic-graphql/graphql"

// GraphQLTracingMiddleware opens a graphql.execute span around each POSTed
// operation so the executor's SQL spans nest under it. The request logger is
// tagged with the trace and span IDs. The span is marked failed on a 5xx or
// when any GraphQL error is returned, with the failing resolvers recorded.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	tracer := otel.Tracer(graphQLTracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			op := operationFor(r)

			ctx, span := tracer.Start(r.Context(), "graphql.execute",
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(operationAttributes(op)...),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.IsValid() {
				ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(
					slog.String("trace_id", sc.TraceID().String()),
					slog.String("span_id", sc.SpanID().String()),
				))
			}

			capture := &bodyCapture{statusRecorder: newStatusRecorder(w)}
			next.ServeHTTP(capture, r.WithContext(ctx))

			outcome := summarizeResponse(capture.body.Bytes())
			switch {
			case capture.statusCode >= http.StatusInternalServerError:
				span.SetStatus(codes.Error, http.StatusText(capture.statusCode))
			case outcome.errors > 0:
				span.SetAttributes(attribute.Int("graphql.error_count", outcome.errors))
				if len(outcome.failedFields) > 0 {
					span.SetAttributes(attribute.StringSlice("graphql.failed_fields", outcome.failedFields))
				}
				span.SetStatus(codes.Error, fmt.Sprintf("%d GraphQL error(s)", outcome.errors))
			}
		})
	}
}

func operationAttributes(op Operation) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("graphql.operation.type", op.Type),
		attribute.Int("graphql.root_field_count", len(op.RootFields)),
	}
	if op.Name != "" {
		attrs = append(attrs, attribute.String("graphql.operation.name", op.Name))
	}
	if len(op.RootFields) > 0 {
		attrs = append(attrs, attribute.StringSlice("graphql.root_fields", op.RootFields))
	}
	return attrs
}
