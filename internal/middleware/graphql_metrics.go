package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"dynamic-graphql/internal/observability"
)

// GraphQLMetricsMiddleware records request and per-resolver metrics for
// POSTed GraphQL operations. Errors returned with HTTP 200 still count, and
// each error whose path starts at a root field is charged to that resolver.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			start := time.Now()
			op := operationFor(r)
			capture := &bodyCapture{statusRecorder: newStatusRecorder(w)}
			next.ServeHTTP(capture, r)
			elapsed := time.Since(start)

			outcome := summarizeResponse(capture.body.Bytes())
			failed := capture.statusCode >= http.StatusBadRequest || outcome.errors > 0
			metrics.RecordRequest(ctx, elapsed, failed, op.Type, len(op.RootFields))
			metrics.RecordResolvers(ctx, op.Type, op.RootFields, outcome.failedFields)
		})
	}
}

// bodyCapture tees up to maxInspectedBody bytes of the response.
type bodyCapture struct {
	*statusRecorder
	body bytes.Buffer
}

func (c *bodyCapture) Write(b []byte) (int, error) {
	if room := maxInspectedBody - c.body.Len(); room > 0 {
		if len(b) > room {
			c.body.Write(b[:room])
		} else {
			c.body.Write(b)
		}
	}
	return c.statusRecorder.Write(b)
}

type responseOutcome struct {
	errors       int
	failedFields []string
}

// summarizeResponse counts GraphQL errors and collects the root field of
// each error path. Bodies that are not GraphQL JSON report no errors.
func summarizeResponse(body []byte) responseOutcome {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return responseOutcome{}
	}

	var payload struct {
		Errors []struct {
			Path []any `json:"path"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return responseOutcome{}
	}

	out := responseOutcome{errors: len(payload.Errors)}
	for _, e := range payload.Errors {
		if len(e.Path) == 0 {
			continue
		}
		if field, ok := e.Path[0].(string); ok {
			out.failedFields = append(out.failedFields, field)
		}
	}
	return out
}
