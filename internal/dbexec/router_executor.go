package dbexec

import (
	"context"
	"log/slog"
	"time"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/observability"
)

// Router resolves the pool for a (kind, variant) pair.
type Router interface {
	Resolve(ctx context.Context, kind backend.Kind, variant backend.Variant) (*backend.Handle, error)
}

// Executor runs resolver SQL with a fixed routing policy: reads go to the
// main variant and writes go to the sandbox variant.
type Executor struct {
	router  Router
	metrics *observability.ExecutionMetrics
	logger  *logging.Logger
}

// NewExecutor creates an Executor. metrics may be nil.
func NewExecutor(router Router, metrics *observability.ExecutionMetrics, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Executor{router: router, metrics: metrics, logger: logger.WithComponent("executor")}
}

// ExecuteRead runs a read statement on the main pool of kind. sqlText uses
// sqlbind.Marker placeholders.
func (e *Executor) ExecuteRead(ctx context.Context, sqlText string, args []any, kind backend.Kind) ([]Row, error) {
	start := time.Now()
	pool, err := e.route(ctx, kind, backend.Main)
	if err != nil {
		return nil, err
	}
	handle := pool.handle

	rows, err := pool.query(ctx, sqlText, args)
	if err != nil {
		return nil, e.fail(ctx, handle, "read", start, err)
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return nil, e.fail(ctx, handle, "read", start, err)
	}

	e.metrics.RecordExecution(ctx, string(handle.Kind), string(handle.Variant), "read", time.Since(start), int64(len(result)), nil)
	e.log(ctx, handle).Debug("read executed",
		slog.Int("rows", len(result)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// ExecuteWrite runs a write statement on the sandbox pool of kind and returns
// the affected-row count. It never falls back to the main pool.
func (e *Executor) ExecuteWrite(ctx context.Context, sqlText string, args []any, kind backend.Kind) (int64, error) {
	start := time.Now()
	pool, err := e.route(ctx, kind, backend.Sandbox)
	if err != nil {
		return 0, err
	}
	handle := pool.handle

	affected, err := pool.execute(ctx, sqlText, args)
	if err != nil {
		return 0, e.fail(ctx, handle, "write", start, err)
	}

	e.metrics.RecordExecution(ctx, string(handle.Kind), string(handle.Variant), "write", time.Since(start), affected, nil)
	e.log(ctx, handle).Debug("write executed",
		slog.Int64("affected", affected),
		slog.Duration("duration", time.Since(start)),
	)
	return affected, nil
}

// route resolves the pool for kind and variant. Router errors are
// configuration errors and are returned unchanged.
func (e *Executor) route(ctx context.Context, kind backend.Kind, variant backend.Variant) (*poolExecutor, error) {
	handle, err := e.router.Resolve(ctx, kind, variant)
	if err != nil {
		return nil, err
	}
	return forHandle(handle), nil
}

func (e *Executor) fail(ctx context.Context, handle *backend.Handle, op string, start time.Time, err error) error {
	execErr := newExecutionError(err)
	e.metrics.RecordExecution(ctx, string(handle.Kind), string(handle.Variant), op, time.Since(start), 0, execErr)
	e.log(ctx, handle).Warn("resolver SQL failed",
		slog.String("operation", op),
		slog.String("error", execErr.Message),
	)
	return execErr
}

// log prefers the request logger so executor records carry the request ID.
func (e *Executor) log(ctx context.Context, handle *backend.Handle) *logging.Logger {
	logger := e.logger
	if logging.GetRequestID(ctx) != "" {
		logger = logging.FromContext(ctx).WithComponent("executor")
	}
	return logger.WithBackend(string(handle.Kind), string(handle.Variant))
}
