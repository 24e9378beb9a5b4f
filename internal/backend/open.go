package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"dynamic-graphql/internal/logging"
)

// PoolOptions are applied to every pool the opener creates.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// OpenOptions configures NewOpener.
type OpenOptions struct {
	Pool           PoolOptions
	MetricsEnabled bool
	TracingEnabled bool
	// PingTimeout bounds the connectivity check after open. Zero skips the check.
	PingTimeout time.Duration
}

// NewOpener returns an Opener that opens pools through otelsql when metrics
// or tracing are enabled and through database/sql otherwise.
func NewOpener(opts OpenOptions, logger *logging.Logger) Opener {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(ctx context.Context, src Source) (*sql.DB, error) {
		db, err := openPool(src, opts, logger)
		if err != nil {
			return nil, err
		}

		db.SetMaxOpenConns(opts.Pool.MaxOpen)
		db.SetMaxIdleConns(opts.Pool.MaxIdle)
		db.SetConnMaxLifetime(opts.Pool.MaxLifetime)

		if opts.PingTimeout > 0 {
			pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				// Keep the pool: database/sql reconnects on the next use.
				logger.Warn("datasource not reachable yet",
					slog.String("kind", string(src.Kind)),
					slog.String("variant", string(src.Variant)),
					slog.String("error", err.Error()),
				)
			}
		}
		return db, nil
	}
}

func openPool(src Source, opts OpenOptions, logger *logging.Logger) (*sql.DB, error) {
	if !opts.MetricsEnabled && !opts.TracingEnabled {
		return sql.Open(src.Driver, src.DSN)
	}

	attrs := []attribute.KeyValue{
		dbSystem(src.Kind),
		attribute.String("db.backend.variant", string(src.Variant)),
	}
	otelOpts := []otelsql.Option{otelsql.WithAttributes(attrs...)}
	if opts.TracingEnabled {
		otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}

	db, err := otelsql.Open(src.Driver, src.DSN, otelOpts...)
	if err != nil {
		return nil, fmt.Errorf("otelsql open: %w", err)
	}
	if opts.MetricsEnabled {
		if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(attrs...)); err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	return db, nil
}

func dbSystem(kind Kind) attribute.KeyValue {
	switch kind {
	case PostgreSQL:
		return semconv.DBSystemPostgreSQL
	case DM8:
		return semconv.DBSystemOtherSQL
	default:
		return semconv.DBSystemMySQL
	}
}
