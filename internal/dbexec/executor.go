// Package dbexec runs bound resolver SQL against the pool chosen by the
// backend router and materializes the result.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/sqlbind"
)

// errPoolClosed is returned when a statement reaches an executor with no pool.
var errPoolClosed = fmt.Errorf("pool is not open: %w", sql.ErrConnDone)

// Rows is the part of *sql.Rows that result collection reads.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs driver-ready SQL against one pool. The resolver store
// and the routed executor both sit on it.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor adapts *sql.DB to QueryExecutor.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor wraps db. A nil db yields an executor whose every
// call fails with sql.ErrConnDone.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, errPoolClosed
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, errPoolClosed
	}
	return e.db.ExecContext(ctx, query, args...)
}

// poolExecutor runs marker-placeholder SQL on a routed pool. Markers are
// rewritten to the pool's driver syntax before the statement is sent.
type poolExecutor struct {
	handle *backend.Handle
	exec   QueryExecutor
}

func forHandle(handle *backend.Handle) *poolExecutor {
	return &poolExecutor{handle: handle, exec: NewStandardExecutor(handle.DB)}
}

func (p *poolExecutor) rebind(sqlText string) (string, error) {
	query, err := sqlbind.Rebind(sqlText, p.handle.Placeholder)
	if err != nil {
		return "", fmt.Errorf("%s/%s: %w", p.handle.Kind, p.handle.Variant, err)
	}
	return query, nil
}

func (p *poolExecutor) query(ctx context.Context, sqlText string, args []any) (Rows, error) {
	query, err := p.rebind(sqlText)
	if err != nil {
		return nil, err
	}
	return p.exec.QueryContext(ctx, query, args...)
}

// execute returns the affected-row count of a write.
func (p *poolExecutor) execute(ctx context.Context, sqlText string, args []any) (int64, error) {
	query, err := p.rebind(sqlText)
	if err != nil {
		return 0, err
	}
	res, err := p.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
