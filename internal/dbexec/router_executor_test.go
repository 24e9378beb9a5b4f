package dbexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-graphql/internal/backend"
)

type routeCall struct {
	kind    backend.Kind
	variant backend.Variant
}

type stubRouter struct {
	handles map[routeCall]*backend.Handle
	calls   []routeCall
}

func (s *stubRouter) Resolve(_ context.Context, kind backend.Kind, variant backend.Variant) (*backend.Handle, error) {
	call := routeCall{kind: kind, variant: variant}
	s.calls = append(s.calls, call)
	if h, ok := s.handles[call]; ok {
		return h, nil
	}
	return nil, &backend.NotConfiguredError{Kind: kind, Variant: variant, Key: backend.ConfigKey(kind, variant)}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func handleFor(db *sql.DB, kind backend.Kind, variant backend.Variant, placeholder sq.PlaceholderFormat) *backend.Handle {
	return &backend.Handle{DB: db, Kind: kind, Variant: variant, Placeholder: placeholder}
}

func TestExecuteRead_UsesMainAndKeepsColumnOrder(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.MySQL, backend.Main}: handleFor(db, backend.MySQL, backend.Main, sq.Question),
	}}

	mock.ExpectQuery("SELECT id,name FROM users WHERE id=?").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), []byte("Ada")))

	exec := NewExecutor(router, nil, nil)
	rows, err := exec.ExecuteRead(context.Background(), "SELECT id,name FROM users WHERE id=?", []any{1}, backend.MySQL)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"id", "name"}, rows[0].Columns())
	name, ok := rows[0].Get("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name)

	encoded, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"name":"Ada"}`, string(encoded))

	assert.Equal(t, []routeCall{{backend.MySQL, backend.Main}}, router.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRead_EmptyResultIsEmptySlice(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.MySQL, backend.Main}: handleFor(db, backend.MySQL, backend.Main, sq.Question),
	}}
	mock.ExpectQuery("SELECT id FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rows, err := NewExecutor(router, nil, nil).ExecuteRead(context.Background(), "SELECT id FROM users", nil, backend.MySQL)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestExecuteRead_RebindsForPostgres(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.PostgreSQL, backend.Main}: handleFor(db, backend.PostgreSQL, backend.Main, sq.Dollar),
	}}

	mock.ExpectQuery("SELECT * FROM t WHERE a = $1 AND b = $2").
		WithArgs("x", "y").
		WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow("x"))

	_, err := NewExecutor(router, nil, nil).ExecuteRead(context.Background(), "SELECT * FROM t WHERE a = ? AND b = ?", []any{"x", "y"}, backend.PostgreSQL)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteWrite_UsesSandbox(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.MySQL, backend.Sandbox}: handleFor(db, backend.MySQL, backend.Sandbox, sq.Question),
	}}

	mock.ExpectExec("UPDATE users SET name=? WHERE id=?").
		WithArgs("Bob", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := NewExecutor(router, nil, nil).ExecuteWrite(context.Background(), "UPDATE users SET name=? WHERE id=?", []any{"Bob", 2}, backend.MySQL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.Equal(t, []routeCall{{backend.MySQL, backend.Sandbox}}, router.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteWrite_MainOnlyIsNotConfigured(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.DM8, backend.Main}: handleFor(db, backend.DM8, backend.Main, sq.Colon),
	}}

	_, err := NewExecutor(router, nil, nil).ExecuteWrite(context.Background(), "DELETE FROM t", nil, backend.DM8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrNotConfigured))
	assert.False(t, errors.Is(err, ErrExecution))
	assert.Equal(t, "DM8 sandbox datasource not configured (backends.dm8.sandbox.dsn)", err.Error())
	assert.Equal(t, []routeCall{{backend.DM8, backend.Sandbox}}, router.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_DriverErrorIsUnwrapped(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.MySQL, backend.Main}: handleFor(db, backend.MySQL, backend.Main, sq.Question),
	}}

	root := errors.New("Table 'app.missing' doesn't exist")
	mock.ExpectQuery("SELECT * FROM missing").WillReturnError(fmt.Errorf("driver: %w", fmt.Errorf("conn: %w", root)))

	_, err := NewExecutor(router, nil, nil).ExecuteRead(context.Background(), "SELECT * FROM missing", nil, backend.MySQL)
	require.Error(t, err)
	assert.Equal(t, "execution failed: Table 'app.missing' doesn't exist", err.Error())
	assert.True(t, errors.Is(err, ErrExecution))
	assert.True(t, errors.Is(err, root))
}

func TestExecute_ScanErrorIsExecutionError(t *testing.T) {
	db, mock := newMockDB(t)
	router := &stubRouter{handles: map[routeCall]*backend.Handle{
		{backend.MySQL, backend.Main}: handleFor(db, backend.MySQL, backend.Main, sq.Question),
	}}
	mock.ExpectQuery("SELECT id FROM t").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).RowError(0, errors.New("row broken")),
	)

	_, err := NewExecutor(router, nil, nil).ExecuteRead(context.Background(), "SELECT id FROM t", nil, backend.MySQL)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "row broken")
}

func TestRootCause(t *testing.T) {
	base := errors.New("base")
	assert.Equal(t, base, RootCause(base))
	assert.Equal(t, base, RootCause(fmt.Errorf("a: %w", fmt.Errorf("b: %w", base))))
	assert.Equal(t, base, RootCause(errors.Join(base, errors.New("other"))))
	assert.Nil(t, RootCause(nil))
}

func TestNewRow_DuplicateColumns(t *testing.T) {
	row := NewRow([]string{"id", "name", "id"}, []any{1, "a", 2})
	assert.Equal(t, []string{"id", "name"}, row.Columns())
	assert.Equal(t, 2, row.Len())
	v, _ := row.Get("id")
	assert.Equal(t, 2, v)
	assert.Equal(t, map[string]any{"id": 2, "name": "a"}, row.Map())
}

func TestStandardExecutor_NilDB(t *testing.T) {
	exec := NewStandardExecutor(nil)
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	_, err = exec.ExecContext(context.Background(), "DELETE FROM t")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
