package resolverrecord

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/dbexec"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(filepath.Join(t.TempDir(), "resolvers.yaml"), nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := newTestFileStore(t)
	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	require.NoError(t, s.Put(ctx, validRecord()))
	disabled := validRecord()
	disabled.Name = "archivedUsers"
	disabled.Kind = "query"
	disabled.Enabled = false
	require.NoError(t, s.Put(ctx, disabled))

	got, err := s.Get(ctx, "getUserById")
	require.NoError(t, err)
	assert.Equal(t, KindQuery, got.Kind)
	assert.Equal(t, backend.MySQL, got.Backend)
	assert.Equal(t, fixedNow, got.UpdatedAt)
	assert.Equal(t, validRecord().OutputFields, got.OutputFields)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "archivedUsers", all[0].Name)

	enabled, err := s.Enabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "getUserById", enabled[0].Name)

	updated := validRecord()
	updated.Description = "fetch one user"
	require.NoError(t, s.Put(ctx, updated))
	got, err = s.Get(ctx, "getUserById")
	require.NoError(t, err)
	assert.Equal(t, "fetch one user", got.Description)

	require.NoError(t, s.Delete(ctx, "archivedUsers"))
	assert.ErrorIs(t, s.Delete(ctx, "archivedUsers"), ErrNotFound)

	all, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFileStore_PutRejectsInvalid(t *testing.T) {
	s := newTestFileStore(t)
	bad := validRecord()
	bad.Name = "no spaces allowed"
	err := s.Put(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStore_ReadsHandWrittenDocument(t *testing.T) {
	s := newTestFileStore(t)
	doc := `resolvers:
  - name: listOrders
    kind: query
    backend: postgresql
    sql: SELECT id, total FROM orders WHERE status = #{status}
    input_params:
      status: String!
    output_fields:
      id: ID
      total: decimal
    enabled: true
`
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o600))

	got, err := s.Get(context.Background(), "listOrders")
	require.NoError(t, err)
	assert.Equal(t, KindQuery, got.Kind)
	assert.Equal(t, backend.PostgreSQL, got.Backend)
	assert.Equal(t, Decls{{Name: "status", Type: "String", Required: true}}, got.InputParams)
	assert.Equal(t, []string{"id", "total"}, []string{got.OutputFields[0].Name, got.OutputFields[1].Name})
}

func TestFileStore_CorruptDocument(t *testing.T) {
	s := newTestFileStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("resolvers: [:"), 0o600))
	_, err := s.List(context.Background())
	assert.Error(t, err)
}

func TestFileStore_WatchFiresOnChange(t *testing.T) {
	s := newTestFileStore(t)
	s.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Put(context.Background(), validRecord()))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not report the write")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func newSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewSQLStore(dbexec.NewStandardExecutor(db), "", sq.Question)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows(recordColumns)
}

func TestSQLStore_Enabled(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT resolver_name, operation_type, data_source, sql_query, description, input_parameters, output_fields, cardinality, enabled, updated_at FROM resolver_config WHERE enabled = ? ORDER BY resolver_name",
	)).
		WithArgs(true).
		WillReturnRows(recordRows().
			AddRow("getUserById", "query", nil, "SELECT id,name FROM users WHERE id=#{userId}", nil,
				`{"userId":"Int"}`, `{"id":"ID","name":"String"}`, nil, true, fixedNow))

	records, err := s.Enabled(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, KindQuery, r.Kind)
	assert.Equal(t, backend.MySQL, r.Backend)
	assert.Equal(t, Decls{{Name: "userId", Type: "Int"}}, r.InputParams)
	assert.Equal(t, Decls{{Name: "id", Type: "ID"}, {Name: "name", Type: "String"}}, r.OutputFields)
	assert.True(t, r.Enabled)
	assert.Equal(t, fixedNow, r.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_BadDeclarationsFail(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectQuery("SELECT (.+) FROM resolver_config").
		WillReturnRows(recordRows().
			AddRow("broken", "QUERY", "MYSQL", "SELECT * FROM t", "", `Int`, "", "", true, nil))

	_, err := s.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken input_parameters")
}

func TestSQLStore_GetNotFound(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectQuery("SELECT (.+) FROM resolver_config WHERE resolver_name = \\?").
		WithArgs("missing").
		WillReturnRows(recordRows())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_PutUpdatesThenInserts(t *testing.T) {
	s, mock := newSQLStore(t)
	r := validRecord()

	mock.ExpectExec("UPDATE resolver_config SET (.+) WHERE resolver_name = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO resolver_config \\(resolver_name,operation_type,data_source,sql_query,description,input_parameters,output_fields,cardinality,enabled,updated_at\\)").
		WithArgs("getUserById", "QUERY", "MYSQL", r.SQL, "", `{"userId":"Int"}`, `{"id":"ID","name":"String"}`, "", true, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Put(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PutExistingSkipsInsert(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectExec("UPDATE resolver_config SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Put(context.Background(), validRecord()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Delete(t *testing.T) {
	s, mock := newSQLStore(t)
	mock.ExpectExec("DELETE FROM resolver_config WHERE resolver_name = \\?").
		WithArgs("getUserById").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM resolver_config").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Delete(context.Background(), "getUserById"))
	assert.ErrorIs(t, s.Delete(context.Background(), "gone"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(dbexec.NewStandardExecutor(db), "api_resolvers", sq.Dollar)
	mock.ExpectQuery(regexp.QuoteMeta("FROM api_resolvers WHERE resolver_name = $1")).
		WithArgs("x").
		WillReturnError(sql.ErrConnDone)

	_, err = s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
