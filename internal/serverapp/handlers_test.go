package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/config"
	"dynamic-graphql/internal/dbexec"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/schemarefresh"
	"dynamic-graphql/internal/sqlguard"
	"dynamic-graphql/internal/synth"
)

const testAdminToken = "0123456789abcdef-admin"

type call struct {
	sql  string
	args []any
	kind backend.Kind
	op   string
}

// recordingExecutor answers reads with a fixed user row and writes with a
// fixed affected count.
type recordingExecutor struct {
	mu       sync.Mutex
	calls    []call
	affected int64
	err      error
}

func (e *recordingExecutor) ExecuteRead(_ context.Context, sqlText string, args []any, kind backend.Kind) ([]dbexec.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{sql: sqlText, args: args, kind: kind, op: "read"})
	if e.err != nil {
		return nil, e.err
	}
	return []dbexec.Row{dbexec.NewRow([]string{"id", "name"}, []any{int64(1), "Ada"})}, nil
}

func (e *recordingExecutor) ExecuteWrite(_ context.Context, sqlText string, args []any, kind backend.Kind) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{sql: sqlText, args: args, kind: kind, op: "write"})
	if e.err != nil {
		return 0, e.err
	}
	return e.affected, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Status(_ context.Context, kind backend.Kind) ([]backend.VariantStatus, error) {
	return []backend.VariantStatus{
		{Variant: backend.Main, Configured: true, Connected: true, Database: "app", Message: "connection ok"},
		{Variant: backend.Sandbox, Message: "not configured"},
	}, nil
}

func (fakeCatalog) Tables(_ context.Context, kind backend.Kind, variant backend.Variant) ([]string, error) {
	if variant != backend.Main {
		return nil, &backend.NotConfiguredError{Kind: kind, Variant: variant, Key: backend.ConfigKey(kind, variant)}
	}
	return []string{"orders", "users"}, nil
}

func (fakeCatalog) DescribeTable(_ context.Context, _ backend.Kind, _ backend.Variant, table string) ([]backend.TableColumn, error) {
	if table != "users" {
		return nil, fmt.Errorf("%w: %s", backend.ErrTableNotFound, table)
	}
	return []backend.TableColumn{{Name: "id", Type: "bigint"}, {Name: "name", Type: "varchar", Nullable: true}}, nil
}

type testServer struct {
	handler http.Handler
	store   *resolverrecord.FileStore
	host    *schemarefresh.Host
	exec    *recordingExecutor
}

func userRecord() resolverrecord.Record {
	return resolverrecord.Record{
		Name:         "getUserById",
		Kind:         resolverrecord.KindQuery,
		SQL:          "SELECT id,name FROM users WHERE id=#{userId}",
		InputParams:  resolverrecord.Decls{{Name: "userId", Type: "Int"}},
		OutputFields: resolverrecord.Decls{{Name: "id", Type: "ID"}, {Name: "name", Type: "String"}},
		Enabled:      true,
	}
}

func renameRecord() resolverrecord.Record {
	return resolverrecord.Record{
		Name:        "renameUser",
		Kind:        resolverrecord.KindMutation,
		SQL:         "UPDATE users SET name=#{name} WHERE id=#{id}",
		InputParams: resolverrecord.Decls{{Name: "id", Type: "Int", Required: true}, {Name: "name", Type: "String", Required: true}},
		Enabled:     true,
	}
}

func newTestServer(t *testing.T, records ...resolverrecord.Record) *testServer {
	t.Helper()
	logger := testLogger()

	store := resolverrecord.NewFileStore(filepath.Join(t.TempDir(), "resolvers.yaml"), logger)
	for _, r := range records {
		require.NoError(t, store.Put(context.Background(), r))
	}

	exec := &recordingExecutor{affected: 1}
	host, err := schemarefresh.NewHost(schemarefresh.Config{Store: store, Executor: exec, Logger: logger})
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			MaxBodyBytes:       1 << 20,
			Admin:              config.AdminConfig{Enabled: true, AuthToken: testAdminToken},
		},
	}
	api := &apiHandlers{host: host, store: store, registry: fakeCatalog{}, maxBody: cfg.Server.MaxBodyBytes}
	admin, err := buildAdminHandler(cfg, logger, api, nil)
	require.NoError(t, err)

	mux := buildRouter(cfg, logger, host, api, admin, buildGraphQLHandler(cfg, logger, host, nil))
	return &testServer{handler: wrapHTTPHandler(cfg, logger, mux), store: store, host: host, exec: exec}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, body string, admin bool) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Token", testAdminToken)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func TestDispatchResolver(t *testing.T) {
	srv := newTestServer(t, userRecord(), renameRecord())

	t.Run("query", func(t *testing.T) {
		status, env := srv.do(t, http.MethodPost, "/api/resolvers/getUserById", `{"userId": 1}`, false)
		require.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
		assert.JSONEq(t, `{"id":1,"name":"Ada"}`, string(env.Data))

		last := srv.exec.calls[len(srv.exec.calls)-1]
		assert.Equal(t, "SELECT id,name FROM users WHERE id=?", last.sql)
		assert.Equal(t, []any{int64(1)}, last.args)
		assert.Equal(t, backend.MySQL, last.kind)
	})

	t.Run("mutation", func(t *testing.T) {
		status, env := srv.do(t, http.MethodPost, "/api/resolvers/renameUser", `{"id": 1, "name": "Grace"}`, false)
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"success":true,"affectedCount":1}`, string(env.Data))
		assert.Equal(t, "write", srv.exec.calls[len(srv.exec.calls)-1].op)
	})

	t.Run("missing required argument", func(t *testing.T) {
		status, env := srv.do(t, http.MethodPost, "/api/resolvers/renameUser", `{"id": 1}`, false)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.False(t, env.Success)
		assert.Contains(t, env.Message, `argument "name"`)
	})

	t.Run("unknown resolver", func(t *testing.T) {
		status, env := srv.do(t, http.MethodPost, "/api/resolvers/nope", "", false)
		assert.Equal(t, http.StatusNotFound, status)
		assert.False(t, env.Success)
	})

	t.Run("malformed body", func(t *testing.T) {
		status, env := srv.do(t, http.MethodPost, "/api/resolvers/getUserById", `{"userId":`, false)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, env.Message, "malformed request body")
	})
}

func TestDispatchResolver_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not configured", err: &backend.NotConfiguredError{Kind: backend.MySQL, Variant: backend.Main, Key: "backends.mysql.main.dsn"}, status: http.StatusServiceUnavailable},
		{name: "execution", err: &dbexec.ExecutionError{Message: "table users does not exist"}, status: http.StatusBadGateway},
		{name: "unclassified", err: errors.New("secret detail"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, userRecord())
			srv.exec.err = tt.err

			status, env := srv.do(t, http.MethodPost, "/api/resolvers/getUserById", `{"userId": 1}`, false)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.NotContains(t, env.Message, "secret detail")
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&sqlguard.InvalidSQLError{Reason: "multiple statements"}, http.StatusBadRequest},
		{&resolverrecord.ValidationError{Name: "x", Problems: []string{"bad"}}, http.StatusBadRequest},
		{&synth.SynthesisError{Reason: "clash"}, http.StatusUnprocessableEntity},
		{resolverrecord.ErrNotFound, http.StatusNotFound},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: users", backend.ErrTableNotFound), http.StatusNotFound},
		{fmt.Errorf("%w %q", backend.ErrUnknownVariant, "replica"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		status, known := statusForError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.True(t, known)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.do(t, http.MethodGet, "/admin/resolvers", "", false)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)

	status, env = srv.do(t, http.MethodGet, "/admin/resolvers", "", true)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestAdminResolverCRUD(t *testing.T) {
	srv := newTestServer(t)

	body := `{"kind":"QUERY","sql":"SELECT id,name FROM users WHERE id=#{userId}","inputParams":{"userId":"Int"},"outputFields":{"id":"ID","name":"String"},"enabled":true}`
	status, env := srv.do(t, http.MethodPut, "/admin/resolvers/getUserById", body, true)
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.True(t, env.Success)

	compiled, err := srv.host.Current(context.Background())
	require.NoError(t, err)
	assert.Contains(t, compiled.Fields(), "getUserById")

	status, env = srv.do(t, http.MethodGet, "/admin/resolvers/getUserById", "", true)
	require.Equal(t, http.StatusOK, status)
	var got resolverrecord.Record
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, resolverrecord.KindQuery, got.Kind)

	status, _ = srv.do(t, http.MethodPut, "/admin/resolvers/getUserById", body, true)
	assert.Equal(t, http.StatusOK, status)

	status, _ = srv.do(t, http.MethodDelete, "/admin/resolvers/getUserById", "", true)
	assert.Equal(t, http.StatusOK, status)

	compiled, err = srv.host.Current(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, compiled.Fields(), "getUserById")

	status, _ = srv.do(t, http.MethodDelete, "/admin/resolvers/getUserById", "", true)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminPutResolver_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		msg    string
	}{
		{
			name:   "write SQL on a query",
			path:   "/admin/resolvers/dropUsers",
			body:   `{"kind":"QUERY","sql":"UPDATE users SET x=1","enabled":true}`,
			status: http.StatusBadRequest,
			msg:    "invalid SQL",
		},
		{
			name:   "stacked statements",
			path:   "/admin/resolvers/listUsers",
			body:   `{"kind":"QUERY","sql":"SELECT * FROM t; DROP TABLE t","enabled":true}`,
			status: http.StatusBadRequest,
			msg:    "invalid SQL",
		},
		{
			name:   "invalid name",
			path:   "/admin/resolvers/bad-name",
			body:   `{"kind":"QUERY","sql":"SELECT id FROM users","enabled":true}`,
			status: http.StatusBadRequest,
			msg:    "must match",
		},
		{
			name:   "name mismatch",
			path:   "/admin/resolvers/listUsers",
			body:   `{"name":"other","kind":"QUERY","sql":"SELECT id FROM users","enabled":true}`,
			status: http.StatusBadRequest,
			msg:    "does not match",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			status, env := srv.do(t, http.MethodPut, tt.path, tt.body, true)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.Contains(t, env.Message, tt.msg)

			records, err := srv.store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestAdminPutResolver_SynthesisFailureRestoresStore(t *testing.T) {
	srv := newTestServer(t, userRecord())
	before, err := srv.host.Current(context.Background())
	require.NoError(t, err)

	// "ping" collides with a built-in Query field.
	status, env := srv.do(t, http.MethodPut, "/admin/resolvers/ping", `{"kind":"QUERY","sql":"SELECT 1 FROM dual","enabled":true}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, env.Message, "duplicate Query field")

	_, err = srv.store.Get(context.Background(), "ping")
	assert.ErrorIs(t, err, resolverrecord.ErrNotFound)

	after, err := srv.host.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
}

func TestAdminReloadSchema(t *testing.T) {
	srv := newTestServer(t, userRecord())

	status, env := srv.do(t, http.MethodPost, "/admin/reload-schema", "", true)
	require.Equal(t, http.StatusOK, status)
	var info schemaInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 1, info.Resolvers)
	assert.Equal(t, []string{"getUserById"}, info.Fields)
	assert.Len(t, info.Fingerprint, 64)

	status, _ = srv.do(t, http.MethodGet, "/admin/reload-schema", "", true)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminBackendStatus(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.do(t, http.MethodGet, "/admin/backends/mysql/status", "", true)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"kind":"MYSQL"`)
	assert.Contains(t, string(env.Data), `"connected":true`)

	status, env = srv.do(t, http.MethodGet, "/admin/backends/oracle/status", "", true)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "unsupported backend kind")
}

func TestAdminBackendTables(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.do(t, http.MethodGet, "/admin/backends/mysql/tables", "", true)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.JSONEq(t, `{"kind":"MYSQL","variant":"main","tables":["orders","users"]}`, string(env.Data))

	status, env = srv.do(t, http.MethodGet, "/admin/backends/mysql/tables?variant=sandbox", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, env.Message, "backends.mysql.sandbox.dsn")

	status, _ = srv.do(t, http.MethodGet, "/admin/backends/mysql/tables?variant=replica", "", true)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = srv.do(t, http.MethodGet, "/admin/backends/mysql/tables", "", false)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminDescribeTable(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.do(t, http.MethodGet, "/admin/backends/mysql/tables/users", "", true)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.JSONEq(t, `{"kind":"MYSQL","variant":"main","table":"users","columns":[`+
		`{"name":"id","type":"bigint","nullable":false},`+
		`{"name":"name","type":"varchar","nullable":true}]}`, string(env.Data))

	status, env = srv.do(t, http.MethodGet, "/admin/backends/mysql/tables/missing", "", true)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, env.Message, "table not found")
}

func TestAdminValidateSchema(t *testing.T) {
	srv := newTestServer(t, userRecord())
	_, err := srv.host.Current(context.Background())
	require.NoError(t, err)

	status, env := srv.do(t, http.MethodPost, "/admin/schema/validate",
		`{"schema":"extend type getUserById_Result { email: String }"}`, true)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"valid":true}`, string(env.Data))

	status, env = srv.do(t, http.MethodPost, "/admin/schema/validate", `{"schema":"type Query { x: String }"}`, true)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "schema fragment is invalid", env.Message)
	var result struct {
		Valid   bool                  `json:"valid"`
		Problem synth.FragmentProblem `json:"problem"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Problem.Message, "Cannot redeclare type Query")
	assert.Equal(t, 1, result.Problem.Line)

	status, _ = srv.do(t, http.MethodPost, "/admin/schema/validate", `{"schema":`, true)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthAndSchemaEndpoints(t *testing.T) {
	srv := newTestServer(t, userRecord())

	status, env := srv.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", env.Message)
	assert.Contains(t, string(env.Data), `"schema":"ready"`)

	req := httptest.NewRequest(http.MethodGet, "/schema.graphql", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "getUserById(userId: Int): getUserById_Result")
}

func TestGraphQLEndpoint(t *testing.T) {
	srv := newTestServer(t, userRecord())

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ getUserById(userId: 1) { id name } }"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"getUserById":{"id":"1","name":"Ada"}}}`, rec.Body.String())
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	srv := newTestServer(t)
	status, env := srv.do(t, http.MethodGet, "/nowhere", "", false)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
}
