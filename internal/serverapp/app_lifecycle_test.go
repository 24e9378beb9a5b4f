package serverapp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/config"
	"dynamic-graphql/internal/logging"
)

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:               18089,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
			MaxBodyBytes:       1 << 20,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
		Observability: config.ObservabilityConfig{
			ServiceName:    "dynamic-graphql",
			ServiceVersion: "test",
			Environment:    "test",
		},
		Backends: config.BackendsConfig{
			Pool: config.PoolConfig{MaxOpen: 1, MaxIdle: 1, MaxLifetime: time.Second},
		},
		Store: config.StoreConfig{
			Type: config.StoreTypeFile,
			Path: filepath.Join(t.TempDir(), "resolvers.yaml"),
		},
	}
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger())
	assert.Error(t, err)
	_, err = New(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestWaitForStop_SignalWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	stop <- syscall.SIGTERM

	reason, err := app.WaitForStop(stop, serverErrors)
	require.NoError(t, err)
	assert.Equal(t, "signal", reason)
}

func TestWaitForStop_ServerErrorWins(t *testing.T) {
	app := &App{logger: testLogger()}
	stop := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")

	reason, err := app.WaitForStop(stop, serverErrors)
	require.Error(t, err)
	assert.Equal(t, "server_error", reason)
	assert.Contains(t, err.Error(), "boom")
}

func TestWaitForStop_NilChannels(t *testing.T) {
	app := &App{logger: testLogger()}
	_, err := app.WaitForStop(nil, nil)
	assert.Error(t, err)
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	var stack cleanupStack
	for _, name := range []string{"providers", "pools", "schema host", "HTTP server"} {
		stack.push(name, func(context.Context) error {
			order = append(order, name)
			if name == "pools" {
				return errors.New("close failed")
			}
			return nil
		})
	}

	err := stack.run(context.Background(), testLogger())
	assert.Equal(t, []string{"HTTP server", "schema host", "pools", "providers"}, order)
	assert.EqualError(t, err, "pools: close failed")
	assert.Empty(t, stack.items)
}

func TestShutdown_ReturnsCleanupFailure(t *testing.T) {
	app := &App{logger: testLogger()}
	app.cleanup.push("backend pools", func(context.Context) error {
		return errors.New("close failed")
	})

	err := app.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend pools")
	assert.Equal(t, err, app.Shutdown(context.Background()))
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	_, err := app.Start()
	assert.Error(t, err)
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg:        testConfig(t),
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	first, err := app.Start()
	require.NoError(t, err)
	second, err := app.Start()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, app.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
}

func TestInit_FileStoreServesHealth(t *testing.T) {
	app, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload-schema", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "admin routes are disabled by default")
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Type: config.StoreTypeSQL, Backend: string(backend.MySQL), Table: "resolver_config"}

	app, err := New(cfg, testLogger())
	require.NoError(t, err)

	err = app.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrNotConfigured)

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	assert.False(t, initialized)
}

func TestStart_BindFailureIsReturned(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	app := &App{
		cfg:         testConfig(t),
		logger:      testLogger(),
		serverAddr:  ln.Addr().String(),
		srv:         &http.Server{Handler: http.NewServeMux()},
		initialized: true,
	}
	_, err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
	assert.Empty(t, app.Addr())
}
