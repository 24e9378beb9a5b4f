// Package serverapp assembles the server: telemetry providers, backend
// pools, the resolver store, the schema host and the HTTP surface, and owns
// their lifecycle.
package serverapp

import (
	"fmt"
	"net/http"
	"sync"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/config"
	"dynamic-graphql/internal/dbexec"
	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/observability"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/schemarefresh"
)

// services are the domain components built by Init.
type services struct {
	registry *backend.Registry
	executor *dbexec.Executor
	store    resolverrecord.Store
	host     *schemarefresh.Host
}

// App is the server lifecycle: New, Init, Start, WaitForStop, Shutdown.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	services services
	handler  http.Handler

	serverAddr string
	listenAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider hands the OTLP logger provider to the App so it is
// flushed last on shutdown.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
