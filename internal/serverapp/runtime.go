package serverapp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
)

const (
	stopReasonSignal      = "signal"
	stopReasonServerError = "server_error"
)

// Start binds the listen address and serves in the background. Bind
// failures are returned directly; later serve failures arrive on the
// returned channel. Start requires Init and is idempotent.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	ln, err := net.Listen("tcp", a.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.serverAddr, err)
	}
	a.listenAddr = ln.Addr().String()
	a.logStartup()

	errs := make(chan error, 1)
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}(a.srv)

	a.serverErrors = errs
	a.started = true
	return errs, nil
}

// Addr returns the bound listen address, or "" before Start.
func (a *App) Addr() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.listenAddr
}

func (a *App) logStartup() {
	if a.logger == nil || a.cfg == nil {
		return
	}
	cfg := a.cfg
	attrs := []any{
		slog.String("address", a.listenAddr),
		slog.String("graphql_endpoint", "/graphql"),
		slog.String("api_endpoint", "/api/resolvers/{name}"),
		slog.String("store", cfg.Store.Type),
		slog.Bool("admin_enabled", cfg.Server.Admin.Enabled),
	}
	if cfg.Observability.MetricsEnabled {
		attrs = append(attrs, slog.String("metrics_endpoint", "/metrics"))
	}
	if cfg.Server.RateLimitEnabled {
		attrs = append(attrs,
			slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
			slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
		)
	}
	a.logger.Info("server listening", attrs...)
}

// WaitForStop blocks until an OS signal or a serve failure and reports which
// one ended the wait. A nil serverErrors falls back to the channel from Start.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		if a.serverErrors != nil {
			serverErrors = a.serverErrors
		}
		a.stateMu.Unlock()
	}
	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("nothing to wait on: stop and serverErrors are both nil")
	}

	select {
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return stopReasonSignal, nil
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
		return stopReasonServerError, fmt.Errorf("server failed: %w", err)
	}
}
