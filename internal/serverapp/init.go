package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Init builds every runtime resource in dependency order. Resources are
// pushed on the cleanup stack as they are acquired; if a later step fails
// the stack is unwound and the App stays uninitialized. Init is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	loggerProvider := a.loggerProvider
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	var cleanup cleanupStack
	committed := false
	defer func() {
		if !committed {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if loggerProvider != nil {
		cleanup.push("logger provider", func(ctx context.Context) error {
			return loggerProvider.Shutdown(ctx, a.logger.Logger)
		})
	}
	metrics, err := a.initTelemetry(&cleanup)
	if err != nil {
		return err
	}
	svc, err := a.initServices(ctx, &cleanup, metrics)
	if err != nil {
		return err
	}
	handler, err := a.initHTTP(svc, metrics)
	if err != nil {
		return err
	}

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.push("HTTP server", srv.Shutdown)

	a.stateMu.Lock()
	a.services = svc
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	committed = true
	return nil
}

func (a *App) initTelemetry(cleanup *cleanupStack) (appMetrics, error) {
	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return appMetrics{}, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return appMetrics{}, fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, a.logger.Logger)
		})
	}
	return metrics, nil
}

// initServices opens the backend pools and the resolver store, then starts
// the schema host that synthesizes the store's records.
func (a *App) initServices(ctx context.Context, cleanup *cleanupStack, metrics appMetrics) (services, error) {
	registry, err := buildRegistry(a.cfg, a.logger)
	if err != nil {
		return services{}, fmt.Errorf("failed to build backend registry: %w", err)
	}
	cleanup.push("backend pools", func(context.Context) error { return registry.Close() })

	store, err := openStore(ctx, a.cfg, a.logger, registry)
	if err != nil {
		return services{}, fmt.Errorf("failed to open resolver store: %w", err)
	}
	a.logger.Info("resolver store ready",
		slog.String("type", a.cfg.Store.Type),
		slog.String("location", storeLocation(a.cfg)),
	)

	executor := buildExecutor(registry, metrics.execution, a.logger)
	host, stop, err := startSchemaHost(ctx, a.cfg, a.logger, store, executor, metrics.reload)
	if err != nil {
		return services{}, fmt.Errorf("failed to initialize schema host: %w", err)
	}
	cleanup.push("schema host", func(ctx context.Context) error {
		stop()
		return host.Wait(ctx)
	})

	return services{registry: registry, executor: executor, store: store, host: host}, nil
}

func (a *App) initHTTP(svc services, metrics appMetrics) (http.Handler, error) {
	api := &apiHandlers{
		host:     svc.host,
		store:    svc.store,
		registry: svc.registry,
		maxBody:  a.cfg.Server.MaxBodyBytes,
	}
	admin, err := buildAdminHandler(a.cfg, a.logger, api, metrics.admin)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize admin handler: %w", err)
	}
	graphql := buildGraphQLHandler(a.cfg, a.logger, svc.host, metrics.graphql)
	mux := buildRouter(a.cfg, a.logger, svc.host, api, admin, graphql)
	return wrapHTTPHandler(a.cfg, a.logger, mux), nil
}
