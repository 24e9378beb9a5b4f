package serverapp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/config"
	"dynamic-graphql/internal/dbexec"
	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/middleware"
	"dynamic-graphql/internal/observability"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/schemarefresh"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func otlpExporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
	}
}

func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       otlpExporterConfig(otlp),
	}
}

// InitLogger builds the process logger and installs it as the slog default.
// With log exports enabled, records are also sent to the OTLP logger provider.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized")

	return logger, loggerProvider, nil
}

type appMetrics struct {
	graphql   *observability.GraphQLMetrics
	execution *observability.ExecutionMetrics
	reload    *observability.SchemaReloadMetrics
	admin     *observability.AdminMetrics
}

// initMetrics returns a nil provider and zero-valued metrics when metrics are
// disabled. Every recorder is nil-safe.
func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, appMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, appMetrics{}, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, appMetrics{}, err
	}

	var m appMetrics
	m.graphql, m.execution, err = observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, appMetrics{}, errors.Join(err, meterProvider.Shutdown(context.Background(), logger.Logger))
	}
	m.reload, err = observability.InitSchemaReloadMetrics(logger.Logger)
	if err != nil {
		return nil, appMetrics{}, errors.Join(err, meterProvider.Shutdown(context.Background(), logger.Logger))
	}
	m.admin, err = observability.InitAdminMetrics()
	if err != nil {
		return nil, appMetrics{}, errors.Join(err, meterProvider.Shutdown(context.Background(), logger.Logger))
	}

	logger.Info("OpenTelemetry metrics initialized")
	return meterProvider, m, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(otelConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized")
	return tracerProvider, nil
}

// buildRegistry registers every configured datasource. Pools open lazily on
// first use.
func buildRegistry(cfg *config.Config, logger *logging.Logger) (*backend.Registry, error) {
	sources, err := cfg.Backends.Sources()
	if err != nil {
		return nil, err
	}

	opener := backend.NewOpener(backend.OpenOptions{
		Pool: backend.PoolOptions{
			MaxOpen:     cfg.Backends.Pool.MaxOpen,
			MaxIdle:     cfg.Backends.Pool.MaxIdle,
			MaxLifetime: cfg.Backends.Pool.MaxLifetime,
		},
		MetricsEnabled: cfg.Observability.MetricsEnabled,
		TracingEnabled: cfg.Observability.TracingEnabled,
		PingTimeout:    cfg.Backends.PingTimeout,
	}, logger)

	registry, err := backend.NewRegistry(sources, opener, logger)
	if err != nil {
		return nil, err
	}

	for _, kind := range backend.Kinds {
		var variants []string
		for _, variant := range backend.Variants {
			if registry.Configured(kind, variant) {
				variants = append(variants, string(variant))
			}
		}
		if len(variants) > 0 {
			logger.Info("backend configured",
				slog.String("kind", string(kind)),
				slog.String("variants", strings.Join(variants, ",")),
			)
		}
	}
	return registry, nil
}

func buildExecutor(registry *backend.Registry, metrics *observability.ExecutionMetrics, logger *logging.Logger) *dbexec.Executor {
	return dbexec.NewExecutor(registry, metrics, logger)
}

// openStore returns the configured resolver store. The sql store lives on the
// main datasource of store.backend.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger, registry *backend.Registry) (resolverrecord.Store, error) {
	switch cfg.Store.Type {
	case config.StoreTypeFile:
		return resolverrecord.NewFileStore(cfg.Store.Path, logger), nil
	case config.StoreTypeSQL:
		kind, err := backend.ParseKind(cfg.Store.Backend)
		if err != nil {
			return nil, err
		}
		handle, err := registry.Resolve(ctx, kind, backend.Main)
		if err != nil {
			return nil, err
		}
		table := cfg.Store.Table
		if table == "" {
			table = resolverrecord.DefaultTable
		}
		return resolverrecord.NewSQLStore(dbexec.NewStandardExecutor(handle.DB), table, handle.Placeholder), nil
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Store.Type)
	}
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.Type == config.StoreTypeSQL {
		return cfg.Store.Backend + "/" + cfg.Store.Table
	}
	return cfg.Store.Path
}

// startSchemaHost builds the first schema and starts the configured refresh
// triggers. A failing first build is logged, not fatal: requests keep
// retrying the bootstrap until the records synthesize.
func startSchemaHost(ctx context.Context, cfg *config.Config, logger *logging.Logger, store resolverrecord.Store, executor *dbexec.Executor, metrics *observability.SchemaReloadMetrics) (*schemarefresh.Host, context.CancelFunc, error) {
	host, err := schemarefresh.NewHost(schemarefresh.Config{
		Store:       store,
		Executor:    executor,
		Logger:      logger,
		Metrics:     metrics,
		GraphiQL:    cfg.Server.GraphiQLEnabled,
		MinInterval: cfg.Schema.RefreshInterval,
		MaxInterval: cfg.Schema.RefreshMaxInterval,
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := host.Current(ctx); err != nil {
		logger.Warn("initial schema build failed, serving 503 until records synthesize",
			slog.String("error", err.Error()),
		)
	}

	schemaCtx, schemaCancel := context.WithCancel(context.Background())
	host.Start(schemaCtx)

	if fileStore, ok := store.(*resolverrecord.FileStore); ok && cfg.Store.Watch {
		host.WatchStore(schemaCtx, fileStore)
		logger.Info("watching resolver file", slog.String("path", fileStore.Path()))
	}

	return host, schemaCancel, nil
}

// buildGraphQLHandler chains, outermost first:
//
//	operation inspection -> metrics -> tracing -> current schema
func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, host *schemarefresh.Host, metrics *observability.GraphQLMetrics) http.Handler {
	handler := middleware.GraphQLTracingMiddleware()(host.Handler())

	if cfg.Observability.MetricsEnabled && metrics != nil {
		handler = middleware.GraphQLMetricsMiddleware(metrics)(handler)
		logger.Info("GraphQL metrics middleware enabled")
	}

	return middleware.GraphQLOperationMiddleware()(handler)
}

func buildAdminHandler(cfg *config.Config, logger *logging.Logger, api *apiHandlers, metrics *observability.AdminMetrics) (http.Handler, error) {
	if !cfg.Server.Admin.Enabled {
		return nil, nil
	}
	auth, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token:      cfg.Server.Admin.AuthToken,
		HeaderName: cfg.Server.Admin.HeaderName,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/reload-schema", api.reloadSchema)
	admin.HandleFunc("GET /admin/resolvers", api.listResolvers)
	admin.HandleFunc("GET /admin/resolvers/{name}", api.getResolver)
	admin.HandleFunc("PUT /admin/resolvers/{name}", api.putResolver)
	admin.HandleFunc("DELETE /admin/resolvers/{name}", api.deleteResolver)
	admin.HandleFunc("GET /admin/backends/{kind}/status", api.backendStatus)
	admin.HandleFunc("GET /admin/backends/{kind}/tables", api.listTables)
	admin.HandleFunc("GET /admin/backends/{kind}/tables/{table}", api.describeTable)
	admin.HandleFunc("POST /admin/schema/validate", api.validateSchema)
	admin.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "not found")
	})

	logger.Info("admin endpoints enabled", slog.String("path", "/admin/"))
	return auth(admin), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, host *schemarefresh.Host, api *apiHandlers, adminHandler http.Handler, graphqlHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	mux.Handle("GET /schema.graphql", host.SDLHandler())
	mux.HandleFunc("POST /api/resolvers/{name}", api.dispatchResolver)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		writeAPIError(w, http.StatusNotFound, "not found")
	})

	mux.HandleFunc("GET /health", healthHandler(host, cfg.Server.HealthCheckTimeout))

	if adminHandler != nil {
		mux.Handle("/admin/", adminHandler)
	}

	if cfg.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: true,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
		})(handler)
		logger.Info("rate limiting enabled",
			slog.Float64("rps", cfg.Server.RateLimitRPS),
			slog.Int("burst", cfg.Server.RateLimitBurst),
			slog.Any("exempt", middleware.DefaultRateLimitExempt),
		)
	}

	return handler
}

// httpRootSpanName names the otelhttp server span "METHOD route".
func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := cmp.Or(strings.TrimSpace(r.Method), "HTTP")
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute maps a request path to its route pattern so span
// names stay low-cardinality.
func normalizeHTTPSpanRoute(path string) string {
	switch {
	case slices.Contains(staticRoutes, path):
		return path
	case strings.HasPrefix(path, "/api/resolvers/"):
		return "/api/resolvers/{name}"
	case strings.HasPrefix(path, "/admin/"):
		return middleware.AdminRoute(path)
	default:
		return "/*"
	}
}

var staticRoutes = []string{"/", "/graphql", "/health", "/metrics", "/schema.graphql"}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
