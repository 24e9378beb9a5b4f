package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/resolverrecord"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Server.validate(result)
	c.Logging.validate(result)
	c.Observability.validate(result)
	c.Backends.validate(result)
	c.Store.validate(&c.Backends, result)
	c.Schema.validate(result)

	return result
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.addError("server.rate_limit_rps", "rate_limit_rps must be greater than 0 when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.addError("server.rate_limit_burst", "rate_limit_burst must be greater than 0 when rate limiting is enabled", "")
		}
	} else if s.RateLimitRPS > 0 || s.RateLimitBurst > 0 {
		result.addWarning("server.rate_limit_enabled",
			"rate limit values are set but rate limiting is disabled",
			"enable server.rate_limit_enabled to apply rate limits")
	}

	for field, value := range map[string]int64{
		"server.read_timeout":         int64(s.ReadTimeout),
		"server.write_timeout":        int64(s.WriteTimeout),
		"server.idle_timeout":         int64(s.IdleTimeout),
		"server.shutdown_timeout":     int64(s.ShutdownTimeout),
		"server.health_check_timeout": int64(s.HealthCheckTimeout),
	} {
		if value < 0 {
			result.addError(field, "timeout cannot be negative", "")
		}
	}
	if s.MaxBodyBytes <= 0 {
		result.addError("server.max_body_bytes", "max_body_bytes must be greater than 0", "")
	}

	if s.Admin.Enabled && strings.TrimSpace(s.Admin.AuthToken) == "" {
		result.addError("server.admin.auth_token",
			"an admin token is required when the admin routes are enabled",
			"set server.admin.auth_token or server.admin.auth_token_file")
	}
	if !s.Admin.Enabled && s.Admin.AuthToken != "" {
		result.addWarning("server.admin.enabled",
			"an admin token is set but the admin routes are disabled",
			"enable server.admin.enabled to expose /admin")
	}
	if s.Admin.Enabled && len(strings.TrimSpace(s.Admin.AuthToken)) > 0 && len(strings.TrimSpace(s.Admin.AuthToken)) < 16 {
		result.addWarning("server.admin.auth_token", "admin token is shorter than 16 characters", "use a long random token")
	}

	if s.GraphiQLEnabled {
		result.addWarning("server.graphiql_enabled", "GraphiQL is enabled", "disable it outside development")
	}
}

func (l *LoggingConfig) validate(result *ValidationResult) {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		result.addError("logging.level", fmt.Sprintf("invalid log level %q", l.Level), "valid values are: debug, info, warn, error")
	}
	switch l.Format {
	case "json", "text":
	default:
		result.addError("logging.format", fmt.Sprintf("invalid log format %q", l.Format), "valid values are: json, text")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio",
			fmt.Sprintf("trace_sample_ratio %v is out of range", o.TraceSampleRatio),
			"use a value from 0.0 to 1.0")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	switch o.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	switch o.Compression {
	case "", "none", "gzip":
	default:
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

func (b *BackendsConfig) validate(result *ValidationResult) {
	configured := 0
	for _, kind := range backend.Kinds {
		entry := b.ForKind(kind)
		for _, variant := range backend.Variants {
			if strings.TrimSpace(entry.DataSource(variant).DSN) != "" {
				configured++
			}
		}
		if entry.Main.DSN == "" && entry.Sandbox.DSN != "" {
			result.addWarning(backend.ConfigKey(kind, backend.Main),
				fmt.Sprintf("%s has a sandbox but no main datasource", kind),
				"QUERY resolvers for this backend will fail until main is configured")
		}
		if entry.Sandbox.DSN == "" && entry.Main.DSN != "" {
			result.addWarning(backend.ConfigKey(kind, backend.Sandbox),
				fmt.Sprintf("%s has no sandbox datasource", kind),
				"MUTATION resolvers for this backend will fail; writes never fall back to main")
		}
	}
	if configured == 0 {
		result.addWarning("backends", "no datasource is configured", "every resolver call will fail until a dsn is set")
	}

	if _, err := b.Sources(); err != nil {
		result.addError("backends", err.Error(), "")
	}

	if b.Pool.MaxOpen < 0 || b.Pool.MaxIdle < 0 {
		result.addError("backends.pool", "pool sizes cannot be negative", "")
	}
	if b.Pool.MaxOpen > 0 && b.Pool.MaxIdle > b.Pool.MaxOpen {
		result.addWarning("backends.pool.max_idle", "max_idle exceeds max_open", "database/sql caps idle connections at max_open")
	}
}

func (s *StoreConfig) validate(backends *BackendsConfig, result *ValidationResult) {
	switch s.Type {
	case StoreTypeFile:
		if strings.TrimSpace(s.Path) == "" {
			result.addError("store.path", "path is required for the file store", "")
		}
	case StoreTypeSQL:
		kind, err := backend.ParseKind(s.Backend)
		if err != nil {
			result.addError("store.backend", err.Error(), "valid values are: MYSQL, DM8, POSTGRESQL")
			break
		}
		if strings.TrimSpace(backends.ForKind(kind).Main.DSN) == "" {
			result.addError("store.backend",
				fmt.Sprintf("the sql store needs the %s main datasource", kind),
				"set "+backend.ConfigKey(kind, backend.Main))
		}
		if !resolverrecord.ValidIdentifier(s.Table) {
			result.addError("store.table", fmt.Sprintf("%q is not a valid table name", s.Table), "")
		}
		if s.Watch {
			result.addWarning("store.watch", "watch only applies to the file store", "use schema.refresh_interval to poll the sql store")
		}
	default:
		result.addError("store.type", fmt.Sprintf("invalid store type %q", s.Type), "valid values are: file, sql")
	}
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	if s.RefreshInterval < 0 {
		result.addError("schema.refresh_interval", "refresh_interval cannot be negative", "")
	}
	if s.RefreshInterval > 0 && s.RefreshMaxInterval > 0 && s.RefreshMaxInterval < s.RefreshInterval {
		result.addWarning("schema.refresh_max_interval", "refresh_max_interval is below refresh_interval", "polls will not back off")
	}
}
