// Package config loads and validates server configuration from flags,
// DYNGQL_* environment variables, a YAML file and defaults.
package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Backends      BackendsConfig      `mapstructure:"backends"`
	Store         StoreConfig         `mapstructure:"store"`
	Schema        SchemaConfig        `mapstructure:"schema"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	GraphiQLEnabled    bool          `mapstructure:"graphiql_enabled"`
	Admin              AdminConfig   `mapstructure:"admin"`
	RateLimitEnabled   bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	// MaxBodyBytes caps request bodies on the API and admin routes.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// AdminConfig controls the token-protected /admin routes.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AuthToken is accepted in the X-Admin-Token header (or HeaderName) and
	// as an Authorization bearer token.
	AuthToken string `mapstructure:"auth_token"`
	// AuthTokenFile supports "@-": piped stdin is read as is, a terminal
	// gets a hidden prompt.
	AuthTokenFile string `mapstructure:"auth_token_file"`
	HeaderName    string `mapstructure:"header_name"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // OTLP log export
}

// ObservabilityConfig holds metrics and tracing parameters.
type ObservabilityConfig struct {
	ServiceName      string  `mapstructure:"service_name"`
	ServiceVersion   string  `mapstructure:"service_version"`
	Environment      string  `mapstructure:"environment"`
	MetricsEnabled   bool    `mapstructure:"metrics_enabled"`
	TracingEnabled   bool    `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`

	// OTLP holds defaults for traces and logs.
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides.
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
}

// GetTracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays a signal override over the global defaults. Insecure
// and RetryEnabled always come from the override because an unset bool is
// indistinguishable from false.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	result.RetryEnabled = override.RetryEnabled

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	return result
}

// BackendsConfig is the routing table: one entry per database kind, each
// with an optional main and sandbox datasource.
type BackendsConfig struct {
	MySQL      BackendConfig `mapstructure:"mysql"`
	DM8        BackendConfig `mapstructure:"dm8"`
	PostgreSQL BackendConfig `mapstructure:"postgresql"`
	Pool       PoolConfig    `mapstructure:"pool"`
	// PingTimeout bounds the connectivity check when a pool is first opened.
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// BackendConfig configures one database kind.
type BackendConfig struct {
	// Driver overrides the database/sql driver name for the kind.
	Driver  string           `mapstructure:"driver"`
	Main    DataSourceConfig `mapstructure:"main"`
	Sandbox DataSourceConfig `mapstructure:"sandbox"`
}

// DataSourceConfig locates one pool. DSNFile is read when DSN is empty.
type DataSourceConfig struct {
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn_file"`
}

// PoolConfig holds connection pool parameters shared by every datasource.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// Store types.
const (
	StoreTypeFile = "file"
	StoreTypeSQL  = "sql"
)

// StoreConfig selects where resolver records live.
type StoreConfig struct {
	Type string `mapstructure:"type"`
	// Path is the YAML document for the file store.
	Path string `mapstructure:"path"`
	// Backend is the kind whose main datasource holds the table for the sql
	// store.
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
	// Watch reloads the schema when the file store document changes.
	Watch bool `mapstructure:"watch"`
}

// SchemaConfig controls background schema refresh.
type SchemaConfig struct {
	// RefreshInterval enables polling when positive.
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	RefreshMaxInterval time.Duration `mapstructure:"refresh_max_interval"`
}
