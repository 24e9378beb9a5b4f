package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"dynamic-graphql/internal/backend"
)

// EnvPrefix prefixes every environment override, e.g.
// DYNGQL_BACKENDS_MYSQL_MAIN_DSN.
const EnvPrefix = "DYNGQL"

const stdinSource = "@-"

// Load parses the process command line into pflag.CommandLine and loads the
// configuration. Precedence, highest first:
//  1. Command line flags
//  2. Environment variables
//  3. Config file
//  4. Default values
func Load() (*Config, error) {
	DefineFlags(pflag.CommandLine)
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return LoadFlagSet(pflag.CommandLine)
}

// LoadFlagSet loads the configuration using an already parsed flag set.
func LoadFlagSet(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("dynamic-graphql")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dynamic-graphql/")
		v.AddConfigPath("$HOME/.dynamic-graphql")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Empty map defaults leave no key for AutomaticEnv to find.
	_ = v.BindEnv("observability.otlp.headers")

	bindChangedFlags(v, fs)

	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if err := resolveSecretFiles(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringMapHookFunc(",", "="),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// secretFileKeys maps each *_file key to the key it fills when that key is
// empty.
func secretFileKeys() map[string]string {
	keys := map[string]string{
		"server.admin.auth_token_file": "server.admin.auth_token",
	}
	for _, kind := range backend.Kinds {
		for _, variant := range backend.Variants {
			dsnKey := backend.ConfigKey(kind, variant)
			keys[dsnKey+"_file"] = dsnKey
		}
	}
	return keys
}

func resolveSecretFiles(v *viper.Viper) error {
	for fileKey, valueKey := range secretFileKeys() {
		path := strings.TrimSpace(v.GetString(fileKey))
		if path == "" || strings.TrimSpace(v.GetString(valueKey)) != "" {
			continue
		}
		value, err := readSecret(path, valueKey)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fileKey, err)
		}
		if value == "" {
			return fmt.Errorf("%s %q is empty", fileKey, path)
		}
		v.Set(valueKey, value)
	}
	return nil
}

// bindChangedFlags copies only explicitly-set flags into Viper, preserving
// precedence: flags > env > file > defaults.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "int64":
			val, _ := fs.GetInt64(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags registers every configuration flag on fs using the canonical
// dotted snake_case keys. It is safe to call more than once.
func DefineFlags(fs *pflag.FlagSet) {
	if fs.Lookup("config") != nil {
		return
	}

	// Server
	fs.Int("server.port", 0, "HTTP server port")
	fs.Bool("server.graphiql_enabled", false, "Serve GraphiQL on GET /graphql (dev only)")
	fs.Bool("server.admin.enabled", false, "Enable the /admin routes")
	fs.String("server.admin.auth_token", "", "Shared secret for the /admin routes")
	fs.String("server.admin.auth_token_file", "", "Path to file containing the admin token (use @- for stdin or a prompt)")
	fs.String("server.admin.header_name", "", "Header carrying the admin token (default X-Admin-Token)")
	fs.Bool("server.rate_limit_enabled", false, "Enable global rate limiting for all HTTP endpoints")
	fs.Float64("server.rate_limit_rps", 0, "Global rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Global rate limit burst size")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")
	fs.Int64("server.max_body_bytes", 0, "Maximum request body size for API and admin routes")

	// Logging
	fs.String("logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("logging.format", "", "Log format (json, text)")
	fs.Bool("logging.exports_enabled", false, "Enable OTLP log export")

	// Backends
	for _, kind := range backend.Kinds {
		name := kind.ConfigName()
		fs.String("backends."+name+".driver", "", fmt.Sprintf("database/sql driver for %s (default %s)", kind, kind.DefaultDriver()))
		for _, variant := range backend.Variants {
			key := backend.ConfigKey(kind, variant)
			fs.String(key, "", fmt.Sprintf("DSN of the %s %s datasource", kind, variant))
			fs.String(key+"_file", "", fmt.Sprintf("Path to file containing the %s %s DSN (use @- for stdin)", kind, variant))
		}
	}
	fs.Int("backends.pool.max_open", 0, "Maximum open connections per datasource")
	fs.Int("backends.pool.max_idle", 0, "Maximum idle connections per datasource")
	fs.Duration("backends.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("backends.ping_timeout", 0, "Connectivity check timeout when a pool opens (0 skips it)")

	// Store
	fs.String("store.type", "", "Resolver record store (file, sql)")
	fs.String("store.path", "", "YAML document for the file store")
	fs.String("store.backend", "", "Backend kind whose main datasource holds the sql store table")
	fs.String("store.table", "", "Table name for the sql store")
	fs.Bool("store.watch", false, "Reload the schema when the file store changes")

	// Schema
	fs.Duration("schema.refresh_interval", 0, "Poll the store at this interval (0 disables polling)")
	fs.Duration("schema.refresh_max_interval", 0, "Back off quiet polls up to this interval")

	// Observability
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for traces and logs (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")

	fs.StringP("config", "c", "", "Config file path")
	fs.Bool("version", false, "Print version information and exit")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.graphiql_enabled", false)
	v.SetDefault("server.admin.enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.admin.header_name", "X-Admin-Token")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.exports_enabled", false)

	for _, kind := range backend.Kinds {
		v.SetDefault("backends."+kind.ConfigName()+".driver", "")
		for _, variant := range backend.Variants {
			key := backend.ConfigKey(kind, variant)
			v.SetDefault(key, "")
			v.SetDefault(key+"_file", "")
		}
	}
	v.SetDefault("backends.pool.max_open", 25)
	v.SetDefault("backends.pool.max_idle", 5)
	v.SetDefault("backends.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("backends.ping_timeout", 5*time.Second)

	v.SetDefault("store.type", StoreTypeFile)
	v.SetDefault("store.path", "resolvers.yaml")
	v.SetDefault("store.backend", string(backend.DefaultKind))
	v.SetDefault("store.table", "resolver_config")
	v.SetDefault("store.watch", true)

	v.SetDefault("schema.refresh_interval", time.Duration(0))
	v.SetDefault("schema.refresh_max_interval", 5*time.Minute)

	v.SetDefault("observability.service_name", "dynamic-graphql")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.headers", map[string]string{})
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
}

// stdinIsTerminal and promptSecret are swapped out in tests.
var (
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	promptSecret    = func(label string) (string, error) {
		fmt.Fprintf(os.Stderr, "Enter %s: ", label)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	stdinReader io.Reader = os.Stdin
)

// readSecret reads path, or stdin for "@-". On a terminal the value is
// prompted for without echo.
func readSecret(path, label string) (string, error) {
	if path != stdinSource {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	if stdinIsTerminal() {
		secret, err := promptSecret(label)
		return strings.TrimSpace(secret), err
	}
	data, err := io.ReadAll(stdinReader)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for fileKey := range secretFileKeys() {
		if strings.TrimSpace(v.GetString(fileKey)) == stdinSource {
			configured = append(configured, fileKey)
		}
	}
	if len(configured) > 1 {
		sort.Strings(configured)
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

// stringToStringMapHookFunc decodes "k1=v1,k2=v2" (the env var form of
// observability.otlp.headers) into a map.
func stringToStringMapHookFunc(sep, kvSep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		out := map[string]string{}
		if raw == "" {
			return out, nil
		}
		for _, pair := range strings.Split(raw, sep) {
			key, value, ok := strings.Cut(pair, kvSep)
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid header %q (expected key%svalue)", pair, kvSep)
			}
			out[key] = strings.TrimSpace(value)
		}
		return out, nil
	}
}
