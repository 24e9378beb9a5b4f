package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return LoadFlagSet(fs)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadArgs(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "X-Admin-Token", cfg.Server.Admin.HeaderName)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, StoreTypeFile, cfg.Store.Type)
	assert.Equal(t, "resolver_config", cfg.Store.Table)
	assert.Equal(t, "MYSQL", cfg.Store.Backend)
	assert.Equal(t, 25, cfg.Backends.Pool.MaxOpen)
	assert.Equal(t, 5*time.Minute, cfg.Backends.Pool.MaxLifetime)
	assert.Equal(t, time.Duration(0), cfg.Schema.RefreshInterval)
	assert.Nil(t, cfg.Observability.Traces)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "dynamic-graphql.yaml", `
server:
  port: 7000
  rate_limit_rps: 3
backends:
  mysql:
    main:
      dsn: "file:pw@tcp(main:3306)/app"
  postgresql:
    driver: pgx
store:
  type: sql
`)
	t.Setenv("DYNGQL_SERVER_PORT", "7100")
	t.Setenv("DYNGQL_BACKENDS_POSTGRESQL_SANDBOX_DSN", "postgres://sandbox/app")
	t.Setenv("DYNGQL_OBSERVABILITY_OTLP_HEADERS", "x-team=core, x-env = dev")

	cfg, err := loadArgs(t, "--config", path, "--server.port=7200", "--schema.refresh_interval=45s")
	require.NoError(t, err)

	assert.Equal(t, 7200, cfg.Server.Port, "flag beats env and file")
	assert.Equal(t, 3.0, cfg.Server.RateLimitRPS, "file beats default")
	assert.Equal(t, "file:pw@tcp(main:3306)/app", cfg.Backends.MySQL.Main.DSN)
	assert.Equal(t, "pgx", cfg.Backends.PostgreSQL.Driver)
	assert.Equal(t, "postgres://sandbox/app", cfg.Backends.PostgreSQL.Sandbox.DSN, "env fills unset key")
	assert.Equal(t, StoreTypeSQL, cfg.Store.Type)
	assert.Equal(t, 45*time.Second, cfg.Schema.RefreshInterval)
	assert.Equal(t, map[string]string{"x-team": "core", "x-env": "dev"}, cfg.Observability.OTLP.Headers)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "server:\n  port: 7000\n")
	t.Setenv("DYNGQL_SERVER_PORT", "7100")

	cfg, err := loadArgs(t, "-c", path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "server:\n  prot: 7000\n")

	_, err := loadArgs(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := loadArgs(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_SecretFiles(t *testing.T) {
	tokenPath := writeFile(t, "token", "  admin-secret-token-value\n")
	dsnPath := writeFile(t, "dsn", "postgres://main/app\n")

	cfg, err := loadArgs(t,
		"--server.admin.auth_token_file", tokenPath,
		"--backends.postgresql.main.dsn_file", dsnPath,
	)
	require.NoError(t, err)
	assert.Equal(t, "admin-secret-token-value", cfg.Server.Admin.AuthToken)
	assert.Equal(t, "postgres://main/app", cfg.Backends.PostgreSQL.Main.DSN)
}

func TestLoad_SecretFileDoesNotOverrideValue(t *testing.T) {
	dsnPath := writeFile(t, "dsn", "from-file")

	cfg, err := loadArgs(t,
		"--backends.dm8.main.dsn", "from-flag",
		"--backends.dm8.main.dsn_file", dsnPath,
	)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Backends.DM8.Main.DSN)
}

func TestLoad_EmptySecretFile(t *testing.T) {
	path := writeFile(t, "token", "   \n")

	_, err := loadArgs(t, "--server.admin.auth_token_file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
}

func TestReadSecret_Stdin(t *testing.T) {
	origTerminal, origPrompt, origReader := stdinIsTerminal, promptSecret, stdinReader
	t.Cleanup(func() {
		stdinIsTerminal, promptSecret, stdinReader = origTerminal, origPrompt, origReader
	})

	t.Run("piped", func(t *testing.T) {
		stdinIsTerminal = func() bool { return false }
		stdinReader = strings.NewReader("piped-token\n")

		got, err := readSecret("@-", "server.admin.auth_token")
		require.NoError(t, err)
		assert.Equal(t, "piped-token", got)
	})

	t.Run("terminal prompt", func(t *testing.T) {
		var label string
		stdinIsTerminal = func() bool { return true }
		promptSecret = func(l string) (string, error) {
			label = l
			return " typed-token ", nil
		}

		got, err := readSecret("@-", "server.admin.auth_token")
		require.NoError(t, err)
		assert.Equal(t, "typed-token", got)
		assert.Equal(t, "server.admin.auth_token", label)
	})
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	t.Run("one is allowed", func(t *testing.T) {
		v := viper.New()
		v.Set("backends.mysql.main.dsn_file", "@-")
		v.Set("server.admin.auth_token_file", "/tmp/admin-token")
		assert.NoError(t, validateSingleStdinFileSource(v))
	})

	t.Run("two are rejected", func(t *testing.T) {
		v := viper.New()
		v.Set("backends.mysql.main.dsn_file", "@-")
		v.Set("server.admin.auth_token_file", " @- ")

		err := validateSingleStdinFileSource(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backends.mysql.main.dsn_file, server.admin.auth_token_file")
	})
}

func TestDefineFlags_Idempotent(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	assert.NotPanics(t, func() { DefineFlags(fs) })
	assert.NotNil(t, fs.Lookup("backends.postgresql.sandbox.dsn"))
	assert.NotNil(t, fs.Lookup("version"))
}
