package config

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"dynamic-graphql/internal/backend"
)

// ForKind returns the entry for kind.
func (b *BackendsConfig) ForKind(kind backend.Kind) BackendConfig {
	switch kind {
	case backend.DM8:
		return b.DM8
	case backend.PostgreSQL:
		return b.PostgreSQL
	default:
		return b.MySQL
	}
}

// DataSource returns the configured datasource for one variant.
func (b BackendConfig) DataSource(variant backend.Variant) DataSourceConfig {
	if variant == backend.Sandbox {
		return b.Sandbox
	}
	return b.Main
}

// DriverFor returns the configured driver for kind or its default.
func (b *BackendsConfig) DriverFor(kind backend.Kind) string {
	if driver := strings.TrimSpace(b.ForKind(kind).Driver); driver != "" {
		return driver
	}
	return kind.DefaultDriver()
}

// Sources lists every configured (kind, variant) pool in routing-table
// order. Entries without a DSN are omitted, so they resolve to a
// not-configured error at dispatch time.
func (b *BackendsConfig) Sources() ([]backend.Source, error) {
	var sources []backend.Source
	for _, kind := range backend.Kinds {
		driver := b.DriverFor(kind)
		for _, variant := range backend.Variants {
			dsn := strings.TrimSpace(b.ForKind(kind).DataSource(variant).DSN)
			if dsn == "" {
				continue
			}
			if driver == "mysql" {
				normalized, err := normalizeMySQLDSN(dsn)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", backend.ConfigKey(kind, variant), err)
				}
				dsn = normalized
			}
			sources = append(sources, backend.Source{
				Kind:    kind,
				Variant: variant,
				Driver:  driver,
				DSN:     dsn,
			})
		}
	}
	return sources, nil
}

// normalizeMySQLDSN turns on parseTime so DATETIME columns scan into
// time.Time. The location stays the driver default (UTC) unless set.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
