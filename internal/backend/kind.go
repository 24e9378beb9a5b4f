// Package backend routes resolver execution to the connection pool of a
// (database kind, variant) pair. Pools exist only for configured pairs and
// are opened on first use.
package backend

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Kind identifies a relational engine family.
type Kind string

const (
	MySQL      Kind = "MYSQL"
	DM8        Kind = "DM8"
	PostgreSQL Kind = "POSTGRESQL"
)

// DefaultKind is used when a resolver does not name a backend.
const DefaultKind = MySQL

// Kinds lists every supported kind in routing-table order.
var Kinds = []Kind{MySQL, DM8, PostgreSQL}

// ErrUnsupportedKind is returned for names outside Kinds.
var ErrUnsupportedKind = errors.New("unsupported backend kind")

// ParseKind trims and upper-cases name. An empty name yields DefaultKind.
func ParseKind(name string) (Kind, error) {
	normalized := Kind(strings.ToUpper(strings.TrimSpace(name)))
	if normalized == "" {
		return DefaultKind, nil
	}
	for _, k := range Kinds {
		if k == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, name)
}

// ConfigName is the lower-case segment used in configuration keys.
func (k Kind) ConfigName() string {
	return strings.ToLower(string(k))
}

// DefaultDriver is the database/sql driver name used when none is configured.
func (k Kind) DefaultDriver() string {
	switch k {
	case PostgreSQL:
		return "postgres"
	case DM8:
		return "godror"
	default:
		return "mysql"
	}
}

// PingQuery is a cheap statement used to check connectivity.
func (k Kind) PingQuery() string {
	if k == DM8 {
		return "SELECT 1 FROM DUAL"
	}
	return "SELECT 1"
}

// DatabaseNameQuery returns the current database (or schema for DM8).
func (k Kind) DatabaseNameQuery() string {
	switch k {
	case PostgreSQL:
		return "SELECT current_database()"
	case DM8:
		return "SELECT SYS_CONTEXT('USERENV','CURRENT_SCHEMA') FROM DUAL"
	default:
		return "SELECT DATABASE()"
	}
}

// Variant selects between the authoritative and the write-receiving instance.
type Variant string

const (
	Main    Variant = "main"
	Sandbox Variant = "sandbox"
)

// Variants lists both variants.
var Variants = []Variant{Main, Sandbox}

// ConfigKey is the configuration key that enables the (kind, variant) pool.
func ConfigKey(kind Kind, variant Variant) string {
	return fmt.Sprintf("backends.%s.%s.dsn", kind.ConfigName(), variant)
}

// PlaceholderFor returns the bind-marker style a driver expects.
func PlaceholderFor(driver string) sq.PlaceholderFormat {
	switch strings.ToLower(driver) {
	case "postgres", "pgx":
		return sq.Dollar
	case "godror", "oracle":
		return sq.Colon
	default:
		return sq.Question
	}
}
