package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sq "github.com/Masterminds/squirrel"

	"dynamic-graphql/internal/logging"
)

// ErrNotConfigured matches every *NotConfiguredError.
var ErrNotConfigured = errors.New("datasource not configured")

// NotConfiguredError names the configuration key that would enable the
// requested pool.
type NotConfiguredError struct {
	Kind    Kind
	Variant Variant
	Key     string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s %s datasource not configured (%s)", e.Kind, e.Variant, e.Key)
}

func (e *NotConfiguredError) Is(target error) bool {
	return target == ErrNotConfigured
}

// Source is the configuration of one (kind, variant) pool.
type Source struct {
	Kind    Kind
	Variant Variant
	Driver  string
	DSN     string
}

// Opener creates the pool for a source. Registry calls it at most once per
// successful open.
type Opener func(ctx context.Context, src Source) (*sql.DB, error)

// Handle is a resolved pool plus what callers need to talk to it.
type Handle struct {
	DB          *sql.DB
	Kind        Kind
	Variant     Variant
	Driver      string
	Placeholder sq.PlaceholderFormat
}

type routeKey struct {
	kind    Kind
	variant Variant
}

type entry struct {
	src    Source
	mu     sync.Mutex
	handle *Handle
}

// Registry is the routing table from (kind, variant) to pool handle.
type Registry struct {
	entries map[routeKey]*entry
	open    Opener
	logger  *logging.Logger
}

// NewRegistry builds a registry from the configured sources. Sources with an
// empty DSN are treated as absent.
func NewRegistry(sources []Source, open Opener, logger *logging.Logger) (*Registry, error) {
	if open == nil {
		return nil, fmt.Errorf("backend opener is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	entries := make(map[routeKey]*entry, len(sources))
	for _, src := range sources {
		if src.DSN == "" {
			continue
		}
		if _, err := ParseKind(string(src.Kind)); err != nil {
			return nil, err
		}
		if src.Variant != Main && src.Variant != Sandbox {
			return nil, fmt.Errorf("unknown backend variant %q for %s", src.Variant, src.Kind)
		}
		if src.Driver == "" {
			src.Driver = src.Kind.DefaultDriver()
		}
		key := routeKey{kind: src.Kind, variant: src.Variant}
		if _, exists := entries[key]; exists {
			return nil, fmt.Errorf("duplicate backend source %s %s", src.Kind, src.Variant)
		}
		entries[key] = &entry{src: src}
	}

	return &Registry{
		entries: entries,
		open:    open,
		logger:  logger.WithComponent("backend_registry"),
	}, nil
}

// Resolve returns the pool for (kind, variant), opening it on first use.
// There is no fallback to another kind or variant.
func (r *Registry) Resolve(ctx context.Context, kind Kind, variant Variant) (*Handle, error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: empty kind", ErrUnsupportedKind)
	}
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	e, ok := r.entries[routeKey{kind: kind, variant: variant}]
	if !ok {
		return nil, &NotConfiguredError{Kind: kind, Variant: variant, Key: ConfigKey(kind, variant)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		return e.handle, nil
	}

	db, err := r.open(ctx, e.src)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s %s datasource: %w", kind, variant, err)
	}
	e.handle = &Handle{
		DB:          db,
		Kind:        kind,
		Variant:     variant,
		Driver:      e.src.Driver,
		Placeholder: PlaceholderFor(e.src.Driver),
	}
	r.logger.Info("datasource opened",
		slog.String("kind", string(kind)),
		slog.String("variant", string(variant)),
		slog.String("driver", e.src.Driver),
	)
	return e.handle, nil
}

// Configured reports whether (kind, variant) has a source.
func (r *Registry) Configured(kind Kind, variant Variant) bool {
	_, ok := r.entries[routeKey{kind: kind, variant: variant}]
	return ok
}

// Close closes every pool opened so far.
func (r *Registry) Close() error {
	var errs []error
	for _, e := range r.entries {
		e.mu.Lock()
		if e.handle != nil {
			if err := e.handle.DB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s %s: %w", e.src.Kind, e.src.Variant, err))
			}
			e.handle = nil
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}
