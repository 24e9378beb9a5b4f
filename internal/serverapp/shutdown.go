package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dynamic-graphql/internal/logging"
)

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack struct {
	items []cleanupItem
}

type cleanupItem struct {
	resource string
	release  func(context.Context) error
}

func (s *cleanupStack) push(resource string, release func(context.Context) error) {
	s.items = append(s.items, cleanupItem{resource: resource, release: release})
}

// run releases every item even when earlier ones fail, and returns the
// failures joined.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}

	var errs []error
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		start := time.Now()
		err := item.release(ctx)
		if err != nil {
			logger.Warn("cleanup error",
				slog.String("resource", item.resource),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", item.resource, err))
			continue
		}
		logger.Info("released "+item.resource, slog.Duration("duration", time.Since(start)))
	}
	s.items = nil
	return errors.Join(errs...)
}

// Shutdown stops the HTTP server, drains the schema host and closes the
// backend pools and telemetry providers. Later calls return the first
// call's result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.cleanup = cleanupStack{}
		a.started = false
		a.initialized = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})

	return a.shutdownErr
}
