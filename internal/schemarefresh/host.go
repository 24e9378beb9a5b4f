// Package schemarefresh hosts the active compiled schema and replaces it when
// the resolver records change.
package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graphql-go/handler"
	"golang.org/x/sync/singleflight"

	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/observability"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/synth"
)

// Reload triggers reported in logs and metrics.
const (
	TriggerBootstrap = "bootstrap"
	TriggerManual    = "manual"
	TriggerAdmin     = "admin"
	TriggerPoll      = "poll"
	TriggerWatch     = "watch"
)

// RecordSource supplies the enabled records for each synthesis pass.
type RecordSource interface {
	Enabled(ctx context.Context) ([]resolverrecord.Record, error)
}

// Watcher reports changes to the underlying records.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Snapshot pairs a compiled schema with the HTTP handler serving it. Both are
// immutable once published.
type Snapshot struct {
	Compiled      *synth.Compiled
	Handler       http.Handler
	RecordsDigest string
}

// Config controls the Host.
type Config struct {
	Store    RecordSource
	Executor synth.Executor
	Logger   *logging.Logger
	Metrics  *observability.SchemaReloadMetrics
	GraphiQL bool
	// MinInterval enables polling when positive. Quiet polls back off
	// toward MaxInterval.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Host serves requests against the current Snapshot. Reads are a single
// atomic load; reloads are serialized.
type Host struct {
	store       RecordSource
	executor    synth.Executor
	logger      *logging.Logger
	metrics     *observability.SchemaReloadMetrics
	graphiQL    bool
	minInterval time.Duration
	maxInterval time.Duration

	active    atomic.Pointer[Snapshot]
	reloadMu  sync.Mutex
	bootstrap singleflight.Group
	wg        sync.WaitGroup
}

// NewHost creates a Host. No schema is built until the first Current or
// Reload call.
func NewHost(cfg Config) (*Host, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("schema host requires a record store")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("schema host requires an executor")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	maxInterval := cfg.MaxInterval
	if maxInterval < cfg.MinInterval {
		maxInterval = cfg.MinInterval
	}
	return &Host{
		store:       cfg.Store,
		executor:    cfg.Executor,
		logger:      cfg.Logger.WithComponent("schema_host"),
		metrics:     cfg.Metrics,
		graphiQL:    cfg.GraphiQL,
		minInterval: cfg.MinInterval,
		maxInterval: maxInterval,
	}, nil
}

// Snapshot returns the published snapshot, or nil before the first
// successful build.
func (h *Host) Snapshot() *Snapshot {
	return h.active.Load()
}

// Current returns the last successfully installed schema. The first call
// builds it synchronously; concurrent first calls share one build.
func (h *Host) Current(ctx context.Context) (*synth.Compiled, error) {
	snap, err := h.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Compiled, nil
}

func (h *Host) current(ctx context.Context) (*Snapshot, error) {
	if snap := h.active.Load(); snap != nil {
		return snap, nil
	}
	_, err, _ := h.bootstrap.Do(TriggerBootstrap, func() (any, error) {
		if h.active.Load() != nil {
			return nil, nil
		}
		// The build is shared, so it must not die with the first caller.
		_, err := h.Reload(context.WithoutCancel(ctx), TriggerBootstrap)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	snap := h.active.Load()
	if snap == nil {
		return nil, fmt.Errorf("schema not ready")
	}
	return snap, nil
}

// Reload reads the enabled records, synthesizes a schema and publishes it.
// On any failure the previous schema stays active and the error is returned.
func (h *Host) Reload(ctx context.Context, trigger string) (*synth.Compiled, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	start := time.Now()
	records, err := h.store.Enabled(ctx)
	if err != nil {
		h.recordReload(ctx, observability.ReloadOutcome{Trigger: trigger, Duration: time.Since(start), FailedStage: observability.ReloadStageLoad})
		h.logger.Error("failed to load resolver records",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("load resolver records: %w", err)
	}

	snap, err := h.build(records)
	if err != nil {
		h.recordReload(ctx, observability.ReloadOutcome{Trigger: trigger, Duration: time.Since(start), FailedStage: observability.ReloadStageSynthesize})
		h.logger.Error("schema reload failed, keeping previous schema",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	previous := h.active.Swap(snap)
	changed := previous == nil || previous.Compiled.Fingerprint != snap.Compiled.Fingerprint
	h.recordReload(ctx, observability.ReloadOutcome{
		Trigger:   trigger,
		Duration:  time.Since(start),
		Resolvers: snap.Compiled.Records,
		Changed:   changed,
	})

	attrs := []any{
		slog.String("trigger", trigger),
		slog.Int("resolvers", snap.Compiled.Records),
		slog.String("fingerprint", snap.Compiled.Fingerprint),
		slog.Duration("duration", time.Since(start)),
	}
	if !changed {
		h.logger.Debug("schema reloaded without changes", attrs...)
	} else {
		h.logger.Info("schema reloaded", attrs...)
	}
	return snap.Compiled, nil
}

func (h *Host) build(records []resolverrecord.Record) (*Snapshot, error) {
	compiled, err := synth.Synthesize(records, synth.Options{
		Executor: h.executor,
		Logger:   h.logger,
	})
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Compiled: compiled,
		Handler: handler.New(&handler.Config{
			Schema:     compiled.Schema,
			Pretty:     true,
			GraphiQL:   h.graphiQL,
			Playground: false,
		}),
		RecordsDigest: recordsDigest(records),
	}, nil
}

func (h *Host) recordReload(ctx context.Context, outcome observability.ReloadOutcome) {
	h.metrics.RecordReload(context.WithoutCancel(ctx), outcome)
}

// Handler serves GraphQL against whichever schema is current when each
// request arrives.
func (h *Host) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := h.current(r.Context())
		if err != nil {
			writeUnavailable(w, err)
			return
		}
		snap.Handler.ServeHTTP(w, r)
	})
}

// SDLHandler serves the current schema text.
func (h *Host) SDLHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := h.current(r.Context())
		if err != nil {
			writeUnavailable(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("ETag", `"`+snap.Compiled.Fingerprint+`"`)
		_, _ = w.Write([]byte(snap.Compiled.SDL))
	})
}

func writeUnavailable(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": "schema not ready: " + err.Error(),
	})
}

// Start begins polling the store when MinInterval is positive.
func (h *Host) Start(ctx context.Context) {
	if h.minInterval <= 0 {
		h.logger.Info("schema polling disabled")
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pollLoop(ctx)
	}()
}

// WatchStore reloads after every change reported by w until ctx is done.
func (h *Host) WatchStore(ctx context.Context, w Watcher) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := w.Watch(ctx, func() {
			_, _ = h.Reload(ctx, TriggerWatch)
		})
		if err != nil {
			h.logger.Error("resolver store watch stopped", slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until background loops exit or ctx is canceled.
func (h *Host) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) pollLoop(ctx context.Context) {
	interval := h.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("schema polling stopped")
			return
		case <-timer.C:
			h.pollOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

// pollOnce reloads only when the enabled record set changed since the last
// published snapshot.
func (h *Host) pollOnce(ctx context.Context, interval *time.Duration) {
	records, err := h.store.Enabled(ctx)
	if err != nil {
		h.logger.Warn("schema poll failed", slog.String("error", err.Error()))
		*interval = h.minInterval
		return
	}
	if snap := h.active.Load(); snap != nil && snap.RecordsDigest == recordsDigest(records) {
		*interval = nextInterval(*interval, h.minInterval, h.maxInterval)
		return
	}
	*interval = h.minInterval
	_, _ = h.Reload(ctx, TriggerPoll)
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

// recordsDigest hashes the record set independent of store order and edit
// timestamps.
func recordsDigest(records []resolverrecord.Record) string {
	sorted := append([]resolverrecord.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Kind < sorted[j].Kind
	})
	hash := sha256.New()
	for _, r := range sorted {
		r.UpdatedAt = time.Time{}
		b, _ := json.Marshal(r)
		_, _ = hash.Write(b)
		_, _ = hash.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hash.Sum(nil))
}
