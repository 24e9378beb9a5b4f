package serverapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dynamic-graphql/internal/backend"
	"dynamic-graphql/internal/logging"
	"dynamic-graphql/internal/resolverrecord"
	"dynamic-graphql/internal/schemarefresh"
	"dynamic-graphql/internal/synth"
)

const adminReloadTimeout = 15 * time.Second

// schemaHost is the part of *schemarefresh.Host the handlers use.
type schemaHost interface {
	Current(ctx context.Context) (*synth.Compiled, error)
	Reload(ctx context.Context, trigger string) (*synth.Compiled, error)
	Snapshot() *schemarefresh.Snapshot
}

// backendCatalog reports connectivity and catalog metadata of a backend kind.
type backendCatalog interface {
	Status(ctx context.Context, kind backend.Kind) ([]backend.VariantStatus, error)
	Tables(ctx context.Context, kind backend.Kind, variant backend.Variant) ([]string, error)
	DescribeTable(ctx context.Context, kind backend.Kind, variant backend.Variant, table string) ([]backend.TableColumn, error)
}

type apiHandlers struct {
	host     schemaHost
	store    resolverrecord.Store
	registry backendCatalog
	maxBody  int64
}

type schemaInfo struct {
	Fingerprint string    `json:"fingerprint"`
	Resolvers   int       `json:"resolvers"`
	Fields      []string  `json:"fields"`
	BuiltAt     time.Time `json:"builtAt"`
}

func describeSchema(c *synth.Compiled) schemaInfo {
	return schemaInfo{
		Fingerprint: c.Fingerprint,
		Resolvers:   c.Records,
		Fields:      c.Fields(),
		BuiltAt:     c.BuiltAt,
	}
}

// dispatchResolver runs one resolver with the JSON object in the body as its
// arguments.
func (h *apiHandlers) dispatchResolver(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reqLogger := logging.FromContext(r.Context()).WithResolver(name)

	var args map[string]any
	if err := decodeJSONBody(w, r, h.maxBody, &args); err != nil {
		writeError(w, err)
		return
	}

	compiled, err := h.host.Current(r.Context())
	if err != nil {
		reqLogger.Error("schema unavailable", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusServiceUnavailable, "schema not ready: "+err.Error())
		return
	}

	result, err := compiled.Dispatch(r.Context(), name, args)
	if err != nil {
		status := writeError(w, err)
		if status >= http.StatusInternalServerError {
			reqLogger.Error("resolver failed", slog.String("error", err.Error()))
		} else {
			reqLogger.Debug("resolver rejected", slog.String("error", err.Error()))
		}
		return
	}
	writeAPIData(w, "ok", result)
}

func (h *apiHandlers) reloadSchema(w http.ResponseWriter, r *http.Request) {
	reqLogger := logging.FromContext(r.Context())
	reqLogger.Info("admin endpoint accessed",
		slog.String("operation", "schema_reload"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	ctx, cancel := context.WithTimeout(r.Context(), adminReloadTimeout)
	defer cancel()

	compiled, err := h.host.Reload(ctx, schemarefresh.TriggerAdmin)
	if err != nil {
		status, _ := statusForError(err)
		resp := apiResponse{Success: false, Message: "schema reload failed: " + err.Error()}
		if snap := h.host.Snapshot(); snap != nil {
			resp.Data = map[string]any{"active": describeSchema(snap.Compiled)}
		}
		writeAPIResponse(w, status, resp)
		return
	}
	writeAPIData(w, "schema reloaded", describeSchema(compiled))
}

func (h *apiHandlers) listResolvers(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list resolvers", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if records == nil {
		records = []resolverrecord.Record{}
	}
	writeAPIData(w, "ok", records)
}

func (h *apiHandlers) getResolver(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIData(w, "ok", record)
}

// putResolver creates or replaces a record. The record must pass shape and
// SQL validation, and the resulting record set must synthesize; otherwise
// the previous record is restored.
func (h *apiHandlers) putResolver(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reqLogger := logging.FromContext(r.Context()).WithResolver(name)

	var record resolverrecord.Record
	if err := decodeJSONBody(w, r, h.maxBody, &record); err != nil {
		writeError(w, err)
		return
	}
	if record.Name == "" {
		record.Name = name
	}
	if record.Name != name {
		writeAPIError(w, http.StatusBadRequest, "record name does not match the URL")
		return
	}
	record = record.Normalized()
	if err := record.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := record.ValidateSQL(); err != nil {
		writeError(w, err)
		return
	}

	previous, err := h.store.Get(r.Context(), name)
	existed := err == nil
	if err != nil && !errors.Is(err, resolverrecord.ErrNotFound) {
		reqLogger.Error("failed to read resolver", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	if err := h.store.Put(r.Context(), record); err != nil {
		reqLogger.Error("failed to save resolver", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	compiled, err := h.reloadAfterChange(r.Context())
	if errors.Is(err, synth.ErrSynthesis) {
		h.restore(r.Context(), reqLogger, name, previous, existed)
		writeError(w, err)
		return
	}
	if err != nil {
		reqLogger.Error("resolver saved but schema reload failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "resolver saved but schema reload failed")
		return
	}

	stored, err := h.store.Get(r.Context(), name)
	if err != nil {
		stored = record
	}
	reqLogger.Info("resolver saved", slog.String("fingerprint", compiled.Fingerprint), slog.Bool("created", !existed))
	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	writeAPIResponse(w, status, apiResponse{Success: true, Message: "resolver saved", Data: stored})
}

func (h *apiHandlers) deleteResolver(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reqLogger := logging.FromContext(r.Context()).WithResolver(name)

	if err := h.store.Delete(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.reloadAfterChange(r.Context()); err != nil {
		reqLogger.Error("resolver deleted but schema reload failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "resolver deleted but schema reload failed")
		return
	}
	reqLogger.Info("resolver deleted")
	writeAPIData(w, "resolver deleted", nil)
}

func (h *apiHandlers) reloadAfterChange(ctx context.Context) (*synth.Compiled, error) {
	ctx, cancel := context.WithTimeout(ctx, adminReloadTimeout)
	defer cancel()
	return h.host.Reload(ctx, schemarefresh.TriggerAdmin)
}

// restore undoes a Put whose record set failed to synthesize. The active
// schema never changed, so no reload follows.
func (h *apiHandlers) restore(ctx context.Context, logger *logging.Logger, name string, previous resolverrecord.Record, existed bool) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if existed {
		err = h.store.Put(ctx, previous)
	} else {
		err = h.store.Delete(ctx, name)
	}
	if err != nil {
		logger.Error("failed to restore resolver after rejected change", slog.String("error", err.Error()))
	}
}

func (h *apiHandlers) backendStatus(w http.ResponseWriter, r *http.Request) {
	kind, err := backend.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	statuses, err := h.registry.Status(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIData(w, "ok", map[string]any{"kind": kind, "variants": statuses})
}

// backendTarget reads the {kind} path value and the optional ?variant= query.
func backendTarget(r *http.Request) (backend.Kind, backend.Variant, error) {
	kind, err := backend.ParseKind(r.PathValue("kind"))
	if err != nil {
		return "", "", err
	}
	variant, err := backend.ParseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		return "", "", err
	}
	return kind, variant, nil
}

func (h *apiHandlers) listTables(w http.ResponseWriter, r *http.Request) {
	kind, variant, err := backendTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tables, err := h.registry.Tables(r.Context(), kind, variant)
	if err != nil {
		logging.FromContext(r.Context()).WithBackend(string(kind), string(variant)).
			Warn("failed to list tables", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeAPIData(w, "ok", map[string]any{"kind": kind, "variant": variant, "tables": tables})
}

func (h *apiHandlers) describeTable(w http.ResponseWriter, r *http.Request) {
	kind, variant, err := backendTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}
	table := r.PathValue("table")
	columns, err := h.registry.DescribeTable(r.Context(), kind, variant, table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIData(w, "ok", map[string]any{"kind": kind, "variant": variant, "table": table, "columns": columns})
}

type validateSchemaRequest struct {
	Schema string `json:"schema"`
}

// validateSchema checks a hand-written SDL fragment against the schema being
// served. An invalid fragment is a successful check with valid=false.
func (h *apiHandlers) validateSchema(w http.ResponseWriter, r *http.Request) {
	var req validateSchemaRequest
	if err := decodeJSONBody(w, r, h.maxBody, &req); err != nil {
		writeError(w, err)
		return
	}

	var base *synth.Compiled
	if snap := h.host.Snapshot(); snap != nil {
		base = snap.Compiled
	}
	problem := synth.ValidateFragment(base, req.Schema)
	if problem != nil {
		writeAPIData(w, "schema fragment is invalid", map[string]any{"valid": false, "problem": problem})
		return
	}
	writeAPIData(w, "schema fragment is valid", map[string]any{"valid": true})
}

// healthHandler reports liveness and whether a schema is being served. The
// first call may bootstrap the schema, bounded by timeout.
func healthHandler(host schemaHost, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		var compiled *synth.Compiled
		if snap := host.Snapshot(); snap != nil {
			compiled = snap.Compiled
		} else {
			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			var err error
			compiled, err = host.Current(ctx)
			if err != nil {
				reqLogger.Error("health check failed",
					slog.String("check", "schema"),
					slog.String("error", err.Error()),
				)
				writeAPIResponse(w, http.StatusServiceUnavailable, apiResponse{
					Success: false,
					Message: "unhealthy",
					Data:    map[string]any{"schema": "not ready"},
				})
				return
			}
		}

		reqLogger.Debug("health check passed")
		writeAPIData(w, "healthy", map[string]any{
			"schema":      "ready",
			"fingerprint": compiled.Fingerprint,
			"resolvers":   compiled.Records,
		})
	}
}
