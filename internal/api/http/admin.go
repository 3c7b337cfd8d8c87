package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arkilian/docrel/internal/observability"
)

// StatsSource provides translation statistics.
type StatsSource interface {
	Snapshot() observability.Snapshot
}

// AdminHandler serves statistics, health, collection removal and
// snapshots.
type AdminHandler struct {
	engine  Engine
	stats   StatsSource
	version string
	started time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(engine Engine, stats StatsSource, version string) *AdminHandler {
	return &AdminHandler{engine: engine, stats: stats, version: version, started: time.Now()}
}

// Stats handles GET /v1/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// Health handles GET /health.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "docrel",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Drop handles DELETE /v1/collections/{name}.
func (h *AdminHandler) Drop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Drop(r.Context(), r.PathValue("name")); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportSnapshot handles POST /v1/collections/{name}/snapshots.
func (h *AdminHandler) ExportSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.ExportSnapshot(r.Context(), r.PathValue("name"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// ListSnapshots handles GET /v1/collections/{name}/snapshots.
func (h *AdminHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	objects, err := h.engine.ListSnapshots(r.Context(), r.PathValue("name"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if objects == nil {
		objects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": objects})
}

// ImportRequest names the snapshots to restore.
type ImportRequest struct {
	ObjectPaths []string `json:"object_paths"`
}

// ImportSnapshots handles POST /v1/collections/{name}/snapshots/import.
func (h *AdminHandler) ImportSnapshots(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req ImportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.ObjectPaths) == 0 {
		writeError(w, r, http.StatusBadRequest, "object_paths must not be empty")
		return
	}

	n, err := h.engine.ImportSnapshots(r.Context(), r.PathValue("name"), req.ObjectPaths)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n, "request_id": requestID})
}

// NewRouter builds the API mux. Every route but /health and the change
// feed runs behind middleware.
func NewRouter(engine Engine, stats StatsSource, version string, middleware func(http.Handler) http.Handler) *http.ServeMux {
	ingest := NewIngestHandler(engine)
	query := NewQueryHandler(engine)
	admin := NewAdminHandler(engine, stats, version)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware(h))
	}
	mux.Handle("POST /v1/collections/{name}/documents", middleware(ingest))
	route("GET /v1/collections/{name}/documents", query.Find)
	route("GET /v1/collections/{name}/schema", query.Schema)
	route("GET /v1/collections", query.Collections)
	route("DELETE /v1/collections/{name}", admin.Drop)
	route("POST /v1/collections/{name}/snapshots", admin.ExportSnapshot)
	route("GET /v1/collections/{name}/snapshots", admin.ListSnapshots)
	route("POST /v1/collections/{name}/snapshots/import", admin.ImportSnapshots)
	route("GET /v1/stats", admin.Stats)
	mux.Handle("GET /v1/events", RecoveryMiddleware(NewFeedHandler(engine)))
	mux.HandleFunc("GET /health", admin.Health)
	return mux
}
