package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/arkilian/docrel/internal/app"
	"github.com/arkilian/docrel/internal/codec"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/events"
	"github.com/arkilian/docrel/internal/storage"
	"github.com/arkilian/docrel/pkg/types"
)

// MaxBodyBytes caps the size of an ingest request body.
const MaxBodyBytes = 64 << 20

// Engine is the part of the engine the HTTP API serves.
type Engine interface {
	Insert(ctx context.Context, collection string, docs []*types.Document) (*app.InsertResult, error)
	Find(ctx context.Context, collection string, dids []int64) ([]*types.Document, []int64, error)
	Schema(ctx context.Context, collection string) (*app.SchemaInfo, error)
	Collections(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, collection string) error
	ExportSnapshot(ctx context.Context, collection string) (*app.SnapshotInfo, error)
	ListSnapshots(ctx context.Context, collection string) ([]string, error)
	ImportSnapshots(ctx context.Context, collection string, objectPaths []string) (int, error)
	Events() *events.Notifier
}

// InsertResponse represents the response to an insert.
type InsertResponse struct {
	*app.InsertResult
	Inserted  int    `json:"inserted"`
	RequestID string `json:"request_id"`
}

// IngestHandler handles POST /v1/collections/{name}/documents. The body
// holds one Extended JSON document per line.
type IngestHandler struct {
	engine Engine
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(engine Engine) *IngestHandler {
	return &IngestHandler{engine: engine}
}

// ServeHTTP handles the ingest HTTP request.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	collection := r.PathValue("name")

	docs, err := codec.DecodeJSONLines(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(docs) == 0 {
		writeError(w, r, http.StatusBadRequest, "request body holds no documents")
		return
	}

	res, err := h.engine.Insert(r.Context(), collection, docs)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, InsertResponse{
		InsertResult: res,
		Inserted:     len(res.DIDs),
		RequestID:    requestID,
	})
}

// statusOf maps an engine error to an HTTP status code.
func statusOf(err error) int {
	switch dkerrors.GetCategory(err) {
	case dkerrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case dkerrors.ErrCategorySchema:
		return http.StatusConflict
	case dkerrors.ErrCategoryStructure:
		if dkerrors.GetCode(err) == dkerrors.CodeUnsupportedValue {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case dkerrors.ErrCategoryStorage:
		switch dkerrors.GetCode(err) {
		case dkerrors.CodeObjectNotFound:
			return http.StatusNotFound
		case dkerrors.CodeBusy:
			return http.StatusServiceUnavailable
		}
	case dkerrors.ErrCategoryJournal:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
