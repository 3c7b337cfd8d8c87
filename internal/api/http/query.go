package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/arkilian/docrel/internal/codec"
)

// FindResponse represents the documents of a collection.
type FindResponse struct {
	Collection string            `json:"collection"`
	DIDs       []int64           `json:"dids"`
	Documents  []json.RawMessage `json:"documents"`
	RequestID  string            `json:"request_id"`
}

// QueryHandler serves document reads and schema descriptions.
type QueryHandler struct {
	engine Engine
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(engine Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// Find handles GET /v1/collections/{name}/documents. Repeated or
// comma-separated did parameters restrict the result to those documents.
func (h *QueryHandler) Find(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	collection := r.PathValue("name")

	dids, err := parseDIDs(r.URL.Query()["did"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	docs, found, err := h.engine.Find(r.Context(), collection, dids)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	resp := FindResponse{
		Collection: collection,
		DIDs:       found,
		Documents:  make([]json.RawMessage, 0, len(docs)),
		RequestID:  requestID,
	}
	if resp.DIDs == nil {
		resp.DIDs = []int64{}
	}
	for _, doc := range docs {
		data, err := codec.EncodeJSON(doc)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		resp.Documents = append(resp.Documents, data)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseDIDs returns nil when no did parameter was given.
func parseDIDs(values []string) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	dids := []int64{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			did, err := strconv.ParseInt(part, 10, 64)
			if err != nil || did < 0 {
				return nil, fmt.Errorf("invalid did %q", part)
			}
			dids = append(dids, did)
		}
	}
	return dids, nil
}

// Schema handles GET /v1/collections/{name}/schema.
func (h *QueryHandler) Schema(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Schema(r.Context(), r.PathValue("name"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Collections handles GET /v1/collections.
func (h *QueryHandler) Collections(w http.ResponseWriter, r *http.Request) {
	names, err := h.engine.Collections(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}
