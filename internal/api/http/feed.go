package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arkilian/docrel/internal/events"
)

// FeedSource provides the change feed.
type FeedSource interface {
	Events() *events.Notifier
}

// FeedEvent is one line of the change feed stream.
type FeedEvent struct {
	Type          string `json:"type"`
	Collection    string `json:"collection"`
	LSN           uint64 `json:"lsn,omitempty"`
	Documents     int    `json:"documents,omitempty"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// FeedHandler handles GET /v1/events, streaming change notifications as
// JSON lines until the client disconnects. Repeated collection parameters
// restrict the feed to collections with those name prefixes.
type FeedHandler struct {
	source FeedSource
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(source FeedSource) *FeedHandler {
	return &FeedHandler{source: source}
}

// ServeHTTP streams notifications.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	notifier := h.source.Events()
	sub := notifier.Subscribe(r.URL.Query()["collection"]...)
	defer notifier.Unsubscribe(sub.ID)

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-sub.Ch:
			if !ok {
				return
			}
			err := enc.Encode(FeedEvent{
				Type:          n.Type.String(),
				Collection:    n.Collection,
				LSN:           n.LSN,
				Documents:     n.Documents,
				SchemaVersion: n.SchemaVersion,
				Timestamp:     n.Timestamp,
			})
			if err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
