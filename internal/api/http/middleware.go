// Package http serves the docrel engine over HTTP: document insert and
// read, schema description, statistics and snapshots.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	dkerrors "github.com/arkilian/docrel/internal/errors"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// maxRequestIDLen bounds a client-supplied X-Request-ID.
const maxRequestIDLen = 128

// ErrorResponse is the body of every failed request. Code is the engine
// error as CATEGORY:CODE when the failure came from the engine.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Code       string         `json:"code,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// RequestIDMiddleware tags each request with the client's X-Request-ID or
// a fresh one, echoing it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if !validRequestID(requestID) {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts short printable ASCII ids, so they are safe to log.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("http: [WARN] panic serving %s %s%s (request %s): %v",
					r.Method, r.URL.Path, collectionSuffix(r), GetRequestID(r.Context()), err)
				writeError(w, r, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures what a handler wrote for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// AccessLogMiddleware logs one line per request with the collection it
// addressed. Server errors are logged as warnings.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		level := ""
		if rec.status >= http.StatusInternalServerError {
			level = "[WARN] "
		}
		log.Printf("http: %s%s %s%s status=%d bytes=%d took=%v request=%s",
			level, r.Method, r.URL.Path, collectionSuffix(r), rec.status, rec.bytes,
			time.Since(start).Round(time.Microsecond), GetRequestID(r.Context()))
	})
}

func collectionSuffix(r *http.Request) string {
	if name := r.PathValue("name"); name != "" {
		return " collection=" + name
	}
	return ""
}

// ChainMiddleware applies middlewares so the first one runs outermost.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware returns the chain every API route runs behind.
func DefaultMiddleware() func(http.Handler) http.Handler {
	return ChainMiddleware(
		RecoveryMiddleware,
		RequestIDMiddleware,
		AccessLogMiddleware,
	)
}

// writeError answers r with status and a JSON ErrorResponse.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:      message,
		Collection: r.PathValue("name"),
		RequestID:  GetRequestID(r.Context()),
	})
}

// writeEngineError answers r with the status err maps to, exposing its
// engine code. Retryable failures carry Retry-After.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if dkerrors.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	resp := ErrorResponse{
		Error:      err.Error(),
		Collection: r.PathValue("name"),
		RequestID:  GetRequestID(r.Context()),
	}
	var de *dkerrors.DocrelError
	if errors.As(err, &de) {
		resp.Code = fmt.Sprintf("%s:%s", de.Category, de.Code)
		resp.Details = de.Details
	}
	writeJSON(w, statusOf(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("http: [WARN] failed to encode response: %v", err)
	}
}

// GetRequestID returns the request id RequestIDMiddleware stored in ctx.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
