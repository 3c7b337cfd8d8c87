// Package server coordinates graceful shutdown: signal handling, draining
// of in-flight requests and ordered release of resources.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager drains in-flight requests and then releases registered
// resources, last registered first.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration

	mu        sync.Mutex
	inFlight  int64
	draining  bool
	idle      chan struct{}
	resources []resource
	onStart   []func()

	done chan struct{}
	once sync.Once
	err  error
}

type resource struct {
	name   string
	closer io.Closer
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30s.
	ShutdownTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight requests. Default: 15s.
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// NewShutdownManager creates a shutdown manager; zero timeouts take defaults.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &ShutdownManager{
		shutdownTimeout: cfg.ShutdownTimeout,
		drainTimeout:    cfg.DrainTimeout,
		idle:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Register adds a resource closed during shutdown, after every resource
// registered later.
func (sm *ShutdownManager) Register(name string, c io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resources = append(sm.resources, resource{name: name, closer: c})
}

// OnShutdownStart registers fn to run as soon as shutdown begins, before
// requests drain.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStart = append(sm.onStart, fn)
}

// ListenForSignals blocks until SIGTERM, SIGINT or the end of ctx, then
// shuts down. It returns nil at once if shutdown was started elsewhere.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(ctx, fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.WithoutCancel(ctx), "context cancelled")
	case <-sm.done:
		return nil
	}
}

// Shutdown stops admitting requests, waits for in-flight ones and closes
// every resource. Later calls wait for the first and return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		sm.err = sm.shutdown(ctx, reason)
		close(sm.done)
	})
	<-sm.done
	return sm.err
}

func (sm *ShutdownManager) shutdown(ctx context.Context, reason string) error {
	sm.mu.Lock()
	sm.draining = true
	inFlight := sm.inFlight
	if inFlight == 0 {
		close(sm.idle)
	}
	onStart := sm.onStart
	resources := sm.resources
	sm.mu.Unlock()

	log.Printf("server: shutting down (%s), %d requests in flight", reason, inFlight)
	start := time.Now()
	for _, fn := range onStart {
		fn()
	}

	ctx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := sm.drain(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(resources) - 1; i >= 0; i-- {
		res := resources[i]
		if err := res.closer.Close(); err != nil {
			log.Printf("server: [WARN] failed to close %s: %v", res.name, err)
			errs = append(errs, fmt.Errorf("close %s: %w", res.name, err))
			continue
		}
		log.Printf("server: closed %s", res.name)
	}
	log.Printf("server: shutdown complete in %v", time.Since(start).Round(time.Millisecond))
	return errors.Join(errs...)
}

// drain waits until no request is in flight.
func (sm *ShutdownManager) drain(ctx context.Context) error {
	timer := time.NewTimer(sm.drainTimeout)
	defer timer.Stop()
	select {
	case <-sm.idle:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return fmt.Errorf("drain: gave up on %d in-flight requests", sm.InFlightCount())
}

// TrackRequest admits a request, or returns false once shutdown began.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.draining {
		return false
	}
	sm.inFlight++
	return true
}

// UntrackRequest marks an admitted request finished.
func (sm *ShutdownManager) UntrackRequest() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.inFlight--
	if sm.draining && sm.inFlight == 0 {
		close(sm.idle)
	}
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.draining
}

// InFlightCount returns the number of admitted, unfinished requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inFlight
}

// HTTPServerCloser shuts srv down gracefully when closed, waiting at most
// timeout for open connections.
func HTTPServerCloser(srv *http.Server, timeout time.Duration) io.Closer {
	return CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// ShutdownMiddleware tracks requests through sm and answers 503 with
// Retry-After once shutdown began.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				if name := r.PathValue("name"); name != "" {
					log.Printf("server: rejected %s %s for collection %s during shutdown", r.Method, r.URL.Path, name)
				}
				w.Header().Set("Connection", "close")
				w.Header().Set("Retry-After", "5")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"error": "server is shutting down"})
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error { return f() }
