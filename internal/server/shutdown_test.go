package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestShutdown_ClosersRunInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	var order []int
	for i := 1; i <= 3; i++ {
		sm.Register(fmt.Sprintf("resource %d", i), CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Errorf("expected closers in reverse order, got %v", order)
	}
	if !sm.IsShuttingDown() {
		t.Error("expected shutting down state")
	}
}

func TestShutdown_RunsOnce(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	calls := 0
	sm.Register("counter", CloserFunc(func() error {
		calls++
		return nil
	}))
	sm.Shutdown(context.Background(), "first")
	sm.Shutdown(context.Background(), "second")
	if calls != 1 {
		t.Errorf("expected closer to run once, ran %d times", calls)
	}
}

func TestShutdown_ReportsCloserError(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	boom := errors.New("boom")
	closed := false
	sm.Register("healthy", CloserFunc(func() error {
		closed = true
		return nil
	}))
	sm.Register("broken", CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "close broken") {
		t.Errorf("expected named closer error, got %v", err)
	}
	if !closed {
		t.Error("a failing closer stopped the ones registered before it")
	}
	if again := sm.Shutdown(context.Background(), "again"); !errors.Is(again, boom) {
		t.Errorf("second Shutdown returned %v, want the first result", again)
	}
}

func TestShutdown_StartCallbacksRunBeforeDrain(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 5 * time.Second})
	sm.TrackRequest()
	sm.OnShutdownStart(sm.UntrackRequest)
	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("expected no requests in flight, got %d", sm.InFlightCount())
	}
}

func TestShutdown_DrainsInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: 5 * time.Second, DrainTimeout: 5 * time.Second})
	if !sm.TrackRequest() {
		t.Fatal("expected request to be tracked")
	}

	done := make(chan error, 1)
	go func() { done <- sm.Shutdown(context.Background(), "test") }()

	time.Sleep(150 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("shutdown finished before the request completed")
	default:
	}
	sm.UntrackRequest()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not finish after the request completed")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 200 * time.Millisecond})
	sm.TrackRequest()
	if err := sm.Shutdown(context.Background(), "test"); err == nil {
		t.Fatal("expected drain timeout error")
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sm.InFlightCount() != 1 {
			t.Errorf("expected 1 request in flight, got %d", sm.InFlightCount())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("expected no requests in flight, got %d", sm.InFlightCount())
	}

	sm.Shutdown(context.Background(), "test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 during shutdown, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected rejection headers %v", rec.Header())
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("rejected request left %d in flight", sm.InFlightCount())
	}
}
