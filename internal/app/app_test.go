package app

import (
	"context"
	"net/http"
	"testing"
)

func TestApp_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Start(http.NotFoundHandler()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := a.Start(http.NotFoundHandler()); err == nil {
		t.Error("expected second Start to fail")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !a.Shutdown().IsShuttingDown() {
		t.Error("expected shutdown state after Stop")
	}
}

func TestApp_StopWithoutStart(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := a.Engine().Insert(context.Background(), "c", nil); err == nil {
		t.Error("expected empty insert to fail")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestNewSnapshotStorage_UnsupportedType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Type = "ftp"
	if _, err := NewSnapshotStorage(context.Background(), cfg); err == nil {
		t.Fatal("expected unsupported type error")
	}
}
