// Package app runs the docrel engine: document insert and reassembly over
// a journaled relational store, snapshot export and import, and the HTTP
// server lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/arkilian/docrel/internal/config"
	"github.com/arkilian/docrel/internal/server"
	"github.com/arkilian/docrel/internal/storage"
)

// App manages the engine and the HTTP server serving it.
type App struct {
	cfg *config.Config

	engine   *Engine
	storage  storage.ObjectStorage
	shutdown *server.ShutdownManager
	http     *http.Server

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New validates cfg, opens snapshot storage and the engine.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	snapshots, err := NewSnapshotStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine, err := Open(ctx, cfg, snapshots)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		engine:  engine,
		storage: snapshots,
		shutdown: server.NewShutdownManager(server.ShutdownConfig{
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		}),
	}, nil
}

// NewSnapshotStorage opens the object storage cfg.Snapshot describes.
func NewSnapshotStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Snapshot.Type {
	case "local":
		st, err := storage.NewLocalStorage(cfg.Snapshot.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		log.Printf("app: snapshot storage initialized: type=local path=%s", cfg.Snapshot.Path)
		return st, nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Snapshot.S3.Region != "" {
			s3Cfg.Region = cfg.Snapshot.S3.Region
		}
		s3Cfg.Endpoint = cfg.Snapshot.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Snapshot.S3.UsePathStyle
		st, err := storage.NewS3Storage(ctx, cfg.Snapshot.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		log.Printf("app: snapshot storage initialized: type=s3 bucket=%s region=%s endpoint=%s",
			cfg.Snapshot.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot storage type: %s", cfg.Snapshot.Type)
	}
}

// Engine returns the application's engine.
func (a *App) Engine() *Engine { return a.engine }

// Shutdown returns the shutdown manager tracking in-flight requests.
func (a *App) Shutdown() *server.ShutdownManager { return a.shutdown }

// Start serves handler on the configured HTTP address. The server and
// then the engine are closed when shutdown runs.
func (a *App) Start(handler http.Handler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}
	a.running = true

	a.http = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	// End change feed streams first, so the HTTP server can go idle.
	a.shutdown.OnShutdownStart(a.engine.Events().Close)
	a.shutdown.Register("engine", server.CloserFunc(a.engine.Close))
	a.shutdown.Register("http server", server.HTTPServerCloser(a.http, a.cfg.HTTP.ShutdownTimeout))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("app: HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("app: HTTP server error: %v", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends,
// then shuts the application down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}

// Stop shuts the application down: in-flight requests drain, the HTTP
// server stops and the engine closes. An application that was never
// started only closes its engine.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	running := a.running
	a.running = false
	a.mu.Unlock()

	if !running {
		return a.engine.Close()
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}
