// Package main implements the docrel server: documents posted over HTTP
// are mapped onto relational tables in SQLite and read back as documents.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	httpapi "github.com/arkilian/docrel/internal/api/http"
	"github.com/arkilian/docrel/internal/app"
	"github.com/arkilian/docrel/internal/config"
	"github.com/arkilian/docrel/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP server address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "docrel - document to relational mapping server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: docrel [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DOCREL_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  DOCREL_HTTP_ADDR        HTTP server address\n")
		fmt.Fprintf(os.Stderr, "  DOCREL_JOURNAL_ENABLED  Journal inserts before applying them\n")
		fmt.Fprintf(os.Stderr, "  DOCREL_SNAPSHOT_TYPE    Snapshot storage (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("docrel version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	log.Printf("docrel %s starting", version)
	log.Printf("  Data Dir:  %s", cfg.DataDir)
	log.Printf("  Store:     %s", cfg.Store.Path)
	log.Printf("  Journal:   %t (%s)", cfg.Journal.Enabled, cfg.Journal.Dir)
	log.Printf("  Snapshots: %s", cfg.Snapshot.Type)

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	engine := application.Engine()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(application.Shutdown()),
		httpapi.DefaultMiddleware(),
	)
	router := httpapi.NewRouter(engine, engine.Stats(), version, middleware)

	if err := application.Start(router); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
