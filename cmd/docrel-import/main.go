// Package main implements docrel-import, which loads Extended JSON lines
// or a stored snapshot into a collection without running the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/docrel/internal/app"
	"github.com/arkilian/docrel/internal/config"
)

func main() {
	var (
		configFile string
		dataDir    string
		collection string
		input      string
		snapshot   string
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&collection, "collection", "", "Target collection (required)")
	flag.StringVar(&input, "input", "-", "JSON lines file to import, - for stdin")
	flag.StringVar(&snapshot, "snapshot", "", "Snapshot object path to restore instead of -input")
	flag.Parse()

	if collection == "" {
		fmt.Fprintln(os.Stderr, "docrel-import: -collection is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	n, err := run(ctx, application.Engine(), collection, input, snapshot)
	if stopErr := application.Stop(context.Background()); stopErr != nil {
		log.Printf("Shutdown error: %v", stopErr)
	}
	if err != nil {
		log.Fatalf("Import failed after %d documents: %v", n, err)
	}
	log.Printf("Imported %d documents into %s", n, collection)
}

func run(ctx context.Context, engine *app.Engine, collection, input, snapshot string) (int, error) {
	if snapshot != "" {
		return engine.ImportSnapshot(ctx, collection, snapshot)
	}

	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}
	return engine.Import(ctx, collection, r)
}
