// Package main implements docrel-export, which writes a collection as
// Extended JSON lines or uploads it as a snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/arkilian/docrel/internal/app"
	"github.com/arkilian/docrel/internal/config"
)

func main() {
	var (
		configFile string
		dataDir    string
		collection string
		output     string
		snapshot   bool
		list       bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&collection, "collection", "", "Collection to export (required)")
	flag.StringVar(&output, "output", "-", "Output file, - for stdout")
	flag.BoolVar(&snapshot, "snapshot", false, "Upload a compressed snapshot to snapshot storage")
	flag.BoolVar(&list, "list", false, "List the stored snapshots of the collection")
	flag.Parse()

	if collection == "" {
		fmt.Fprintln(os.Stderr, "docrel-export: -collection is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	err = run(ctx, application.Engine(), collection, output, snapshot, list)
	if stopErr := application.Stop(ctx); stopErr != nil {
		log.Printf("Shutdown error: %v", stopErr)
	}
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}

func run(ctx context.Context, engine *app.Engine, collection, output string, snapshot, list bool) error {
	switch {
	case list:
		objects, err := engine.ListSnapshots(ctx, collection)
		if err != nil {
			return err
		}
		for _, o := range objects {
			fmt.Println(o)
		}
		return nil
	case snapshot:
		info, err := engine.ExportSnapshot(ctx, collection)
		if err != nil {
			return err
		}
		log.Printf("Exported %d documents of %s to %s", info.Documents, collection, info.ObjectPath)
		return nil
	}

	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	n, err := engine.Export(ctx, collection, w)
	if err != nil {
		return err
	}
	log.Printf("Exported %d documents of %s", n, collection)
	return nil
}
