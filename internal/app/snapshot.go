package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/arkilian/docrel/internal/codec"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/storage"
)

// SnapshotInfo describes one exported snapshot.
type SnapshotInfo struct {
	Collection string `json:"collection"`
	ObjectPath string `json:"object_path"`
	Documents  int    `json:"documents"`
}

// Export writes every document of collection to w as Extended JSON lines.
func (e *Engine) Export(ctx context.Context, name string, w io.Writer) (int, error) {
	docs, _, err := e.Find(ctx, name, nil)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	if err := codec.EncodeJSONLines(bw, docs); err != nil {
		return 0, fmt.Errorf("app: failed to encode %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("app: failed to write %s: %w", name, err)
	}
	return len(docs), nil
}

func (e *Engine) requireSnapshots() error {
	if e.snapshot == nil {
		return dkerrors.NewValidationError(dkerrors.CodeInvalidCollection, "no snapshot storage configured")
	}
	return nil
}

// ExportSnapshot uploads collection as snappy-compressed Extended JSON
// lines and returns where it was written.
func (e *Engine) ExportSnapshot(ctx context.Context, name string) (*SnapshotInfo, error) {
	if err := e.requireSnapshots(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(e.cfg.Snapshot.DownloadDir, "export-*"+storage.SnapshotSuffix)
	if err != nil {
		return nil, fmt.Errorf("app: failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := snappy.NewBufferedWriter(tmp)
	n, err := e.Export(ctx, name, zw)
	if err == nil {
		err = zw.Close()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("app: failed to write snapshot of %s: %w", name, err)
	}

	objectPath := storage.NewSnapshotKey(e.cfg.Snapshot.Prefix, name, time.Now())
	err = e.snapshot.Upload(ctx, tmp.Name(), objectPath)
	e.transfers.Record(err == nil)
	if err != nil {
		return nil, fmt.Errorf("app: failed to upload snapshot of %s: %w", name, err)
	}
	log.Printf("app: exported %d documents of %s to %s", n, name, objectPath)
	return &SnapshotInfo{Collection: name, ObjectPath: objectPath, Documents: n}, nil
}

// ListSnapshots returns the snapshot object paths of collection, oldest
// first.
func (e *Engine) ListSnapshots(ctx context.Context, name string) ([]string, error) {
	if err := e.requireSnapshots(); err != nil {
		return nil, err
	}
	if err := ValidateCollection(name); err != nil {
		return nil, err
	}
	objects, err := e.snapshot.ListObjects(ctx, storage.SnapshotPrefix(e.cfg.Snapshot.Prefix, name))
	if err != nil {
		return nil, fmt.Errorf("app: failed to list snapshots of %s: %w", name, err)
	}
	var out []string
	for _, o := range objects {
		if storage.IsSnapshotKey(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// ImportSnapshots downloads the given snapshots in parallel and inserts
// their documents into collection, one snapshot after the other. Imported
// documents keep their _id.
func (e *Engine) ImportSnapshots(ctx context.Context, name string, objectPaths []string) (int, error) {
	if err := e.requireSnapshots(); err != nil {
		return 0, err
	}
	dir := filepath.Join(e.cfg.Snapshot.DownloadDir, uuid.New().String())
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("app: [WARN] failed to remove download dir %s: %v", dir, err)
		}
	}()
	downloader := storage.NewBatchDownloader(e.snapshot, 4, dir).WithBackpressure(e.transfers)
	result, err := downloader.Download(ctx, objectPaths)
	if err != nil {
		return 0, err
	}
	for _, objectPath := range objectPaths {
		if err := result.Errors[objectPath]; err != nil {
			return 0, fmt.Errorf("app: failed to download %s: %w", objectPath, err)
		}
	}

	total := 0
	for _, objectPath := range objectPaths {
		n, err := e.importFile(ctx, name, result.LocalPaths[objectPath])
		total += n
		if err != nil {
			return total, fmt.Errorf("app: failed to import %s: %w", objectPath, err)
		}
	}
	log.Printf("app: imported %d documents into %s from %d snapshots", total, name, len(objectPaths))
	return total, nil
}

// ImportSnapshot restores one snapshot into collection.
func (e *Engine) ImportSnapshot(ctx context.Context, name, objectPath string) (int, error) {
	return e.ImportSnapshots(ctx, name, []string{objectPath})
}

func (e *Engine) importFile(ctx context.Context, name, localPath string) (int, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return e.Import(ctx, name, snappy.NewReader(f))
}

// Import inserts the Extended JSON lines read from r into collection, in
// batches of at most the configured batch size.
func (e *Engine) Import(ctx context.Context, name string, r io.Reader) (int, error) {
	docs, err := codec.DecodeJSONLines(r)
	if err != nil {
		return 0, err
	}
	size := e.cfg.Ingest.MaxBatchDocuments
	if size <= 0 {
		size = len(docs)
	}

	total := 0
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		if _, err := e.Insert(ctx, name, docs[start:end]); err != nil {
			return total, err
		}
		total += end - start
	}
	return total, nil
}
