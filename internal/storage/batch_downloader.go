package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader fetches several objects in parallel into a local
// directory, skipping objects already present there.
type BatchDownloader struct {
	storage      ObjectStorage
	concurrency  int
	dir          string
	backpressure *Backpressure
}

// BatchResult contains the outcome of a batch download.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// NewBatchDownloader creates a downloader writing into dir with at most
// concurrency downloads in flight.
func NewBatchDownloader(storage ObjectStorage, concurrency int, dir string) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchDownloader{storage: storage, concurrency: concurrency, dir: dir}
}

// WithBackpressure lets bp choose the concurrency of each Download and
// feeds it the outcome of every transfer.
func (b *BatchDownloader) WithBackpressure(bp *Backpressure) *BatchDownloader {
	b.backpressure = bp
	return b
}

// Download fetches objectPaths. Per-object failures are reported in
// BatchResult.Errors; the returned error is reserved for setup failures.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create download directory: %w", err)
	}

	concurrency := b.concurrency
	if b.backpressure != nil {
		b.backpressure.Adjust()
		concurrency = b.backpressure.Concurrency()
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(concurrency))
	)
	for _, objectPath := range objectPaths {
		local := b.localPath(objectPath)
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[objectPath] = local
			result.CacheHits++
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[objectPath] = fmt.Errorf("storage: semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.storage.Download(ctx, objectPath, local)
			b.record(err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				os.Remove(local)
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(objectPath, local)
	}
	wg.Wait()
	return result, nil
}

// record reports a transfer outcome to the backpressure controller. Missing
// objects and cancellations say nothing about storage health.
func (b *BatchDownloader) record(err error) {
	if b.backpressure == nil {
		return
	}
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, context.Canceled) {
		return
	}
	b.backpressure.Record(err == nil)
}

// localPath flattens an object path into a file name under the download
// directory.
func (b *BatchDownloader) localPath(objectPath string) string {
	name := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "_")
	return filepath.Join(b.dir, name)
}
