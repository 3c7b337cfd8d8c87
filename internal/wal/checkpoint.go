package wal

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// Checkpointer deletes closed segments whose entries have all been applied.
type Checkpointer struct {
	wal      *WAL
	applied  AppliedSource
	interval time.Duration
}

// NewCheckpointer creates a checkpointer running every interval.
func NewCheckpointer(wal *WAL, applied AppliedSource, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Checkpointer{wal: wal, applied: applied, interval: interval}
}

// Run checkpoints on every tick until ctx is done.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Checkpoint(ctx); err != nil {
				log.Printf("wal: [WARN] checkpoint failed: %v", err)
			}
		}
	}
}

// Checkpoint removes fully applied segments, oldest first, stopping at the
// first segment that still holds an unapplied entry. The active segment is
// never removed. It returns the number of segments deleted.
func (c *Checkpointer) Checkpoint(ctx context.Context) (int, error) {
	segments, err := c.wal.Segments()
	if err != nil {
		return 0, err
	}
	active := c.wal.activeSegment()
	applied := make(map[string]uint64)

	removed := 0
	for _, path := range segments {
		if path == active {
			break
		}
		entries, err := ReadEntries(path)
		if err != nil {
			return removed, err
		}
		done := true
		for _, entry := range entries {
			floor, ok := applied[entry.Collection]
			if !ok {
				floor, err = c.applied.AppliedLSN(ctx, entry.Collection)
				if err != nil {
					return removed, fmt.Errorf("wal: failed to read applied lsn of %s: %w", entry.Collection, err)
				}
				applied[entry.Collection] = floor
			}
			if entry.LSN > floor {
				done = false
				break
			}
		}
		if !done {
			break
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("wal: failed to remove segment: %w", err)
		}
		removed++
	}
	if removed > 0 {
		log.Printf("wal: checkpoint removed %d segments", removed)
	}
	return removed, nil
}
