package wal

import (
	"context"
	"fmt"
	"log"
	"time"
)

// AppliedSource reports how far each collection's journal entries have
// been applied.
type AppliedSource interface {
	AppliedLSN(ctx context.Context, collection string) (uint64, error)
}

// Replayer applies a journaled entry whose LSN is above the collection's
// applied LSN. It must record the entry's LSN as applied.
type Replayer interface {
	AppliedSource
	Replay(ctx context.Context, entry *Entry) error
}

// Recovery replays journaled entries that never reached the store.
type Recovery struct {
	wal      *WAL
	replayer Replayer
}

// NewRecovery creates a recovery pass over wal.
func NewRecovery(wal *WAL, replayer Replayer) *Recovery {
	return &Recovery{wal: wal, replayer: replayer}
}

// RecoveryStats describes one Recover call.
type RecoveryStats struct {
	Segments   int
	Scanned    int
	Replayed   int
	Failed     int
	HighestLSN uint64
	Elapsed    time.Duration
}

// Recover replays, in LSN order, every entry above its collection's
// applied LSN. A failing entry is logged and counted; later entries of the
// same collection are not replayed past it, so a collection never applies
// out of order.
func (r *Recovery) Recover(ctx context.Context) (*RecoveryStats, error) {
	start := time.Now()
	stats := &RecoveryStats{}

	segments, err := r.wal.Segments()
	if err != nil {
		return nil, fmt.Errorf("recovery: failed to list segments: %w", err)
	}
	stats.Segments = len(segments)

	applied := make(map[string]uint64)
	blocked := make(map[string]bool)
	for _, path := range segments {
		entries, err := ReadEntries(path)
		if err != nil {
			return nil, fmt.Errorf("recovery: %w", err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			if entry.LSN > stats.HighestLSN {
				stats.HighestLSN = entry.LSN
			}
			if blocked[entry.Collection] {
				continue
			}
			floor, ok := applied[entry.Collection]
			if !ok {
				floor, err = r.replayer.AppliedLSN(ctx, entry.Collection)
				if err != nil {
					return stats, fmt.Errorf("recovery: failed to read applied lsn of %s: %w", entry.Collection, err)
				}
				applied[entry.Collection] = floor
			}
			if entry.LSN <= floor {
				continue
			}
			if err := r.replayer.Replay(ctx, entry); err != nil {
				log.Printf("recovery: [WARN] failed to replay lsn %d of %s: %v", entry.LSN, entry.Collection, err)
				stats.Failed++
				blocked[entry.Collection] = true
				continue
			}
			applied[entry.Collection] = entry.LSN
			stats.Replayed++
		}
	}

	r.wal.EnsureLSN(stats.HighestLSN)
	stats.Elapsed = time.Since(start)
	if stats.Replayed > 0 || stats.Failed > 0 {
		log.Printf("wal: recovered %d entries (%d failed) from %d segments in %v",
			stats.Replayed, stats.Failed, stats.Segments, stats.Elapsed)
	}
	return stats, nil
}
