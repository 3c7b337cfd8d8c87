package wal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFor(collection string, docs ...string) *Entry {
	e := &Entry{Collection: collection, Timestamp: 1700000000}
	for _, d := range docs {
		e.Documents = append(e.Documents, []byte(d))
	}
	return e
}

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, 64<<20)
	require.NoError(t, err)
	defer w.Close()

	lsn, err := w.Append(entryFor("users", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lsn)

	entries, err := ReadEntries(filepath.Join(dir, segmentName(0)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].LSN)
	assert.Equal(t, "users", entries[0].Collection)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, entries[0].Documents)
}

func TestWAL_ReopenContinuesLSN(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, 64<<20)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(entryFor("c", "x"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w, err = NewWAL(dir, 64<<20)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint64(5), w.CurrentLSN())

	lsn, err := w.Append(entryFor("c", "y"))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), lsn)
}

func TestWAL_Rotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, 64)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 4; i++ {
		_, err := w.Append(entryFor("c", fmt.Sprintf("document-%d-with-padding", i)))
		require.NoError(t, err)
	}
	segments, err := w.Segments()
	require.NoError(t, err)
	assert.Len(t, segments, 5, "every entry exceeds the segment size, so each one rotates")

	var lsns []uint64
	for _, path := range segments {
		entries, err := ReadEntries(path)
		require.NoError(t, err)
		for _, e := range entries {
			lsns = append(lsns, e.LSN)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, lsns)
}

func TestWAL_TornTailIsTruncated(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, 64<<20)
	require.NoError(t, err)
	_, err = w.Append(entryFor("c", "intact"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, segmentName(0))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{200, 0, 0, 0, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = NewWAL(dir, 64<<20)
	require.NoError(t, err)
	defer w.Close()
	lsn, err := w.Append(entryFor("c", "after"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lsn)

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("after"), entries[1].Documents[0])
}

func TestWAL_CorruptFrameSkipped(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, 64<<20)
	require.NoError(t, err)
	_, err = w.Append(entryFor("c", "first"))
	require.NoError(t, err)
	_, err = w.Append(entryFor("c", "second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, segmentName(0))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(2), entries[0].LSN)
}

func TestWAL_ConcurrentAppends(t *testing.T) {
	w, err := NewWAL(t.TempDir(), 64<<20)
	require.NoError(t, err)
	defer w.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]bool)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				lsn, err := w.Append(entryFor("c", "x"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[lsn] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 200)
	assert.Equal(t, uint64(200), w.CurrentLSN())
}

func TestWAL_AppendAfterClose(t *testing.T) {
	w, err := NewWAL(t.TempDir(), 64<<20)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = w.Append(entryFor("c", "x"))
	assert.Error(t, err)
}

// fakeReplayer records replays and applied LSNs per collection.
type fakeReplayer struct {
	applied  map[string]uint64
	replayed []uint64
	failOn   uint64
}

func (f *fakeReplayer) AppliedLSN(_ context.Context, collection string) (uint64, error) {
	return f.applied[collection], nil
}

func (f *fakeReplayer) Replay(_ context.Context, e *Entry) error {
	if e.LSN == f.failOn {
		return errors.New("boom")
	}
	f.replayed = append(f.replayed, e.LSN)
	f.applied[e.Collection] = e.LSN
	return nil
}

func TestRecovery_ReplaysAboveAppliedLSN(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, 64<<20)
	require.NoError(t, err)
	defer w.Close()

	for _, c := range []string{"a", "b", "a", "b", "a"} {
		_, err := w.Append(entryFor(c, "doc"))
		require.NoError(t, err)
	}

	r := &fakeReplayer{applied: map[string]uint64{"a": 3, "b": 2}}
	stats, err := NewRecovery(w, r).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, r.replayed)
	assert.Equal(t, 2, stats.Replayed)
	assert.Equal(t, 5, stats.Scanned)
	assert.Equal(t, uint64(5), stats.HighestLSN)
}

func TestRecovery_FailureBlocksCollection(t *testing.T) {
	w, err := NewWAL(t.TempDir(), 64<<20)
	require.NoError(t, err)
	defer w.Close()

	for _, c := range []string{"a", "a", "b", "a"} {
		_, err := w.Append(entryFor(c, "doc"))
		require.NoError(t, err)
	}

	r := &fakeReplayer{applied: map[string]uint64{}, failOn: 2}
	stats, err := NewRecovery(w, r).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, r.replayed)
	assert.Equal(t, 1, stats.Failed)
}

func TestRecovery_EnsuresLSN(t *testing.T) {
	w, err := NewWAL(t.TempDir(), 64<<20)
	require.NoError(t, err)
	defer w.Close()

	w.EnsureLSN(41)
	lsn, err := w.Append(entryFor("c", "x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), lsn)
}

func TestCheckpoint_RemovesAppliedSegments(t *testing.T) {
	w, err := NewWAL(t.TempDir(), 64)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		_, err := w.Append(entryFor("c", "document-with-enough-padding"))
		require.NoError(t, err)
	}
	applied := &fakeReplayer{applied: map[string]uint64{"c": 2}}
	cp := NewCheckpointer(w, applied, 0)

	removed, err := cp.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	applied.applied["c"] = 3
	removed, err = cp.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	segments, err := w.Segments()
	require.NoError(t, err)
	assert.Len(t, segments, 1, "the active segment stays")
}
