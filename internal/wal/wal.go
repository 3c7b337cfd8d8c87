// Package wal journals ingest requests before they are applied, so an
// acknowledged insert survives a crash between journaling and commit.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	dkerrors "github.com/arkilian/docrel/internal/errors"
)

const (
	segmentPrefix = "wal_"
	segmentSuffix = ".log"
	headerSize    = 8
)

// WAL is a segmented append-only log. Frames are
// [length:4 LE][crc32:4 LE][msgpack payload].
type WAL struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	mu         sync.Mutex
}

// Entry is one journaled insert request. Documents hold the msgpack form
// of each document, including any _id assigned before journaling.
type Entry struct {
	LSN        uint64   `msgpack:"lsn"`
	Collection string   `msgpack:"collection"`
	Documents  [][]byte `msgpack:"documents"`
	Timestamp  int64    `msgpack:"timestamp"`
}

// NewWAL opens the log in dir, creating it if needed. A torn frame at the
// end of the last segment is cut off before new entries are appended.
func NewWAL(dir string, maxSegSize int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to create directory", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = 64 << 20
	}

	w := &WAL{dir: dir, maxSegSize: maxSegSize}
	if err := w.findLastSegment(); err != nil {
		return nil, err
	}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// Dir returns the log directory.
func (w *WAL) Dir() string { return w.dir }

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%016x%s", segmentPrefix, id, segmentSuffix)
}

// listSegments returns the segment paths of dir in log order.
func listSegments(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to read directory: %w", err)
	}
	var out []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || len(name) != len(segmentName(0)) || name[:4] != segmentPrefix {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// findLastSegment restores the segment id, the write offset and the LSN
// from the newest segment and the highest LSN across all segments.
func (w *WAL) findLastSegment() error {
	segments, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	for _, path := range segments {
		entries, _, err := scanSegment(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.LSN > w.currentLSN {
				w.currentLSN = e.LSN
			}
		}
	}
	if len(segments) == 0 {
		return nil
	}

	last := segments[len(segments)-1]
	var id uint64
	if _, err := fmt.Sscanf(filepath.Base(last)[len(segmentPrefix):], "%016x", &id); err != nil {
		return fmt.Errorf("wal: malformed segment name %s: %w", last, err)
	}
	w.segmentID = id

	_, valid, err := scanSegment(last)
	if err != nil {
		return err
	}
	stat, err := os.Stat(last)
	if err != nil {
		return fmt.Errorf("wal: failed to stat segment: %w", err)
	}
	if stat.Size() > valid {
		log.Printf("wal: [WARN] truncating torn tail of %s at offset %d (%d bytes)", last, valid, stat.Size()-valid)
		if err := os.Truncate(last, valid); err != nil {
			return dkerrors.NewJournalError(dkerrors.CodeCorruptionDetected, "wal: failed to truncate torn tail", err)
		}
	}
	return nil
}

// openSegment opens the current segment file for appending.
func (w *WAL) openSegment() error {
	path := filepath.Join(w.dir, segmentName(w.segmentID))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to open segment", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to seek segment", err)
	}
	w.segment = file
	w.offset = offset
	return nil
}

// Append assigns the next LSN to entry, writes and fsyncs it.
func (w *WAL) Append(entry *Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return 0, dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: append after close", nil)
	}

	entry.LSN = w.currentLSN + 1
	payload, err := msgpack.Marshal(entry)
	if err != nil {
		return 0, dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to serialize entry", err)
	}
	if err := w.writeEntry(entry.LSN, payload); err != nil {
		return 0, err
	}
	return entry.LSN, nil
}

// writeEntry frames and writes payload. Once the frame is written its LSN
// is consumed, even if the fsync fails.
func (w *WAL) writeEntry(lsn uint64, payload []byte) error {
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[headerSize:], payload)

	if _, err := w.segment.Write(frame); err != nil {
		// Drop whatever part of the frame made it to disk.
		w.segment.Truncate(w.offset)
		w.segment.Seek(w.offset, io.SeekStart)
		return dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to write entry", err)
	}
	w.offset += int64(len(frame))
	w.currentLSN = lsn
	if err := w.segment.Sync(); err != nil {
		return dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to fsync", err)
	}

	if w.offset >= w.maxSegSize {
		return w.rotate()
	}
	return nil
}

// RotateSegment closes the current segment and starts a new one.
func (w *WAL) RotateSegment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *WAL) rotate() error {
	if w.segment != nil {
		if err := w.segment.Close(); err != nil {
			return dkerrors.NewJournalError(dkerrors.CodeAppendFailed, "wal: failed to close segment", err)
		}
	}
	w.segmentID++
	return w.openSegment()
}

// CurrentLSN returns the LSN of the last appended entry.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// EnsureLSN moves the LSN counter up to lsn, so a log that lost segments
// never reissues sequence numbers already recorded as applied.
func (w *WAL) EnsureLSN(lsn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn > w.currentLSN {
		w.currentLSN = lsn
	}
}

// Segments returns the segment paths in log order.
func (w *WAL) Segments() ([]string, error) {
	return listSegments(w.dir)
}

// activeSegment returns the path of the segment being written.
func (w *WAL) activeSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filepath.Join(w.dir, segmentName(w.segmentID))
}

// Close fsyncs and closes the current segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return nil
	}
	if err := w.segment.Sync(); err != nil {
		return fmt.Errorf("wal: failed to fsync on close: %w", err)
	}
	if err := w.segment.Close(); err != nil {
		return fmt.Errorf("wal: failed to close segment: %w", err)
	}
	w.segment = nil
	return nil
}

// ReadEntries reads the intact entries of a segment file. Reading stops at
// a truncated frame; frames failing their checksum are skipped.
func ReadEntries(segmentPath string) ([]*Entry, error) {
	entries, _, err := scanSegment(segmentPath)
	return entries, err
}

// scanSegment reads a segment and returns its entries and the offset just
// past the last complete frame.
func scanSegment(path string) ([]*Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: failed to open segment: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var (
		entries []*Entry
		offset  int64
		header  [headerSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, 0, fmt.Errorf("wal: failed to read frame header: %w", err)
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		frameStart := offset
		offset += int64(headerSize) + int64(length)

		if crc32.ChecksumIEEE(payload) != crc {
			log.Printf("wal: [WARN] CRC mismatch at offset %d in %s, skipping entry", frameStart, path)
			continue
		}
		var entry Entry
		if err := msgpack.NewDecoder(bytes.NewReader(payload)).Decode(&entry); err != nil {
			log.Printf("wal: [WARN] undecodable entry at offset %d in %s: %v", frameStart, path, err)
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, offset, nil
}
