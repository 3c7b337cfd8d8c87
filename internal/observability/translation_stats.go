// Package observability tracks translation statistics: documents ingested,
// rows written per table and schema growth.
package observability

import (
	"sort"
	"sync"
	"time"
)

// TranslationStats accumulates per-collection and per-table counters. All
// methods are safe for concurrent use.
type TranslationStats struct {
	mu          sync.RWMutex
	collections map[string]*CollectionStats
	tables      map[string]*TableStats
	window      time.Duration
	started     time.Time
}

// CollectionStats holds the counters of one collection.
type CollectionStats struct {
	Collection     string
	Inserts        int64
	Failures       int64
	Documents      int64
	Rows           int64
	DocumentsRead  int64
	TablesCreated  int64
	ColumnsAdded   int64
	SchemaVersions int64
	LastSeen       time.Time
}

// TableStats holds the counters of one relational table.
type TableStats struct {
	Table    string
	Rows     int64
	LastSeen time.Time
}

// Ingest describes one applied insert.
type Ingest struct {
	Collection    string
	Documents     int
	TableRows     map[string]int // table identifier → rows written
	TablesCreated int
	ColumnsAdded  int
	NewVersion    bool
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime      time.Duration     `json:"uptime"`
	Collections []CollectionStats `json:"collections"`
	Tables      []TableStats      `json:"tables"`
}

// NewTranslationStats creates a tracker. Prune drops entries idle longer
// than window.
func NewTranslationStats(window time.Duration) *TranslationStats {
	return &TranslationStats{
		collections: make(map[string]*CollectionStats),
		tables:      make(map[string]*TableStats),
		window:      window,
		started:     time.Now(),
	}
}

func (s *TranslationStats) collection(name string) *CollectionStats {
	c, ok := s.collections[name]
	if !ok {
		c = &CollectionStats{Collection: name}
		s.collections[name] = c
	}
	c.LastSeen = time.Now()
	return c
}

// RecordIngest records a successful insert.
func (s *TranslationStats) RecordIngest(in Ingest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(in.Collection)
	c.Inserts++
	c.Documents += int64(in.Documents)
	c.TablesCreated += int64(in.TablesCreated)
	c.ColumnsAdded += int64(in.ColumnsAdded)
	if in.NewVersion {
		c.SchemaVersions++
	}

	now := time.Now()
	for table, rows := range in.TableRows {
		t, ok := s.tables[table]
		if !ok {
			t = &TableStats{Table: table}
			s.tables[table] = t
		}
		t.Rows += int64(rows)
		t.LastSeen = now
		c.Rows += int64(rows)
	}
}

// RecordFailure records a rejected insert.
func (s *TranslationStats) RecordFailure(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection).Failures++
}

// RecordRead records documents reassembled for a read.
func (s *TranslationStats) RecordRead(collection string, documents int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection).DocumentsRead += int64(documents)
}

// Collection returns a copy of the counters of one collection.
func (s *TranslationStats) Collection(name string) (CollectionStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return CollectionStats{}, false
	}
	return *c, true
}

// GetTopTables returns the n tables with the most rows written.
func (s *TranslationStats) GetTopTables(n int) []TableStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.tables) == 0 {
		return []TableStats{}
	}
	tables := s.sortedTables()
	if n > len(tables) {
		n = len(tables)
	}
	return tables[:n]
}

func (s *TranslationStats) sortedTables() []TableStats {
	tables := make([]TableStats, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, *t)
	}
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Rows != tables[j].Rows {
			return tables[i].Rows > tables[j].Rows
		}
		return tables[i].Table < tables[j].Table
	})
	return tables
}

// Snapshot copies every counter. Collections are sorted by name, tables
// by rows written.
func (s *TranslationStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Uptime:      time.Since(s.started),
		Collections: make([]CollectionStats, 0, len(s.collections)),
		Tables:      s.sortedTables(),
	}
	for _, c := range s.collections {
		snap.Collections = append(snap.Collections, *c)
	}
	sort.Slice(snap.Collections, func(i, j int) bool {
		return snap.Collections[i].Collection < snap.Collections[j].Collection
	})
	return snap
}

// Forget drops the counters of a collection and its tables.
func (s *TranslationStats) Forget(collection string, tables []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	for _, t := range tables {
		delete(s.tables, t)
	}
}

// Prune removes entries where time.Since(LastSeen) > window.
func (s *TranslationStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for name, c := range s.collections {
		if c.LastSeen.Before(threshold) {
			delete(s.collections, name)
		}
	}
	for name, t := range s.tables {
		if t.LastSeen.Before(threshold) {
			delete(s.tables, name)
		}
	}
}
