package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arkilian/docrel/internal/codec"
	"github.com/arkilian/docrel/internal/config"
	"github.com/arkilian/docrel/internal/d2r"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/events"
	"github.com/arkilian/docrel/internal/observability"
	"github.com/arkilian/docrel/internal/r2d"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/arkilian/docrel/internal/storage"
	"github.com/arkilian/docrel/internal/store"
	"github.com/arkilian/docrel/internal/wal"
	"github.com/arkilian/docrel/pkg/types"
)

// maxCollectionName bounds collection names so every derived table
// identifier stays readable.
const maxCollectionName = 120

// Engine ties translation to persistence: inserts are journaled, mapped to
// rows and applied to the store; reads stream rows back and reassemble
// documents. All methods are safe for concurrent use; work on one
// collection is serialized.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	journal  *wal.WAL
	snapshot storage.ObjectStorage
	// transfers throttles snapshot uploads and downloads
	transfers *storage.Backpressure
	stats     *observability.TranslationStats
	events    *events.Notifier
	ids       *types.ObjectIDGenerator

	collections *xsync.MapOf[string, *collection]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// collection holds the cached schema of one collection and the lock that
// serializes its translations.
type collection struct {
	mu     sync.Mutex
	schema *schema.Schema
}

// InsertResult describes one applied insert.
type InsertResult struct {
	Collection string  `json:"collection"`
	DIDs       []int64 `json:"dids"`
	Rows       int     `json:"rows"`
	LSN        uint64  `json:"lsn,omitempty"`
	// SchemaVersion is the collection's schema version after the insert
	SchemaVersion int  `json:"schema_version"`
	SchemaGrew    bool `json:"schema_grew"`
}

// Open opens the store and journal described by cfg, replays journaled
// inserts that never reached the store and starts the journal
// checkpointer. snapshots may be nil when no snapshot storage is used.
func Open(ctx context.Context, cfg *config.Config, snapshots storage.ObjectStorage) (*Engine, error) {
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	st, err := store.Open(ctx, store.Config{
		Path:         cfg.Store.Path,
		BusyTimeout:  cfg.Store.BusyTimeout,
		JournalMode:  cfg.Store.JournalMode,
		MaxReadConns: cfg.Store.MaxReadConns,
	})
	if err != nil {
		return nil, fmt.Errorf("app: failed to open store: %w", err)
	}

	ids, err := types.NewObjectIDGenerator()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: failed to create id generator: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		store:       st,
		snapshot:    snapshots,
		transfers:   storage.NewBackpressure(storage.BackpressureConfig{}),
		stats:       observability.NewTranslationStats(24 * time.Hour),
		events:      events.NewNotifier(256),
		ids:         ids,
		collections: xsync.NewMapOf[string, *collection](),
	}

	if cfg.Journal.Enabled {
		e.journal, err = wal.NewWAL(cfg.Journal.Dir, cfg.SegmentSize())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("app: failed to open journal: %w", err)
		}
		if _, err := e.Recover(ctx); err != nil {
			e.journal.Close()
			st.Close()
			return nil, err
		}

		runCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		cp := wal.NewCheckpointer(e.journal, st, cfg.Journal.CheckpointInterval)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			cp.Run(runCtx)
		}()
	}
	log.Printf("app: engine opened (store=%s, journal=%t)", cfg.Store.Path, cfg.Journal.Enabled)
	return e, nil
}

// Stats returns the engine's translation statistics.
func (e *Engine) Stats() *observability.TranslationStats { return e.stats }

// Events returns the change feed of the engine's collections.
func (e *Engine) Events() *events.Notifier { return e.events }

// Store returns the underlying relational store.
func (e *Engine) Store() *store.Store { return e.store }

// Close stops the checkpointer and closes the journal and the store.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.events.Close()

	var firstErr error
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ValidateCollection rejects names that cannot name a collection.
func ValidateCollection(name string) error {
	switch {
	case name == "":
		return dkerrors.NewValidationError(dkerrors.CodeInvalidCollection, "collection name is empty")
	case len(name) > maxCollectionName:
		return dkerrors.NewValidationError(dkerrors.CodeInvalidCollection,
			fmt.Sprintf("collection name longer than %d bytes", maxCollectionName))
	case strings.HasPrefix(schema.Normalize(name), "_docrel"):
		return dkerrors.NewValidationError(dkerrors.CodeInvalidCollection,
			fmt.Sprintf("collection name %q is reserved", name))
	}
	return nil
}

// acquire locks the collection and loads its schema on first use. The
// caller must unlock c.mu.
func (e *Engine) acquire(ctx context.Context, name string) (*collection, error) {
	if err := ValidateCollection(name); err != nil {
		return nil, err
	}
	c, _ := e.collections.LoadOrStore(name, &collection{})
	c.mu.Lock()
	if c.schema == nil {
		sch, err := e.store.LoadSchema(ctx, name)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("app: failed to load schema of %s: %w", name, err)
		}
		c.schema = sch
	}
	return c, nil
}

// Insert stores docs in collection and returns their dids. Documents
// without an _id get a fresh ObjectId when id assignment is enabled.
// Documents are translated first, so a rejected request is never
// journaled; either every document is stored or none is.
func (e *Engine) Insert(ctx context.Context, name string, docs []*types.Document) (*InsertResult, error) {
	if len(docs) == 0 {
		return nil, dkerrors.NewValidationError(dkerrors.CodeEmptyBatch, "no documents to insert")
	}
	if max := e.cfg.Ingest.MaxBatchDocuments; max > 0 && len(docs) > max {
		return nil, dkerrors.NewValidationError(dkerrors.CodeInvalidDocument,
			fmt.Sprintf("%d documents exceed the batch limit of %d", len(docs), max))
	}
	for i, doc := range docs {
		if doc == nil {
			return nil, dkerrors.NewValidationError(dkerrors.CodeInvalidDocument, fmt.Sprintf("document %d is nil", i))
		}
	}

	c, err := e.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if e.cfg.Ingest.AssignIDs {
		for _, doc := range docs {
			if !doc.Has("_id") {
				doc.Prepend("_id", e.ids.Generate())
			}
		}
	}

	tr, err := e.translate(c, name, docs)
	if err != nil {
		e.stats.RecordFailure(name)
		return nil, err
	}

	var lsn uint64
	if e.journal != nil {
		lsn, err = e.journalInsert(name, docs)
		if err != nil {
			c.schema = nil
			e.stats.RecordFailure(name)
			return nil, err
		}
	}

	res, err := e.persist(ctx, c, name, tr, lsn)
	if err != nil {
		e.stats.RecordFailure(name)
		if lsn > 0 {
			// The caller sees the failure, so recovery must not apply the
			// entry later.
			if skipErr := e.store.SetAppliedLSN(ctx, name, lsn); skipErr != nil {
				log.Printf("app: [WARN] failed to abandon lsn %d of %s, recovery will replay it: %v", lsn, name, skipErr)
			}
		}
		return nil, err
	}
	return res, nil
}

func (e *Engine) journalInsert(name string, docs []*types.Document) (uint64, error) {
	entry := &wal.Entry{Collection: name, Timestamp: time.Now().UnixNano()}
	for i, doc := range docs {
		data, err := codec.MarshalDocument(doc)
		if err != nil {
			return 0, fmt.Errorf("app: document %d: %w", i, err)
		}
		entry.Documents = append(entry.Documents, data)
	}
	lsn, err := e.journal.Append(entry)
	if err != nil {
		return 0, fmt.Errorf("app: failed to journal insert: %w", err)
	}
	return lsn, nil
}

// translate maps docs onto the cached schema. A failure drops the cached
// schema, so the next call reloads the committed layout and counters.
func (e *Engine) translate(c *collection, name string, docs []*types.Document) (*d2r.Translator, error) {
	tr := d2r.ForSchema(c.schema)
	if _, err := tr.TranslateAll(docs); err != nil {
		c.schema = nil
		return nil, fmt.Errorf("app: failed to translate into %s: %w", name, err)
	}
	if err := tr.Batch().Validate(); err != nil {
		c.schema = nil
		return nil, fmt.Errorf("app: %w", err)
	}
	return tr, nil
}

// persist applies the batch of tr and records statistics.
func (e *Engine) persist(ctx context.Context, c *collection, name string, tr *d2r.Translator, lsn uint64) (*InsertResult, error) {
	b := tr.Batch()
	applied, err := e.store.Apply(ctx, c.schema, b, lsn)
	if err != nil {
		c.schema = nil
		return nil, fmt.Errorf("app: failed to apply insert into %s: %w", name, err)
	}

	dids := make([]int64, 0, b.Documents())
	tableRows := make(map[string]int, len(b.Tables()))
	for _, t := range b.Tables() {
		tableRows[t.Meta().Identifier()] = t.Len()
		if t.Meta().Path().IsRoot() {
			for _, row := range t.Rows() {
				dids = append(dids, row.DID)
			}
		}
	}
	e.stats.RecordIngest(observability.Ingest{
		Collection:    name,
		Documents:     applied.Documents,
		TableRows:     tableRows,
		TablesCreated: applied.TablesCreated,
		ColumnsAdded:  applied.ColumnsAdded,
		NewVersion:    applied.VersionCreated,
	})

	grew := applied.TablesCreated > 0 || applied.ColumnsAdded > 0
	e.events.Publish(events.Notification{
		Type:          events.DocumentsInserted,
		Collection:    name,
		LSN:           lsn,
		Documents:     applied.Documents,
		SchemaVersion: applied.SchemaVersion,
	})
	if grew {
		e.events.Publish(events.Notification{
			Type:          events.SchemaEvolved,
			Collection:    name,
			LSN:           lsn,
			SchemaVersion: applied.SchemaVersion,
		})
	}
	return &InsertResult{
		Collection:    name,
		DIDs:          dids,
		Rows:          applied.Rows,
		LSN:           lsn,
		SchemaVersion: applied.SchemaVersion,
		SchemaGrew:    grew,
	}, nil
}

// Find reassembles the documents of collection with the given dids, or
// every document when dids is nil, in did order. Unknown dids are skipped.
func (e *Engine) Find(ctx context.Context, name string, dids []int64) ([]*types.Document, []int64, error) {
	c, err := e.acquire(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	defer c.mu.Unlock()

	if dids != nil && len(dids) == 0 {
		return nil, nil, nil
	}
	if len(c.schema.Tables()) == 0 {
		return nil, nil, nil
	}

	streams, err := e.store.Streams(ctx, c.schema, dids)
	if err != nil {
		return nil, nil, fmt.Errorf("app: failed to open streams of %s: %w", name, err)
	}
	result, err := r2d.NewTranslator().Translate(streams)
	if err != nil {
		return nil, nil, fmt.Errorf("app: failed to reassemble %s: %w", name, err)
	}
	e.stats.RecordRead(name, result.Len())
	return result.Documents(), result.DIDs(), nil
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind"`
	Column   string `json:"column"`
	Position int    `json:"position"`
}

// TableInfo describes one table of a collection.
type TableInfo struct {
	Identifier string       `json:"identifier"`
	Path       string       `json:"path"`
	Depth      int          `json:"depth"`
	NextRid    int64        `json:"next_rid"`
	Fields     []ColumnInfo `json:"fields"`
	Scalars    []ColumnInfo `json:"scalars"`
}

// SchemaInfo describes the relational layout of a collection.
type SchemaInfo struct {
	Collection string                `json:"collection"`
	Tables     []TableInfo           `json:"tables"`
	Versions   []store.SchemaVersion `json:"versions"`
}

// Schema describes the tables and columns collection maps to.
func (e *Engine) Schema(ctx context.Context, name string) (*SchemaInfo, error) {
	c, err := e.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	info := &SchemaInfo{Collection: name, Tables: []TableInfo{}}
	for _, meta := range c.schema.TablesByDepth() {
		t := TableInfo{
			Identifier: meta.Identifier(),
			Path:       meta.Path().String(),
			Depth:      meta.Depth(),
			NextRid:    meta.Rid().Peek(),
			Fields:     []ColumnInfo{},
			Scalars:    []ColumnInfo{},
		}
		for _, f := range meta.FieldColumns() {
			t.Fields = append(t.Fields, ColumnInfo{Name: f.Name, Kind: f.Kind.String(), Column: f.Identifier, Position: f.Position})
		}
		for _, s := range meta.ScalarColumns() {
			t.Scalars = append(t.Scalars, ColumnInfo{Kind: s.Kind.String(), Column: s.Identifier, Position: s.Position})
		}
		info.Tables = append(info.Tables, t)
	}

	info.Versions, err = e.store.SchemaVersions(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("app: failed to list schema versions of %s: %w", name, err)
	}
	return info, nil
}

// Collections lists the stored collections.
func (e *Engine) Collections(ctx context.Context) ([]string, error) {
	return e.store.Collections(ctx)
}

// Drop removes collection with all its tables.
func (e *Engine) Drop(ctx context.Context, name string) error {
	c, err := e.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	var tables []string
	for _, meta := range c.schema.Tables() {
		tables = append(tables, meta.Identifier())
	}
	if err := e.store.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("app: failed to drop %s: %w", name, err)
	}
	if e.journal != nil {
		// Keep journaled inserts of the dropped collection from being
		// replayed into a new one.
		if err := e.store.SetAppliedLSN(ctx, name, e.journal.CurrentLSN()); err != nil {
			return fmt.Errorf("app: failed to fence journal of %s: %w", name, err)
		}
	}
	c.schema = nil
	e.stats.Forget(name, tables)
	e.events.Publish(events.Notification{Type: events.CollectionDropped, Collection: name})
	return nil
}

// AppliedLSN reports the highest journal entry applied to collection.
func (e *Engine) AppliedLSN(ctx context.Context, name string) (uint64, error) {
	return e.store.AppliedLSN(ctx, name)
}

// Replay applies a journaled insert. The documents already carry the ids
// assigned before journaling.
func (e *Engine) Replay(ctx context.Context, entry *wal.Entry) error {
	docs := make([]*types.Document, 0, len(entry.Documents))
	for i, data := range entry.Documents {
		doc, err := codec.UnmarshalDocument(data)
		if err != nil {
			return fmt.Errorf("app: lsn %d document %d: %w", entry.LSN, i, err)
		}
		docs = append(docs, doc)
	}

	c, err := e.acquire(ctx, entry.Collection)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	tr, err := e.translate(c, entry.Collection, docs)
	if err != nil {
		return err
	}
	_, err = e.persist(ctx, c, entry.Collection, tr, entry.LSN)
	return err
}

// Recover replays journaled inserts above each collection's applied LSN.
func (e *Engine) Recover(ctx context.Context) (*wal.RecoveryStats, error) {
	if e.journal == nil {
		return &wal.RecoveryStats{}, nil
	}
	stats, err := wal.NewRecovery(e.journal, e).Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: recovery failed: %w", err)
	}

	// Segments may have been checkpointed away; never reissue an LSN a
	// collection already recorded.
	applied, err := e.store.MaxAppliedLSN(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	e.journal.EnsureLSN(applied)
	return stats, nil
}
