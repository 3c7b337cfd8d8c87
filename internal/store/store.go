package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dkerrors "github.com/arkilian/docrel/internal/errors"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the SQLite database file.
	Path        string
	BusyTimeout time.Duration
	// JournalMode is the SQLite journal mode, WAL unless set.
	JournalMode  string
	MaxReadConns int
}

// Store is a SQLite-backed collection store. Writes go through a single
// connection; reads use a separate pool.
type Store struct {
	db     *sql.DB
	readDB *sql.DB
	path   string
	mu     sync.Mutex // serializes Apply and DDL
}

// Open opens (creating if needed) the database at cfg.Path and its catalog.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, dkerrors.NewValidationError(dkerrors.CodeInvalidCollection, "store: database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: failed to create database directory: %w", err)
		}
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.MaxReadConns <= 0 {
		cfg.MaxReadConns = 4
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=off",
		cfg.Path, cfg.JournalMode, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, dkerrors.NewStorageError(dkerrors.CodeQueryFailed, "store: failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range catalogDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, dkerrors.NewStorageError(dkerrors.CodeWriteFailed, "store: failed to initialize catalog", err)
		}
	}

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		db.Close()
		return nil, dkerrors.NewStorageError(dkerrors.CodeQueryFailed, "store: failed to open read database", err)
	}
	readDB.SetMaxOpenConns(cfg.MaxReadConns)
	readDB.SetMaxIdleConns(cfg.MaxReadConns)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	log.Printf("store: opened %s (journal_mode=%s)", cfg.Path, strings.ToLower(cfg.JournalMode))
	return &Store{db: db, readDB: readDB, path: cfg.Path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes both connection pools.
func (s *Store) Close() error {
	rerr := s.readDB.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: failed to close database: %w", err)
	}
	if rerr != nil {
		return fmt.Errorf("store: failed to close read database: %w", rerr)
	}
	return nil
}

// Collections lists every collection with a persisted root table.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx,
		"SELECT collection FROM _docrel_tables WHERE path_key = '' ORDER BY collection")
	if err != nil {
		return nil, queryError("list collections", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, queryError("scan collection", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list collections", err)
	}
	return out, nil
}

// DropCollection removes every table of collection and its catalog entries.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeError("begin drop", err)
	}
	defer tx.Rollback()

	state, err := loadState(ctx, tx, collection)
	if err != nil {
		return err
	}
	for _, t := range state.tables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t.identifier)); err != nil {
			return writeError("drop "+t.identifier, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM _docrel_columns WHERE table_identifier = ?", t.identifier); err != nil {
			return writeError("drop columns of "+t.identifier, err)
		}
	}
	for _, stmt := range []string{
		"DELETE FROM _docrel_tables WHERE collection = ?",
		"DELETE FROM _docrel_schema_versions WHERE collection = ?",
		"DELETE FROM _docrel_journal WHERE collection = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, collection); err != nil {
			return writeError("drop catalog of "+collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return writeError("commit drop", err)
	}
	log.Printf("store: dropped collection %s (%d tables)", collection, len(state.tables))
	return nil
}

// AppliedLSN returns the highest journal sequence number applied to
// collection, 0 if none.
func (s *Store) AppliedLSN(ctx context.Context, collection string) (uint64, error) {
	var lsn int64
	err := s.readDB.QueryRowContext(ctx,
		"SELECT applied_lsn FROM _docrel_journal WHERE collection = ?", collection).Scan(&lsn)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, queryError("read applied lsn", err)
	}
	return uint64(lsn), nil
}

// MaxAppliedLSN returns the highest journal sequence number applied to any
// collection.
func (s *Store) MaxAppliedLSN(ctx context.Context) (uint64, error) {
	var lsn int64
	err := s.readDB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(applied_lsn), 0) FROM _docrel_journal").Scan(&lsn)
	if err != nil {
		return 0, queryError("read max applied lsn", err)
	}
	return uint64(lsn), nil
}

// SetAppliedLSN records lsn as applied to collection. Lower values than the
// stored one are ignored.
func (s *Store) SetAppliedLSN(ctx context.Context, collection string, lsn uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := setAppliedLSN(ctx, s.db, collection, lsn); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setAppliedLSN(ctx context.Context, db execer, collection string, lsn uint64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO _docrel_journal (collection, applied_lsn) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET applied_lsn = MAX(applied_lsn, excluded.applied_lsn)`,
		collection, int64(lsn))
	if err != nil {
		return writeError("record applied lsn", err)
	}
	return nil
}

// quoteIdent quotes an identifier for use in SQL. Identifiers only hold
// characters Normalize produces, so no escaping is needed beyond quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func queryError(what string, err error) error {
	if isBusy(err) {
		return dkerrors.NewStorageError(dkerrors.CodeBusy, "store: "+what, err)
	}
	return dkerrors.NewStorageError(dkerrors.CodeQueryFailed, "store: "+what, err)
}

func writeError(what string, err error) error {
	if isBusy(err) {
		return dkerrors.NewStorageError(dkerrors.CodeBusy, "store: "+what, err)
	}
	return dkerrors.NewStorageError(dkerrors.CodeWriteFailed, "store: "+what, err)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
