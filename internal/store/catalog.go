// Package store persists collection batches in SQLite: one physical table
// per path plus catalog tables describing them, so schemas survive restarts.
package store

// Catalog DDL. Data tables are created on demand by Apply.

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS _docrel_tables (
    collection TEXT NOT NULL,
    path_key TEXT NOT NULL,
    identifier TEXT NOT NULL UNIQUE,
    depth INTEGER NOT NULL,
    ordinal INTEGER NOT NULL,
    next_rid INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (collection, path_key)
)`

const createColumnsSQL = `
CREATE TABLE IF NOT EXISTS _docrel_columns (
    table_identifier TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('f', 's')),
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    column_name TEXT NOT NULL,
    PRIMARY KEY (table_identifier, role, position)
) WITHOUT ROWID`

const createSchemaVersionsSQL = `
CREATE TABLE IF NOT EXISTS _docrel_schema_versions (
    collection TEXT NOT NULL,
    version INTEGER NOT NULL,
    fingerprint INTEGER NOT NULL,
    table_count INTEGER NOT NULL,
    column_count INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (collection, version)
) WITHOUT ROWID`

const createJournalSQL = `
CREATE TABLE IF NOT EXISTS _docrel_journal (
    collection TEXT PRIMARY KEY,
    applied_lsn INTEGER NOT NULL
) WITHOUT ROWID`

var catalogDDL = []string{
	createTablesSQL,
	createColumnsSQL,
	createSchemaVersionsSQL,
	createJournalSQL,
	`CREATE INDEX IF NOT EXISTS idx_docrel_tables_ordinal ON _docrel_tables(collection, ordinal)`,
}
