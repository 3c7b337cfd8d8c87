package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arkilian/docrel/internal/batch"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
)

// ApplyResult summarizes one Apply call.
type ApplyResult struct {
	Documents      int
	Rows           int
	TablesCreated  int
	ColumnsAdded   int
	SchemaVersion  int
	VersionCreated bool
}

// Apply persists b in one transaction: it creates the tables and columns
// sch has grown since the last Apply, inserts the rows root table first,
// saves the row-id counters and registers a new schema version when the
// layout changed. A non-zero lsn is recorded as applied in the same
// transaction.
func (s *Store) Apply(ctx context.Context, sch *schema.Schema, b *batch.CollectionBatch, lsn uint64) (*ApplyResult, error) {
	if b.Collection() != sch.Collection() {
		return nil, dkerrors.NewContractError("batch of %s applied with schema of %s", b.Collection(), sch.Collection())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeError("begin apply", err)
	}
	defer tx.Rollback()

	state, err := loadState(ctx, tx, sch.Collection())
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{Documents: b.Documents(), Rows: b.RowCount()}
	if err := s.evolve(ctx, tx, sch, state, res); err != nil {
		return nil, err
	}
	for _, t := range b.Tables() {
		if err := insertRows(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	for _, meta := range sch.Tables() {
		if _, err := tx.ExecContext(ctx,
			"UPDATE _docrel_tables SET next_rid = ? WHERE collection = ? AND path_key = ?",
			meta.Rid().Peek(), sch.Collection(), meta.Path().Key()); err != nil {
			return nil, writeError("save row id counter of "+meta.Identifier(), err)
		}
	}
	if len(sch.Tables()) > 0 {
		version, created, err := registerVersion(ctx, tx, sch)
		if err != nil {
			return nil, err
		}
		res.SchemaVersion, res.VersionCreated = version, created
	}
	if lsn > 0 {
		if err := setAppliedLSN(ctx, tx, sch.Collection(), lsn); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, writeError("commit apply", err)
	}
	if res.TablesCreated > 0 || res.ColumnsAdded > 0 {
		log.Printf("store: %s grew by %d tables and %d columns (schema version %d)",
			sch.Collection(), res.TablesCreated, res.ColumnsAdded, res.SchemaVersion)
	}
	return res, nil
}

// evolve issues the DDL for every table and column of sch missing from state.
func (s *Store) evolve(ctx context.Context, tx *sql.Tx, sch *schema.Schema, state *collectionState, res *ApplyResult) error {
	now := time.Now().Unix()
	ordinal := len(state.tables)

	for _, meta := range sch.Tables() {
		persisted, ok := state.lookup(meta.Path().Key())
		if !ok {
			if err := checkIdentifierFree(ctx, tx, meta.Identifier(), sch.Collection(), meta.Path()); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, createTableDDL(meta.Identifier())); err != nil {
				return writeError("create table "+meta.Identifier(), err)
			}
			for _, idx := range indexDDL(meta.Identifier()) {
				if _, err := tx.ExecContext(ctx, idx); err != nil {
					return writeError("index table "+meta.Identifier(), err)
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO _docrel_tables (collection, path_key, identifier, depth, ordinal, next_rid, created_at)
				VALUES (?, ?, ?, ?, ?, 0, ?)`,
				sch.Collection(), meta.Path().Key(), meta.Identifier(), meta.Depth(), ordinal, now); err != nil {
				return writeError("register table "+meta.Identifier(), err)
			}
			ordinal++
			res.TablesCreated++
			persisted = &tableState{identifier: meta.Identifier(), pathKey: meta.Path().Key()}
		}

		if err := checkLayout(meta, persisted); err != nil {
			return err
		}
		for _, col := range meta.FieldColumns()[len(persisted.fields):] {
			if err := addColumn(ctx, tx, meta.Identifier(), "f", col.Position, col.Name, col.Kind.Tag(), col.Identifier, sqlType(col.Kind)); err != nil {
				return err
			}
			res.ColumnsAdded++
		}
		for _, col := range meta.ScalarColumns()[len(persisted.scalars):] {
			if err := addColumn(ctx, tx, meta.Identifier(), "s", col.Position, "", col.Kind.Tag(), col.Identifier, sqlType(col.Kind)); err != nil {
				return err
			}
			res.ColumnsAdded++
		}
	}
	return nil
}

// checkLayout verifies that the persisted columns of a table are a prefix
// of the in-memory ones. A schema that is behind the catalog must be reloaded.
func checkLayout(meta *schema.TableMeta, persisted *tableState) error {
	fields, scalars := meta.FieldColumns(), meta.ScalarColumns()
	if len(persisted.fields) > len(fields) || len(persisted.scalars) > len(scalars) {
		return dkerrors.NewStorageError(dkerrors.CodeCorruptionDetected,
			fmt.Sprintf("store: schema of %s is behind the catalog", meta.Identifier()), nil)
	}
	for i, col := range persisted.fields {
		if fields[i].Identifier != col.column {
			return corruptCatalog("table %s: field position %d is %s in the catalog, %s in memory",
				meta.Identifier(), i, col.column, fields[i].Identifier)
		}
	}
	for i, col := range persisted.scalars {
		if scalars[i].Identifier != col.column {
			return corruptCatalog("table %s: scalar position %d is %s in the catalog, %s in memory",
				meta.Identifier(), i, col.column, scalars[i].Identifier)
		}
	}
	return nil
}

// checkIdentifierFree fails when another collection already owns ident.
func checkIdentifierFree(ctx context.Context, tx *sql.Tx, ident, collection string, path *schema.PathRef) error {
	var owner, ownerPath string
	err := tx.QueryRowContext(ctx,
		"SELECT collection, path_key FROM _docrel_tables WHERE identifier = ?", ident).Scan(&owner, &ownerPath)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return queryError("check identifier "+ident, err)
	}
	existing := fmt.Sprintf("collection %q path %q", owner, ownerPath)
	return dkerrors.NewCollisionError(ident, existing, fmt.Sprintf("collection %q path %s", collection, path))
}

func addColumn(ctx context.Context, tx *sql.Tx, table, role string, position int, name string, tag byte, column, typ string) error {
	ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(column), typ)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return writeError("add column "+table+"."+column, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO _docrel_columns (table_identifier, role, position, name, kind, column_name)
		VALUES (?, ?, ?, ?, ?, ?)`,
		table, role, position, name, string(tag), column); err != nil {
		return writeError("register column "+table+"."+column, err)
	}
	return nil
}

func createTableDDL(ident string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
    rid INTEGER PRIMARY KEY,
    did INTEGER NOT NULL,
    pid INTEGER,
    seq INTEGER
)`, quoteIdent(ident))
}

func indexDDL(ident string) []string {
	return []string{
		fmt.Sprintf("CREATE INDEX %s ON %s(did)", quoteIdent("idx_"+ident+"_did"), quoteIdent(ident)),
		fmt.Sprintf("CREATE INDEX %s ON %s(pid, seq)", quoteIdent("idx_"+ident+"_pid"), quoteIdent(ident)),
	}
}

// insertRows bulk inserts the rows of t through one prepared statement
// naming every column the table currently has.
func insertRows(ctx context.Context, tx *sql.Tx, t *batch.Table) error {
	if t.Len() == 0 {
		return nil
	}
	fields := t.FieldColumns()
	scalars := t.ScalarColumns()

	names := []string{"rid", "did", "pid", "seq"}
	for _, c := range fields {
		names = append(names, quoteIdent(c.Identifier))
	}
	for _, c := range scalars {
		names = append(names, quoteIdent(c.Identifier))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Meta().Identifier()), strings.Join(names, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return writeError("prepare insert into "+t.Meta().Identifier(), err)
	}
	defer stmt.Close()

	args := make([]any, len(names))
	for _, r := range t.Rows() {
		args[0], args[1], args[2], args[3] = r.RID, r.DID, r.PID, r.Seq
		for i, c := range fields {
			v, err := toSQL(c.Kind, r.Field(c.Position))
			if err != nil {
				return dkerrors.NewStorageError(dkerrors.CodeWriteFailed, "store: "+t.Meta().Identifier()+"."+c.Identifier, err)
			}
			args[4+i] = v
		}
		for i, c := range scalars {
			v, err := toSQL(c.Kind, r.Scalar(c.Position))
			if err != nil {
				return dkerrors.NewStorageError(dkerrors.CodeWriteFailed, "store: "+t.Meta().Identifier()+"."+c.Identifier, err)
			}
			args[4+len(fields)+i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return writeError(fmt.Sprintf("insert row %d into %s", r.RID, t.Meta().Identifier()), err)
		}
	}
	return nil
}
