package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/arkilian/docrel/internal/schema"
)

// SchemaVersion is one registered layout of a collection.
type SchemaVersion struct {
	Version     int
	Fingerprint uint64
	Tables      int
	Columns     int
	CreatedAt   time.Time
}

// registerVersion records the layout of sch as a new version when its
// fingerprint differs from the latest one. It returns the current version.
func registerVersion(ctx context.Context, tx *sql.Tx, sch *schema.Schema) (int, bool, error) {
	var (
		version     int
		fingerprint int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT version, fingerprint FROM _docrel_schema_versions
		WHERE collection = ? ORDER BY version DESC LIMIT 1`, sch.Collection()).Scan(&version, &fingerprint)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, queryError("read schema version", err)
	}

	current := sch.Fingerprint()
	if err == nil && uint64(fingerprint) == current {
		return version, false, nil
	}

	tables, columns := 0, 0
	for _, t := range sch.Tables() {
		tables++
		columns += t.FieldCount() + t.ScalarCount()
	}
	version++
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO _docrel_schema_versions (collection, version, fingerprint, table_count, column_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sch.Collection(), version, int64(current), tables, columns, time.Now().Unix()); err != nil {
		return 0, false, writeError("register schema version", err)
	}
	return version, true, nil
}

// SchemaVersions lists the registered layouts of collection, oldest first.
func (s *Store) SchemaVersions(ctx context.Context, collection string) ([]SchemaVersion, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT version, fingerprint, table_count, column_count, created_at
		FROM _docrel_schema_versions WHERE collection = ? ORDER BY version ASC`, collection)
	if err != nil {
		return nil, queryError("list schema versions", err)
	}
	defer rows.Close()

	var out []SchemaVersion
	for rows.Next() {
		var (
			v         SchemaVersion
			fp        int64
			createdAt int64
		)
		if err := rows.Scan(&v.Version, &fp, &v.Tables, &v.Columns, &createdAt); err != nil {
			return nil, queryError("scan schema version", err)
		}
		v.Fingerprint = uint64(fp)
		v.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("list schema versions", err)
	}
	return out, nil
}
