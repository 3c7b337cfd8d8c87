package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/r2d"
	"github.com/arkilian/docrel/internal/schema"
)

// Streams returns one lazy cursor per persisted table of sch, ordered by
// ascending depth. A cursor opens its query on the first Next and closes it
// when exhausted, so draining the streams one after another holds at most
// one open query. A nil dids reads every document; otherwise only rows of
// the listed documents are returned.
func (s *Store) Streams(ctx context.Context, sch *schema.Schema, dids []int64) ([]r2d.RowStream, error) {
	if dids != nil && len(dids) == 0 {
		return nil, nil
	}
	state, err := loadState(ctx, s.readDB, sch.Collection())
	if err != nil {
		return nil, err
	}

	var streams []r2d.RowStream
	for _, meta := range sch.TablesByDepth() {
		persisted, ok := state.lookup(meta.Path().Key())
		if !ok {
			continue
		}
		if err := checkLayout(meta, persisted); err != nil {
			return nil, err
		}
		streams = append(streams, newSQLStream(ctx, s.readDB, meta,
			meta.FieldColumns()[:len(persisted.fields)],
			meta.ScalarColumns()[:len(persisted.scalars)],
			dids))
	}
	return streams, nil
}

type sqlStream struct {
	ctx     context.Context
	db      *sql.DB
	meta    *schema.TableMeta
	fields  []*schema.FieldColumn
	scalars []*schema.ScalarColumn
	query   string
	args    []any

	rows *sql.Rows
	dest []any
	raw  []any
	cur  *sqlRow
	done bool
	err  error
}

func newSQLStream(ctx context.Context, db *sql.DB, meta *schema.TableMeta, fields []*schema.FieldColumn, scalars []*schema.ScalarColumn, dids []int64) *sqlStream {
	cols := []string{"rid", "did", "pid", "seq"}
	for _, c := range fields {
		cols = append(cols, quoteIdent(c.Identifier))
	}
	for _, c := range scalars {
		cols = append(cols, quoteIdent(c.Identifier))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(meta.Identifier()))

	var args []any
	if dids != nil {
		query += " WHERE did IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(dids)), ", ") + ")"
		args = make([]any, len(dids))
		for i, d := range dids {
			args[i] = d
		}
	}
	query += " ORDER BY rid"

	return &sqlStream{
		ctx:     ctx,
		db:      db,
		meta:    meta,
		fields:  fields,
		scalars: scalars,
		query:   query,
		args:    args,
	}
}

func (s *sqlStream) Table() *schema.TableMeta { return s.meta }

func (s *sqlStream) Next() bool {
	if s.done {
		return false
	}
	if s.rows == nil {
		rows, err := s.db.QueryContext(s.ctx, s.query, s.args...)
		if err != nil {
			s.fail(queryError("read "+s.meta.Identifier(), err))
			return false
		}
		s.rows = rows
		s.raw = make([]any, len(s.fields)+len(s.scalars))
		s.dest = make([]any, 4+len(s.raw))
		for i := range s.raw {
			s.dest[4+i] = &s.raw[i]
		}
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			s.fail(queryError("read "+s.meta.Identifier(), err))
			return false
		}
		s.Close()
		return false
	}

	row := &sqlRow{
		fields:  make([]any, len(s.fields)),
		scalars: make([]any, len(s.scalars)),
	}
	s.dest[0], s.dest[1], s.dest[2], s.dest[3] = &row.rid, &row.did, &row.pid, &row.seq
	if err := s.rows.Scan(s.dest...); err != nil {
		s.fail(queryError("scan "+s.meta.Identifier(), err))
		return false
	}
	for i, c := range s.fields {
		v, err := fromSQL(c.Kind, s.raw[i])
		if err != nil {
			s.fail(dkerrors.NewStorageError(dkerrors.CodeCorruptionDetected, "store: "+s.meta.Identifier()+"."+c.Identifier, err))
			return false
		}
		row.fields[i] = v
	}
	for i, c := range s.scalars {
		v, err := fromSQL(c.Kind, s.raw[len(s.fields)+i])
		if err != nil {
			s.fail(dkerrors.NewStorageError(dkerrors.CodeCorruptionDetected, "store: "+s.meta.Identifier()+"."+c.Identifier, err))
			return false
		}
		row.scalars[i] = v
	}
	s.cur = row
	return true
}

func (s *sqlStream) fail(err error) {
	s.err = err
	s.Close()
}

func (s *sqlStream) Row() r2d.RowReader { return s.cur }

func (s *sqlStream) Err() error { return s.err }

// Close releases the cursor. It is safe to call more than once.
func (s *sqlStream) Close() error {
	s.done = true
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	return err
}

// sqlRow is one scanned row. Columns added after the stream was opened
// read as nil.
type sqlRow struct {
	rid, did int64
	pid      sql.NullInt64
	seq      sql.NullInt32
	fields   []any
	scalars  []any
}

func (r *sqlRow) DID() int64         { return r.did }
func (r *sqlRow) RID() int64         { return r.rid }
func (r *sqlRow) PID() sql.NullInt64 { return r.pid }
func (r *sqlRow) Seq() sql.NullInt32 { return r.seq }

func (r *sqlRow) Field(pos int) any {
	if pos < len(r.fields) {
		return r.fields[pos]
	}
	return nil
}

func (r *sqlRow) Scalar(pos int) any {
	if pos < len(r.scalars) {
		return r.scalars[pos]
	}
	return nil
}
