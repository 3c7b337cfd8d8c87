package batch

import (
	"database/sql"
	"sort"

	"github.com/arkilian/docrel/internal/r2d"
	"github.com/arkilian/docrel/internal/schema"
)

// Streams exposes the batch as depth-ordered row streams for reassembly.
// Rows that predate a column report nil for it.
func (b *CollectionBatch) Streams() []r2d.RowStream {
	tables := make([]*Table, len(b.tables))
	copy(tables, b.tables)
	sort.SliceStable(tables, func(i, j int) bool {
		return tables[i].meta.Depth() < tables[j].meta.Depth()
	})
	out := make([]r2d.RowStream, len(tables))
	for i, t := range tables {
		out[i] = &tableStream{table: t, pos: -1}
	}
	return out
}

type tableStream struct {
	table *Table
	pos   int
}

func (s *tableStream) Table() *schema.TableMeta { return s.table.meta }

func (s *tableStream) Next() bool {
	if s.pos+1 >= len(s.table.rows) {
		s.pos = len(s.table.rows)
		return false
	}
	s.pos++
	return true
}

func (s *tableStream) Row() r2d.RowReader { return rowReader{s.table.rows[s.pos]} }

func (s *tableStream) Err() error { return nil }

func (s *tableStream) Close() error { return nil }

type rowReader struct {
	row *Row
}

func (r rowReader) DID() int64         { return r.row.DID }
func (r rowReader) RID() int64         { return r.row.RID }
func (r rowReader) PID() sql.NullInt64 { return r.row.PID }
func (r rowReader) Seq() sql.NullInt32 { return r.row.Seq }
func (r rowReader) Field(pos int) any  { return r.row.Field(pos) }
func (r rowReader) Scalar(pos int) any { return r.row.Scalar(pos) }
