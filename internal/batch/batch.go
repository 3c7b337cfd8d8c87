// Package batch accumulates the rows emitted by one translation run, grouped
// into tables that mirror the path tree.
package batch

import (
	"database/sql"
	"fmt"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/google/uuid"
)

// Row is one emitted tuple. Fields and Scalars are positional vectors
// aligned to the table's column order; they only grow as far as the
// highest position written.
type Row struct {
	DID     int64
	RID     int64
	PID     sql.NullInt64
	Seq     sql.NullInt32
	Fields  []any
	Scalars []any
}

// SetField stores v at field position pos, growing the vector as needed.
func (r *Row) SetField(pos int, v any) {
	for len(r.Fields) <= pos {
		r.Fields = append(r.Fields, nil)
	}
	r.Fields[pos] = v
}

// SetScalar stores v at scalar position pos, growing the vector as needed.
func (r *Row) SetScalar(pos int, v any) {
	for len(r.Scalars) <= pos {
		r.Scalars = append(r.Scalars, nil)
	}
	r.Scalars[pos] = v
}

// Field returns the value at pos, or nil if the row does not reach pos.
func (r *Row) Field(pos int) any {
	if pos < len(r.Fields) {
		return r.Fields[pos]
	}
	return nil
}

// Scalar returns the scalar value at pos, or nil.
func (r *Row) Scalar(pos int) any {
	if pos < len(r.Scalars) {
		return r.Scalars[pos]
	}
	return nil
}

// Table is the append-only row list of one TableMeta within a batch.
type Table struct {
	meta     *schema.TableMeta
	parent   *Table
	children []*Table
	rows     []*Row
}

// Meta returns the table's schema metadata.
func (t *Table) Meta() *schema.TableMeta { return t.meta }

// Parent returns the table of the enclosing path, nil for the root table.
func (t *Table) Parent() *Table { return t.parent }

// Children returns the tables of paths directly below this one.
func (t *Table) Children() []*Table { return t.children }

// Rows returns the rows in append order.
func (t *Table) Rows() []*Row { return t.rows }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// FieldColumns returns the table's current field column order.
func (t *Table) FieldColumns() []*schema.FieldColumn { return t.meta.FieldColumns() }

// ScalarColumns returns the table's current scalar column order.
func (t *Table) ScalarColumns() []*schema.ScalarColumn { return t.meta.ScalarColumns() }

// CollectionBatch holds every table touched by one translation run, root first.
type CollectionBatch struct {
	id         string
	collection string
	tables     []*Table
	byPath     map[string]*Table
	documents  int
}

// New creates an empty batch for collection.
func New(collection string) *CollectionBatch {
	return &CollectionBatch{
		id:         uuid.New().String(),
		collection: collection,
		byPath:     make(map[string]*Table),
	}
}

// ID identifies the batch in logs and journal entries.
func (b *CollectionBatch) ID() string { return b.id }

// Collection returns the collection name.
func (b *CollectionBatch) Collection() string { return b.collection }

// Tables returns the tables in root-first order: a table is always listed
// after the table of its parent path.
func (b *CollectionBatch) Tables() []*Table { return b.tables }

// Root returns the root table, or nil if the batch is empty.
func (b *CollectionBatch) Root() *Table {
	if len(b.tables) == 0 {
		return nil
	}
	return b.tables[0]
}

// Lookup returns the batch table for path.
func (b *CollectionBatch) Lookup(path *schema.PathRef) (*Table, bool) {
	t, ok := b.byPath[path.Key()]
	return t, ok
}

// Documents returns the number of root rows appended.
func (b *CollectionBatch) Documents() int { return b.documents }

// RowCount returns the number of rows across all tables.
func (b *CollectionBatch) RowCount() int {
	n := 0
	for _, t := range b.tables {
		n += len(t.rows)
	}
	return n
}

// Empty reports whether no rows were appended.
func (b *CollectionBatch) Empty() bool { return b.documents == 0 }

// Append adds row to the table of meta. The parent path's table must
// already be present unless meta is the root table.
func (b *CollectionBatch) Append(meta *schema.TableMeta, row *Row) error {
	t, err := b.table(meta)
	if err != nil {
		return err
	}
	t.rows = append(t.rows, row)
	if meta.Path().IsRoot() {
		b.documents++
	}
	return nil
}

func (b *CollectionBatch) table(meta *schema.TableMeta) (*Table, error) {
	if t, ok := b.byPath[meta.Path().Key()]; ok {
		return t, nil
	}
	t := &Table{meta: meta}
	if !meta.Path().IsRoot() {
		parent, ok := b.byPath[meta.Path().Parent().Key()]
		if !ok {
			return nil, dkerrors.NewContractError("table %s appended before its parent", meta.Identifier())
		}
		t.parent = parent
		parent.children = append(parent.children, t)
	} else if len(b.tables) > 0 {
		return nil, dkerrors.NewContractError("root table %s appended after child tables", meta.Identifier())
	}
	b.tables = append(b.tables, t)
	b.byPath[meta.Path().Key()] = t
	return t, nil
}

// Validate checks the linkage invariants: every non-root row's pid names a
// row of the parent table and shares that row's did; every root row is its
// own document.
func (b *CollectionBatch) Validate() error {
	for _, t := range b.tables {
		if t.parent == nil {
			for _, r := range t.rows {
				if r.PID.Valid || r.DID != r.RID {
					return dkerrors.NewContractError("root row %d of %s: pid=%v did=%d", r.RID, t.meta.Identifier(), r.PID, r.DID)
				}
			}
			continue
		}
		parents := make(map[int64]*Row, len(t.parent.rows))
		for _, r := range t.parent.rows {
			parents[r.RID] = r
		}
		for _, r := range t.rows {
			if !r.PID.Valid {
				return dkerrors.NewContractError("row %d of %s has no parent", r.RID, t.meta.Identifier())
			}
			p, ok := parents[r.PID.Int64]
			if !ok {
				return dkerrors.NewContractError("row %d of %s: pid %d not in %s", r.RID, t.meta.Identifier(), r.PID.Int64, t.parent.meta.Identifier())
			}
			if p.DID != r.DID {
				return dkerrors.NewContractError("row %d of %s: did %d differs from parent did %d", r.RID, t.meta.Identifier(), r.DID, p.DID)
			}
		}
	}
	return nil
}

// String summarizes the batch for logs.
func (b *CollectionBatch) String() string {
	return fmt.Sprintf("batch %s: %d documents, %d tables, %d rows", b.id, b.documents, len(b.tables), b.RowCount())
}
