package schema

import (
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
)

// FieldColumn stores the values of one named field at one concrete kind.
type FieldColumn struct {
	Name       string
	Kind       types.Kind
	Identifier string
	// Position is the column's index in the table's field vector.
	Position int
}

// ScalarColumn stores array element values of one kind.
type ScalarColumn struct {
	Kind       types.Kind
	Identifier string
	Position   int
}

type fieldKey struct {
	name string
	kind types.Kind
}

// TableMeta describes the physical table of one path.
// Columns are kept in first-seen order and are never removed.
type TableMeta struct {
	path       *PathRef
	identifier string

	fields      []*FieldColumn
	fieldIndex  map[fieldKey]*FieldColumn
	fieldIdents map[string]*FieldColumn

	scalars     []*ScalarColumn
	scalarIndex map[types.Kind]*ScalarColumn

	rid *RidCounter
}

func newTableMeta(path *PathRef, identifier string, rid *RidCounter) *TableMeta {
	return &TableMeta{
		path:        path,
		identifier:  identifier,
		fieldIndex:  make(map[fieldKey]*FieldColumn),
		fieldIdents: make(map[string]*FieldColumn),
		scalarIndex: make(map[types.Kind]*ScalarColumn),
		rid:         rid,
	}
}

// Path returns the structural path the table stores.
func (t *TableMeta) Path() *PathRef { return t.path }

// Identifier returns the SQL table name.
func (t *TableMeta) Identifier() string { return t.identifier }

// Depth is the depth of the table's path.
func (t *TableMeta) Depth() int { return t.path.Depth() }

// Rid returns the table's row-id counter.
func (t *TableMeta) Rid() *RidCounter { return t.rid }

// FieldColumns returns the field columns in position order.
// The returned slice must not be modified.
func (t *TableMeta) FieldColumns() []*FieldColumn { return t.fields[:len(t.fields):len(t.fields)] }

// ScalarColumns returns the scalar columns in position order.
func (t *TableMeta) ScalarColumns() []*ScalarColumn {
	return t.scalars[:len(t.scalars):len(t.scalars)]
}

// FieldCount returns the number of field columns.
func (t *TableMeta) FieldCount() int { return len(t.fields) }

// ScalarCount returns the number of scalar columns.
func (t *TableMeta) ScalarCount() int { return len(t.scalars) }

// LookupField returns the column for (name, kind) if it exists.
func (t *TableMeta) LookupField(name string, kind types.Kind) (*FieldColumn, bool) {
	c, ok := t.fieldIndex[fieldKey{name, kind}]
	return c, ok
}

// LookupScalar returns the scalar column of kind if it exists.
func (t *TableMeta) LookupScalar(kind types.Kind) (*ScalarColumn, bool) {
	c, ok := t.scalarIndex[kind]
	return c, ok
}

// HasFieldNamed reports whether any column stores field name, at any kind.
func (t *TableMeta) HasFieldNamed(name string) bool {
	for _, c := range t.fields {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (t *TableMeta) field(name string, kind types.Kind) (*FieldColumn, error) {
	if c, ok := t.fieldIndex[fieldKey{name, kind}]; ok {
		return c, nil
	}
	ident := FieldIdentifier(name, kind)
	if other, ok := t.fieldIdents[ident]; ok {
		return nil, dkerrors.NewCollisionError(ident,
			"field "+quote(other.Name)+"/"+other.Kind.String()+" in "+t.identifier,
			"field "+quote(name)+"/"+kind.String())
	}
	c := &FieldColumn{
		Name:       name,
		Kind:       kind,
		Identifier: ident,
		Position:   len(t.fields),
	}
	t.fields = append(t.fields, c)
	t.fieldIndex[fieldKey{name, kind}] = c
	t.fieldIdents[ident] = c
	return c, nil
}

func (t *TableMeta) scalar(kind types.Kind) *ScalarColumn {
	if c, ok := t.scalarIndex[kind]; ok {
		return c
	}
	c := &ScalarColumn{
		Kind:       kind,
		Identifier: ScalarIdentifier(kind),
		Position:   len(t.scalars),
	}
	t.scalars = append(t.scalars, c)
	t.scalarIndex[kind] = c
	return c
}

func quote(s string) string {
	return "\"" + s + "\""
}
