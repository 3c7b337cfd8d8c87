package schema

import (
	"encoding/binary"
	"sort"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
	"github.com/spaolacci/murmur3"
)

// Schema is the mutable table registry of one collection. Tables and
// columns are created lazily on first use and live as long as the schema.
//
// Schema is not safe for concurrent mutation; callers serialize
// schema-changing translations per collection. Its RidSource is safe for
// concurrent use.
type Schema struct {
	collection   string
	tables       map[string]*TableMeta
	byIdentifier map[string]*TableMeta
	ordered      []*TableMeta
	rids         *RidSource
}

// New creates an empty schema for collection.
func New(collection string) *Schema {
	return &Schema{
		collection:   collection,
		tables:       make(map[string]*TableMeta),
		byIdentifier: make(map[string]*TableMeta),
		rids:         NewRidSource(),
	}
}

// Collection returns the collection name.
func (s *Schema) Collection() string { return s.collection }

// Rids returns the collection's row-id source.
func (s *Schema) Rids() *RidSource { return s.rids }

// NextRid allocates a row id in the table of path.
func (s *Schema) NextRid(path *PathRef) int64 { return s.rids.NextRid(path) }

// Table returns the table of path, creating it (and any missing ancestor)
// on first use. Two paths deriving the same identifier is a fatal collision.
func (s *Schema) Table(path *PathRef) (*TableMeta, error) {
	if t, ok := s.tables[path.Key()]; ok {
		return t, nil
	}
	if !path.IsRoot() {
		if _, err := s.Table(path.Parent()); err != nil {
			return nil, err
		}
	}
	ident := TableIdentifier(s.collection, path)
	if other, ok := s.byIdentifier[ident]; ok {
		return nil, dkerrors.NewCollisionError(ident, "path "+other.path.String(), "path "+path.String())
	}
	t := newTableMeta(path, ident, s.rids.Counter(path))
	s.tables[path.Key()] = t
	s.byIdentifier[ident] = t
	s.ordered = append(s.ordered, t)
	return t, nil
}

// Field returns the column of (name, kind) in t, creating it on first use.
func (s *Schema) Field(t *TableMeta, name string, kind types.Kind) (*FieldColumn, error) {
	return t.field(name, kind)
}

// Scalar returns the scalar column of kind in t, creating it on first use.
func (s *Schema) Scalar(t *TableMeta, kind types.Kind) (*ScalarColumn, error) {
	return t.scalar(kind), nil
}

// Lookup returns the table of path without creating it.
func (s *Schema) Lookup(path *PathRef) (*TableMeta, bool) {
	t, ok := s.tables[path.Key()]
	return t, ok
}

// LookupIdentifier returns the table named ident.
func (s *Schema) LookupIdentifier(ident string) (*TableMeta, bool) {
	t, ok := s.byIdentifier[ident]
	return t, ok
}

// Tables returns every table in creation order; a parent always precedes
// its children.
func (s *Schema) Tables() []*TableMeta {
	out := make([]*TableMeta, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// TablesByDepth returns every table ordered by ascending path depth,
// creation order within one depth.
func (s *Schema) TablesByDepth() []*TableMeta {
	out := s.Tables()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Depth() < out[j].Depth()
	})
	return out
}

// Fingerprint hashes the table and column layout. Two schemas with the same
// tables and columns in the same order have the same fingerprint.
func (s *Schema) Fingerprint() uint64 {
	h := murmur3.New64()
	var pos [8]byte
	for _, t := range s.ordered {
		h.Write([]byte(t.identifier))
		h.Write([]byte{0})
		for _, c := range t.fields {
			binary.LittleEndian.PutUint64(pos[:], uint64(c.Position))
			h.Write(pos[:])
			h.Write([]byte(c.Name))
			h.Write([]byte{0, c.Kind.Tag()})
		}
		h.Write([]byte{1})
		for _, c := range t.scalars {
			h.Write([]byte{c.Kind.Tag()})
		}
		h.Write([]byte{2})
	}
	return h.Sum64()
}
