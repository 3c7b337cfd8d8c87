package r2d

import (
	"fmt"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/arkilian/docrel/pkg/types"
)

// Result holds reassembled documents keyed by did, in root stream order.
type Result struct {
	docs  map[int64]*types.Document
	order []int64
}

// Len returns the number of documents.
func (r *Result) Len() int { return len(r.order) }

// DIDs returns the document ids in the order their root rows were read.
func (r *Result) DIDs() []int64 { return r.order }

// Get returns the document with root row did.
func (r *Result) Get(did int64) (*types.Document, bool) {
	d, ok := r.docs[did]
	return d, ok
}

// Documents returns the documents in root row order.
func (r *Result) Documents() []*types.Document {
	out := make([]*types.Document, len(r.order))
	for i, did := range r.order {
		out[i] = r.docs[did]
	}
	return out
}

// bufKey addresses the contribution of the rows of one path hanging off one
// parent row.
type bufKey struct {
	path string
	pid  int64
}

// snapshot is a row copied out of its stream, so cursors may reuse readers.
type snapshot struct {
	did     int64
	rid     int64
	pid     int64
	hasPID  bool
	seq     int32
	hasSeq  bool
	fields  []any
	scalars []any
}

type level struct {
	table *schema.TableMeta
	rows  []snapshot
}

// Translator rebuilds documents from per-table row streams. A Translator
// holds no state between calls but a single call is not safe for
// concurrent use of the same streams.
type Translator struct{}

// NewTranslator returns a reassembly translator.
func NewTranslator() *Translator { return &Translator{} }

// Translate drains streams, which must be ordered by ascending table depth,
// and reassembles every document whose root row they contain. Every stream
// is closed before Translate returns.
//
// Keys of a rebuilt object follow the column order of its table, which is
// the order in which the collection first saw each field name at that path.
// A document written with a different key order than earlier ones comes
// back in the collection's order.
func (t *Translator) Translate(streams []RowStream) (*Result, error) {
	defer func() {
		for _, s := range streams {
			s.Close()
		}
	}()

	levels, err := drain(streams)
	if err != nil {
		return nil, err
	}

	b := &builder{
		docs:   make(map[bufKey]*types.Document),
		arrays: make(map[bufKey][]any),
		filled: make(map[bufKey]map[int32]bool),
	}
	result := &Result{docs: make(map[int64]*types.Document)}

	for i := len(levels) - 1; i >= 0; i-- {
		for _, lv := range levels[i] {
			if err := b.consume(lv, result); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// drain reads every stream to exhaustion and groups the tables by depth.
func drain(streams []RowStream) ([][]level, error) {
	var levels [][]level
	prevDepth := 0
	for i, s := range streams {
		meta := s.Table()
		depth := meta.Depth()
		if i > 0 && depth < prevDepth {
			return nil, dkerrors.NewStructureError(dkerrors.CodeStreamOrder,
				fmt.Sprintf("stream %s at depth %d follows depth %d", meta.Identifier(), depth, prevDepth), nil)
		}
		prevDepth = depth

		nf, ns := meta.FieldCount(), meta.ScalarCount()
		lv := level{table: meta}
		for s.Next() {
			r := s.Row()
			snap := snapshot{
				did:     r.DID(),
				rid:     r.RID(),
				fields:  make([]any, nf),
				scalars: make([]any, ns),
			}
			if pid := r.PID(); pid.Valid {
				snap.pid, snap.hasPID = pid.Int64, true
			}
			if seq := r.Seq(); seq.Valid {
				snap.seq, snap.hasSeq = seq.Int32, true
			}
			for p := 0; p < nf; p++ {
				snap.fields[p] = r.Field(p)
			}
			for p := 0; p < ns; p++ {
				snap.scalars[p] = r.Scalar(p)
			}
			lv.rows = append(lv.rows, snap)
		}
		if err := s.Err(); err != nil {
			return nil, dkerrors.NewStorageError(dkerrors.CodeQueryFailed,
				fmt.Sprintf("reading %s", meta.Identifier()), err)
		}
		if err := s.Close(); err != nil {
			return nil, dkerrors.NewStorageError(dkerrors.CodeQueryFailed,
				fmt.Sprintf("closing %s", meta.Identifier()), err)
		}

		for len(levels) <= depth {
			levels = append(levels, nil)
		}
		levels[depth] = append(levels[depth], lv)
	}
	return levels, nil
}

type builder struct {
	docs   map[bufKey]*types.Document
	arrays map[bufKey][]any
	filled map[bufKey]map[int32]bool
}

func (b *builder) consume(lv level, result *Result) error {
	path := lv.table.Path()
	fields := groupFields(lv.table.FieldColumns())
	scalars := lv.table.ScalarColumns()

	for _, row := range lv.rows {
		if path.IsRoot() {
			if row.hasPID || row.did != row.rid {
				return dkerrors.NewContractError("root row %d of %s has pid or foreign did %d", row.rid, lv.table.Identifier(), row.did)
			}
			doc, err := b.document(path, fields, row)
			if err != nil {
				return err
			}
			if _, dup := result.docs[row.did]; dup {
				return dkerrors.NewContractError("duplicate root row %d", row.did)
			}
			result.docs[row.did] = doc
			result.order = append(result.order, row.did)
			continue
		}

		if !row.hasPID {
			return dkerrors.NewContractError("row %d of %s has no parent", row.rid, lv.table.Identifier())
		}
		key := bufKey{path: path.Key(), pid: row.pid}

		if !row.hasSeq {
			doc, err := b.document(path, fields, row)
			if err != nil {
				return err
			}
			if _, dup := b.docs[key]; dup {
				return dkerrors.NewContractError("second subdocument for %s under row %d", path, row.pid)
			}
			b.docs[key] = doc
			continue
		}

		elem, err := b.element(path, fields, scalars, row)
		if err != nil {
			return err
		}
		if err := b.place(key, row.seq, elem); err != nil {
			return err
		}
	}
	return nil
}

// fieldGroup is every column of one field name, in table order.
type fieldGroup struct {
	name string
	cols []*schema.FieldColumn
}

// groupFields orders field names by their first column, so a field whose
// kind changed between documents keeps its place.
func groupFields(cols []*schema.FieldColumn) []fieldGroup {
	var groups []fieldGroup
	index := make(map[string]int)
	for _, col := range cols {
		i, ok := index[col.Name]
		if !ok {
			i = len(groups)
			index[col.Name] = i
			groups = append(groups, fieldGroup{name: col.Name})
		}
		groups[i].cols = append(groups[i].cols, col)
	}
	return groups
}

// document builds the object stored in row, walking field names in table
// order and skipping columns the row does not populate.
func (b *builder) document(path *schema.PathRef, groups []fieldGroup, row snapshot) (*types.Document, error) {
	doc := types.NewDocument()
	for _, g := range groups {
		var (
			col *schema.FieldColumn
			v   any
		)
		for _, c := range g.cols {
			if fv := row.fields[c.Position]; fv != nil {
				col, v = c, fv
				break
			}
		}
		if col == nil {
			continue
		}
		switch col.Kind {
		case types.KindNull:
			doc.Set(col.Name, nil)
		case types.KindChild:
			child, err := b.child(path.Field(col.Name), row.rid, v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", col.Name, err)
			}
			doc.Set(col.Name, child)
		default:
			doc.Set(col.Name, v)
		}
	}
	return doc, nil
}

// element builds the array element stored in row: the single populated
// scalar, or an object when no scalar is populated.
func (b *builder) element(path *schema.PathRef, fields []fieldGroup, cols []*schema.ScalarColumn, row snapshot) (any, error) {
	var (
		found *schema.ScalarColumn
		value any
	)
	for _, col := range cols {
		v := row.scalars[col.Position]
		if v == nil {
			continue
		}
		if found != nil {
			return nil, dkerrors.NewContractError("element row %d of %s holds both %s and %s",
				row.rid, path, found.Identifier, col.Identifier)
		}
		found, value = col, v
	}
	if found == nil {
		return b.document(path, fields, row)
	}

	switch found.Kind {
	case types.KindNull:
		return nil, nil
	case types.KindChild:
		marker, ok := value.(bool)
		if !ok || !marker {
			return nil, dkerrors.NewContractError("element row %d of %s: nested array marker %v", row.rid, path, value)
		}
		return b.child(path.NextDimension(), row.rid, true)
	default:
		return value, nil
	}
}

// child resolves a CHILD marker: true selects the array buffered under
// (path, rid), false the subdocument. Absent contributions resolve to an
// empty array.
func (b *builder) child(path *schema.PathRef, rid int64, marker any) (any, error) {
	isArray, ok := marker.(bool)
	if !ok {
		return nil, dkerrors.NewContractError("child marker at %s is %T, not bool", path, marker)
	}
	key := bufKey{path: path.Key(), pid: rid}
	if isArray {
		elems, ok := b.arrays[key]
		if !ok {
			return types.Array{}, nil
		}
		delete(b.arrays, key)
		delete(b.filled, key)
		return types.Array(elems), nil
	}
	doc, ok := b.docs[key]
	if !ok {
		return types.Array{}, nil
	}
	delete(b.docs, key)
	return doc, nil
}

// place stores elem at position seq of the buffered array, null-padding gaps.
func (b *builder) place(key bufKey, seq int32, elem any) error {
	if seq < 0 {
		return dkerrors.NewContractError("negative seq %d under row %d", seq, key.pid)
	}
	seen := b.filled[key]
	if seen == nil {
		seen = make(map[int32]bool)
		b.filled[key] = seen
	}
	if seen[seq] {
		return dkerrors.NewContractError("duplicate seq %d under row %d", seq, key.pid)
	}
	seen[seq] = true

	elems := b.arrays[key]
	for int32(len(elems)) <= seq {
		elems = append(elems, nil)
	}
	elems[seq] = elem
	b.arrays[key] = elems
	return nil
}
