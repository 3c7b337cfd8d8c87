// Package d2r decomposes documents into rows spread over one table per
// structural path, growing the schema as new paths and value kinds appear.
package d2r

import (
	"database/sql"
	"fmt"

	"github.com/arkilian/docrel/internal/batch"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/arkilian/docrel/pkg/types"
)

// SchemaHandle resolves tables and columns, creating them on first use.
type SchemaHandle interface {
	Table(path *schema.PathRef) (*schema.TableMeta, error)
	Field(t *schema.TableMeta, name string, kind types.Kind) (*schema.FieldColumn, error)
	Scalar(t *schema.TableMeta, kind types.Kind) (*schema.ScalarColumn, error)
}

// RidSource allocates row ids per table path.
type RidSource interface {
	NextRid(path *schema.PathRef) int64
}

// NullMarker is stored in a null-kind column to record a present null value,
// distinguishing it from a column the row never wrote.
const NullMarker = true

// Translator walks documents depth-first in key order and appends their rows
// to one CollectionBatch. A Translator is confined to one goroutine; after
// Translate returns an error its batch must be discarded.
type Translator struct {
	schema SchemaHandle
	rids   RidSource
	batch  *batch.CollectionBatch
	stack  Stack
}

// NewTranslator creates a translator emitting into a fresh batch for collection.
func NewTranslator(collection string, sch SchemaHandle, rids RidSource) *Translator {
	return &Translator{
		schema: sch,
		rids:   rids,
		batch:  batch.New(collection),
	}
}

// ForSchema creates a translator backed by s and its row-id source.
func ForSchema(s *schema.Schema) *Translator {
	return NewTranslator(s.Collection(), s, s.Rids())
}

// Batch returns the rows of every Translate call so far, root table first.
func (t *Translator) Batch() *batch.CollectionBatch {
	return t.batch
}

// Translate decomposes doc and returns the rid of its root row, which is
// also the did of every row it produced. Documents nesting deeper than
// types.MaxDepth are rejected before any row or table is created.
func (t *Translator) Translate(doc *types.Document) (int64, error) {
	if doc == nil {
		return 0, dkerrors.NewValidationError(dkerrors.CodeInvalidDocument, "nil document")
	}
	if err := types.CheckDepth(doc); err != nil {
		return 0, dkerrors.Wrap(dkerrors.ErrCategoryValidation, dkerrors.CodeInvalidDocument, "document rejected", err)
	}
	t.stack.Reset()

	meta, row, err := t.newRow(schema.Root(), nil, sql.NullInt32{})
	if err != nil {
		return 0, err
	}
	if err := t.stack.PushObject(row); err != nil {
		return 0, err
	}
	if err := t.writeDocument(meta, row, doc); err != nil {
		return 0, err
	}
	if err := t.stack.Pop(); err != nil {
		return 0, err
	}
	if t.stack.Len() != 0 {
		return 0, dkerrors.NewContractError("traversal stack not empty after document (%d frames)", t.stack.Len())
	}
	return row.DID, nil
}

// TranslateAll translates docs in order and returns their dids.
func (t *Translator) TranslateAll(docs []*types.Document) ([]int64, error) {
	dids := make([]int64, 0, len(docs))
	for i, doc := range docs {
		did, err := t.Translate(doc)
		if err != nil {
			return nil, fmt.Errorf("d2r: document %d: %w", i, err)
		}
		dids = append(dids, did)
	}
	return dids, nil
}

// newRow allocates a row in the table of path. owner is the row the new
// one hangs off, nil for a root row.
func (t *Translator) newRow(path *schema.PathRef, owner *batch.Row, seq sql.NullInt32) (*schema.TableMeta, *batch.Row, error) {
	meta, err := t.schema.Table(path)
	if err != nil {
		return nil, nil, err
	}
	row := &batch.Row{RID: t.rids.NextRid(path), Seq: seq}
	if owner == nil {
		row.DID = row.RID
	} else {
		row.DID = owner.DID
		row.PID = sql.NullInt64{Int64: owner.RID, Valid: true}
	}
	if err := t.batch.Append(meta, row); err != nil {
		return nil, nil, err
	}
	return meta, row, nil
}

func (t *Translator) writeDocument(meta *schema.TableMeta, row *batch.Row, doc *types.Document) error {
	for _, key := range doc.Keys() {
		value, _ := doc.Get(key)
		if err := t.stack.PushField(key); err != nil {
			return err
		}
		if err := t.writeField(meta, row, key, value); err != nil {
			return err
		}
		if err := t.stack.Pop(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) writeField(meta *schema.TableMeta, row *batch.Row, name string, value any) error {
	kind, err := types.KindOf(value)
	if err != nil {
		return dkerrors.NewStructureError(dkerrors.CodeUnsupportedValue, fmt.Sprintf("field %q", name), err)
	}
	col, err := t.schema.Field(meta, name, kind)
	if err != nil {
		return err
	}

	switch v := value.(type) {
	case *types.Document:
		row.SetField(col.Position, false)
		path, err := t.stack.Path()
		if err != nil {
			return err
		}
		childMeta, child, err := t.newRow(path, row, sql.NullInt32{})
		if err != nil {
			return err
		}
		if err := t.stack.PushObject(child); err != nil {
			return err
		}
		if err := t.writeDocument(childMeta, child, v); err != nil {
			return err
		}
		return t.stack.Pop()
	case types.Array:
		row.SetField(col.Position, true)
		return t.writeArray(v)
	default:
		row.SetField(col.Position, storedValue(kind, value))
		return nil
	}
}

func (t *Translator) writeArray(arr types.Array) error {
	if err := t.stack.PushArray(); err != nil {
		return err
	}
	frame, err := t.stack.TopArray()
	if err != nil {
		return err
	}
	for i, elem := range arr {
		meta, row, err := t.newRow(frame.Path, frame.Owner, sql.NullInt32{Int32: int32(i), Valid: true})
		if err != nil {
			return err
		}
		if err := t.stack.PushArrayIdx(i, row); err != nil {
			return err
		}
		if err := t.writeElement(meta, row, elem); err != nil {
			return err
		}
		if err := t.stack.Pop(); err != nil {
			return err
		}
	}
	return t.stack.Pop()
}

func (t *Translator) writeElement(meta *schema.TableMeta, row *batch.Row, value any) error {
	kind, err := types.KindOf(value)
	if err != nil {
		idx, _ := t.stack.ArrayIndex()
		return dkerrors.NewStructureError(dkerrors.CodeUnsupportedValue, fmt.Sprintf("array element %d", idx), err)
	}

	switch v := value.(type) {
	case *types.Document:
		if err := t.stack.PushObject(row); err != nil {
			return err
		}
		if err := t.writeDocument(meta, row, v); err != nil {
			return err
		}
		return t.stack.Pop()
	case types.Array:
		col, err := t.schema.Scalar(meta, types.KindChild)
		if err != nil {
			return err
		}
		row.SetScalar(col.Position, true)
		return t.writeArray(v)
	default:
		col, err := t.schema.Scalar(meta, kind)
		if err != nil {
			return err
		}
		row.SetScalar(col.Position, storedValue(kind, value))
		return nil
	}
}

// storedValue maps a leaf to what its column holds; nulls become a presence marker.
func storedValue(kind types.Kind, value any) any {
	if kind == types.KindNull {
		return NullMarker
	}
	return value
}
