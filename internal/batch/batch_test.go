package batch

import (
	"database/sql"
	"testing"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/arkilian/docrel/pkg/types"
)

func tables(t *testing.T) (*schema.Schema, *schema.TableMeta, *schema.TableMeta) {
	t.Helper()
	s := schema.New("c")
	root, err := s.Table(schema.Root())
	if err != nil {
		t.Fatal(err)
	}
	child, err := s.Table(schema.Root().Field("a"))
	if err != nil {
		t.Fatal(err)
	}
	return s, root, child
}

func TestRow_GrowsLazily(t *testing.T) {
	var r Row
	r.SetField(2, "x")
	if len(r.Fields) != 3 || r.Field(0) != nil || r.Field(2) != "x" {
		t.Errorf("unexpected fields %v", r.Fields)
	}
	if r.Field(10) != nil || r.Scalar(0) != nil {
		t.Error("positions past the vector must read as nil")
	}
}

func TestAppend_ChildBeforeParent(t *testing.T) {
	_, _, child := tables(t)
	b := New("c")
	err := b.Append(child, &Row{RID: 0, PID: sql.NullInt64{Valid: true}})
	if dkerrors.GetCode(err) != dkerrors.CodeContractViolation {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestAppend_RootFirst(t *testing.T) {
	_, root, child := tables(t)
	b := New("c")
	if !b.Empty() || b.Root() != nil {
		t.Fatal("new batch must be empty")
	}
	mustAppend(t, b, root, &Row{DID: 0, RID: 0})
	mustAppend(t, b, child, &Row{DID: 0, RID: 0, PID: sql.NullInt64{Int64: 0, Valid: true}})
	mustAppend(t, b, root, &Row{DID: 1, RID: 1})

	if b.Documents() != 2 || b.RowCount() != 3 || len(b.Tables()) != 2 {
		t.Errorf("unexpected counts: %s", b)
	}
	if b.Root().Meta() != root || b.Tables()[1].Parent() != b.Root() {
		t.Error("unexpected table order or links")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rows []*Row
	}{
		{"dangling pid", []*Row{{DID: 0, RID: 5, PID: sql.NullInt64{Int64: 9, Valid: true}}}},
		{"foreign did", []*Row{{DID: 7, RID: 5, PID: sql.NullInt64{Int64: 0, Valid: true}}}},
		{"missing pid", []*Row{{DID: 0, RID: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, root, child := tables(t)
			b := New("c")
			mustAppend(t, b, root, &Row{DID: 0, RID: 0})
			for _, r := range tt.rows {
				mustAppend(t, b, child, r)
			}
			if err := b.Validate(); dkerrors.GetCode(err) != dkerrors.CodeContractViolation {
				t.Errorf("expected contract violation, got %v", err)
			}
		})
	}
}

func TestStreams_PadOnRead(t *testing.T) {
	s, root, child := tables(t)
	b := New("c")
	mustAppend(t, b, root, &Row{DID: 0, RID: 0, Fields: []any{int32(1)}})
	mustAppend(t, b, child, &Row{DID: 0, RID: 0, PID: sql.NullInt64{Valid: true}})
	if _, err := s.Field(root, "late", types.KindString); err != nil {
		t.Fatal(err)
	}

	streams := b.Streams()
	if len(streams) != 2 || streams[0].Table() != root || streams[1].Table() != child {
		t.Fatal("streams must follow depth order")
	}
	if !streams[0].Next() {
		t.Fatal("expected a root row")
	}
	r := streams[0].Row()
	if r.Field(0) != int32(1) || r.Field(1) != nil {
		t.Errorf("expected padded read, got %v %v", r.Field(0), r.Field(1))
	}
	if streams[0].Next() || streams[0].Err() != nil {
		t.Error("expected end of stream")
	}
}

func mustAppend(t *testing.T, b *CollectionBatch, meta *schema.TableMeta, r *Row) {
	t.Helper()
	if err := b.Append(meta, r); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}
