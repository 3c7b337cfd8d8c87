package d2r

import (
	"errors"
	"testing"

	"github.com/arkilian/docrel/internal/batch"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
)

var contractErr = dkerrors.New(dkerrors.ErrCategoryStructure, dkerrors.CodeContractViolation, "")

func TestStack_ContractViolations(t *testing.T) {
	t.Run("array at root", func(t *testing.T) {
		var s Stack
		if err := s.PushArray(); !errors.Is(err, contractErr) {
			t.Errorf("expected contract violation, got %v", err)
		}
	})
	t.Run("index outside array", func(t *testing.T) {
		var s Stack
		s.PushObject(&batch.Row{})
		if err := s.PushArrayIdx(0, &batch.Row{}); !errors.Is(err, contractErr) {
			t.Errorf("expected contract violation, got %v", err)
		}
	})
	t.Run("field outside object", func(t *testing.T) {
		var s Stack
		s.PushObject(&batch.Row{})
		s.PushField("a")
		if err := s.PushField("b"); !errors.Is(err, contractErr) {
			t.Errorf("expected contract violation, got %v", err)
		}
	})
	t.Run("pop empty", func(t *testing.T) {
		var s Stack
		if err := s.Pop(); !errors.Is(err, contractErr) {
			t.Errorf("expected contract violation, got %v", err)
		}
	})
	t.Run("object below object", func(t *testing.T) {
		var s Stack
		s.PushObject(&batch.Row{})
		if err := s.PushObject(&batch.Row{}); !errors.Is(err, contractErr) {
			t.Errorf("expected contract violation, got %v", err)
		}
	})
}

func TestStack_ArrayDimensions(t *testing.T) {
	var s Stack
	rootRow := &batch.Row{RID: 1}
	mustNoErr(t, s.PushObject(rootRow))
	mustNoErr(t, s.PushField("m"))

	fieldPath, _ := s.Path()
	if !fieldPath.Equal(schema.Root().Field("m")) {
		t.Fatalf("unexpected field path %s", fieldPath)
	}

	mustNoErr(t, s.PushArray())
	outer, err := s.TopArray()
	mustNoErr(t, err)
	if outer.Dimension != 1 || !outer.Path.Equal(fieldPath) || outer.Owner != rootRow {
		t.Errorf("dimension 1 array must share the field's path and hang off the object row: %+v", outer)
	}

	elemRow := &batch.Row{RID: 2}
	mustNoErr(t, s.PushArrayIdx(0, elemRow))
	if p, _ := s.Path(); !p.Equal(fieldPath) {
		t.Errorf("elements of a dimension 1 array live in the field's table, got %s", p)
	}
	if idx, ok := s.ArrayIndex(); !ok || idx != 0 {
		t.Errorf("expected array index 0, got %d %v", idx, ok)
	}

	mustNoErr(t, s.PushArray())
	inner, err := s.TopArray()
	mustNoErr(t, err)
	if inner.Dimension != 2 || !inner.Path.Equal(fieldPath.Dimension(2)) || inner.Owner != elemRow {
		t.Errorf("nested array must get dimension 2 path owned by the element row: %+v", inner)
	}

	for s.Len() > 0 {
		mustNoErr(t, s.Pop())
	}
	if s.Peek() != nil {
		t.Error("expected empty stack")
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
