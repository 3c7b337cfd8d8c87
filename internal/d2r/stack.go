package d2r

import (
	"github.com/arkilian/docrel/internal/batch"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/schema"
)

// Frame is one node of the traversal stack. Each variant carries only its
// own state; the operations below switch over the concrete type.
type Frame interface {
	isFrame()
}

// FieldFrame is a named key of the enclosing object.
type FieldFrame struct {
	Name string
	Path *schema.PathRef
}

// ObjectFrame is an entered (sub)document and the row being filled.
type ObjectFrame struct {
	Path *schema.PathRef
	Row  *batch.Row
}

// ArrayFrame is an entered array. Its elements go to the table of path and
// name owner as their parent row.
type ArrayFrame struct {
	Path      *schema.PathRef
	Dimension int
	Owner     *batch.Row
}

// IdxFrame is one position of the enclosing array with the row emitted for it.
type IdxFrame struct {
	Index int
	Row   *batch.Row
}

func (FieldFrame) isFrame()  {}
func (ObjectFrame) isFrame() {}
func (ArrayFrame) isFrame()  {}
func (IdxFrame) isFrame()    {}

// Stack mirrors the shape of the document being walked. It is not safe
// for concurrent use.
type Stack struct {
	frames []Frame
}

// Len returns the number of frames.
func (s *Stack) Len() int { return len(s.frames) }

// Reset empties the stack, keeping its capacity.
func (s *Stack) Reset() { s.frames = s.frames[:0] }

// Peek returns the top frame, or nil for an empty stack.
func (s *Stack) Peek() Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Pop removes the top frame.
func (s *Stack) Pop() error {
	if len(s.frames) == 0 {
		return dkerrors.NewContractError("pop on empty traversal stack")
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// Path returns the path a row created at the current position belongs to:
// the root for an empty stack, the field's path below a field, and the
// array's path below an array position.
func (s *Stack) Path() (*schema.PathRef, error) {
	switch top := s.Peek().(type) {
	case nil:
		return schema.Root(), nil
	case FieldFrame:
		return top.Path, nil
	case IdxFrame:
		arr, err := s.enclosingArray()
		if err != nil {
			return nil, err
		}
		return arr.Path, nil
	default:
		return nil, dkerrors.NewContractError("no row position below %T", top)
	}
}

// ArrayIndex returns the index of the innermost array position, if the
// top frame is one.
func (s *Stack) ArrayIndex() (int, bool) {
	if top, ok := s.Peek().(IdxFrame); ok {
		return top.Index, true
	}
	return 0, false
}

// PushField enters key name of the object on top.
func (s *Stack) PushField(name string) error {
	obj, ok := s.Peek().(ObjectFrame)
	if !ok {
		return dkerrors.NewContractError("field %q pushed outside an object (top is %T)", name, s.Peek())
	}
	s.frames = append(s.frames, FieldFrame{Name: name, Path: obj.Path.Field(name)})
	return nil
}

// PushObject enters a (sub)document whose values fill row. Documents start
// at the root, below a field, or below an array position.
func (s *Stack) PushObject(row *batch.Row) error {
	path, err := s.Path()
	if err != nil {
		return err
	}
	s.frames = append(s.frames, ObjectFrame{Path: path, Row: row})
	return nil
}

// PushArray enters an array. Below a field the array has dimension 1 and
// shares the field's table; below an array position it is one dimension
// deeper and gets its own path.
func (s *Stack) PushArray() error {
	switch top := s.Peek().(type) {
	case nil:
		return dkerrors.NewContractError("array pushed at document root")
	case FieldFrame:
		owner, err := s.owningRow()
		if err != nil {
			return err
		}
		s.frames = append(s.frames, ArrayFrame{Path: top.Path, Dimension: 1, Owner: owner})
		return nil
	case IdxFrame:
		outer, err := s.enclosingArray()
		if err != nil {
			return err
		}
		s.frames = append(s.frames, ArrayFrame{
			Path:      outer.Path.NextDimension(),
			Dimension: outer.Dimension + 1,
			Owner:     top.Row,
		})
		return nil
	default:
		return dkerrors.NewContractError("array pushed below %T", top)
	}
}

// PushArrayIdx enters position i of the array on top; row is the row
// emitted for the element.
func (s *Stack) PushArrayIdx(i int, row *batch.Row) error {
	if _, ok := s.Peek().(ArrayFrame); !ok {
		return dkerrors.NewContractError("array index %d pushed outside an array (top is %T)", i, s.Peek())
	}
	s.frames = append(s.frames, IdxFrame{Index: i, Row: row})
	return nil
}

// TopArray returns the array frame on top of the stack.
func (s *Stack) TopArray() (ArrayFrame, error) {
	arr, ok := s.Peek().(ArrayFrame)
	if !ok {
		return ArrayFrame{}, dkerrors.NewContractError("top of stack is %T, not an array", s.Peek())
	}
	return arr, nil
}

// enclosingArray returns the array frame directly below an idx frame on top.
func (s *Stack) enclosingArray() (ArrayFrame, error) {
	if len(s.frames) < 2 {
		return ArrayFrame{}, dkerrors.NewContractError("array position without array")
	}
	arr, ok := s.frames[len(s.frames)-2].(ArrayFrame)
	if !ok {
		return ArrayFrame{}, dkerrors.NewContractError("array position below %T", s.frames[len(s.frames)-2])
	}
	return arr, nil
}

// owningRow returns the row of the nearest enclosing object or array position.
func (s *Stack) owningRow() (*batch.Row, error) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		switch f := s.frames[i].(type) {
		case ObjectFrame:
			return f.Row, nil
		case IdxFrame:
			return f.Row, nil
		}
	}
	return nil, dkerrors.NewContractError("no enclosing row")
}
