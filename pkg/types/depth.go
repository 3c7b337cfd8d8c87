package types

import "fmt"

// MaxDepth bounds how many documents and arrays may enclose one another.
// A top-level document sits at depth 1.
const MaxDepth = 100

// CheckDepth returns ErrTooDeep when v nests containers beyond MaxDepth.
// Scalars always pass.
func CheckDepth(v any) error {
	if exceedsDepth(v, 1) {
		return fmt.Errorf("%w: more than %d levels", ErrTooDeep, MaxDepth)
	}
	return nil
}

func exceedsDepth(v any, depth int) bool {
	switch x := v.(type) {
	case *Document:
		if x == nil {
			return false
		}
		if depth > MaxDepth {
			return true
		}
		deep := false
		x.Range(func(_ string, child any) bool {
			deep = exceedsDepth(child, depth+1)
			return !deep
		})
		return deep
	case Array:
		if depth > MaxDepth {
			return true
		}
		for _, child := range x {
			if exceedsDepth(child, depth+1) {
				return true
			}
		}
	}
	return false
}
