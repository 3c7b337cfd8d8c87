// Package schema holds the relational schema model a collection's documents
// are mapped onto: structural paths, tables, typed columns and row-id counters.
package schema

import (
	"strconv"
	"strings"
)

// PathRef addresses one structural position inside a document: the root,
// a named member of an object, or an extra array nesting level.
// PathRefs are immutable; two PathRefs built from the same sequence of
// steps have the same Key.
type PathRef struct {
	parent    *PathRef
	name      string
	dimension int
	depth     int
	key       string
}

var root = &PathRef{}

// Root returns the path of the top-level document.
func Root() *PathRef {
	return root
}

// Field returns the path of the object member name below p.
func (p *PathRef) Field(name string) *PathRef {
	return &PathRef{
		parent: p,
		name:   name,
		depth:  p.depth + 1,
		key:    p.key + "/f" + strconv.Itoa(len(name)) + ":" + name,
	}
}

// Dimension returns the path of array nesting level d below p. Level 1 is
// the array declared by a field and lives in the field's own table, so d
// must be at least 2.
func (p *PathRef) Dimension(d int) *PathRef {
	if d < 2 {
		panic("schema: array dimension must be >= 2, got " + strconv.Itoa(d))
	}
	return &PathRef{
		parent:    p,
		dimension: d,
		depth:     p.depth + 1,
		key:       p.key + "/d" + strconv.Itoa(d),
	}
}

// NextDimension returns the path an array nested inside an element of the
// array stored at p goes to.
func (p *PathRef) NextDimension() *PathRef {
	if p.dimension > 0 {
		return p.Dimension(p.dimension + 1)
	}
	return p.Dimension(2)
}

// IsRoot reports whether p is the document root.
func (p *PathRef) IsRoot() bool {
	return p.parent == nil
}

// Parent returns the enclosing path, or nil at the root.
func (p *PathRef) Parent() *PathRef {
	return p.parent
}

// Name returns the field name of a member step, "" otherwise.
func (p *PathRef) Name() string {
	return p.name
}

// ArrayDimension returns the nesting level of a dimension step, 0 otherwise.
func (p *PathRef) ArrayDimension() int {
	return p.dimension
}

// Depth is the number of steps from the root.
func (p *PathRef) Depth() int {
	return p.depth
}

// Key is a canonical encoding of the step sequence, unique per path.
func (p *PathRef) Key() string {
	return p.key
}

// Equal reports whether both paths describe the same step sequence.
func (p *PathRef) Equal(other *PathRef) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.key == other.key
}

// String renders the path in dotted form, e.g. "addr.lines.$2".
func (p *PathRef) String() string {
	if p.IsRoot() {
		return "$root"
	}
	var steps []string
	for n := p; !n.IsRoot(); n = n.parent {
		steps = append(steps, n.stepString())
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, ".")
}

func (p *PathRef) stepString() string {
	if p.dimension > 0 {
		return "$" + strconv.Itoa(p.dimension)
	}
	return p.name
}

// ParsePathKey rebuilds a PathRef from its Key.
func ParsePathKey(key string) (*PathRef, bool) {
	p := Root()
	rest := key
	for rest != "" {
		if len(rest) < 2 || rest[0] != '/' {
			return nil, false
		}
		switch rest[1] {
		case 'f':
			colon := strings.IndexByte(rest, ':')
			if colon < 0 {
				return nil, false
			}
			n, err := strconv.Atoi(rest[2:colon])
			if err != nil || n < 0 || colon+1+n > len(rest) {
				return nil, false
			}
			p = p.Field(rest[colon+1 : colon+1+n])
			rest = rest[colon+1+n:]
		case 'd':
			end := strings.IndexByte(rest[2:], '/')
			if end < 0 {
				end = len(rest)
			} else {
				end += 2
			}
			d, err := strconv.Atoi(rest[2:end])
			if err != nil || d < 2 {
				return nil, false
			}
			p = p.Dimension(d)
			rest = rest[end:]
		default:
			return nil, false
		}
	}
	return p, true
}
