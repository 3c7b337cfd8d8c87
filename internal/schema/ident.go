package schema

import (
	"strconv"
	"strings"

	"github.com/arkilian/docrel/pkg/types"
)

// Normalize lowercases name and replaces every character outside
// [a-z0-9$] with an underscore.
// "Foo.Bar!" -> "foo_bar_"
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '$' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// TableIdentifier derives the table name for path in collection:
// the normalized collection name followed by every normalized step, joined by ".".
// "Users", addr.lines.$2 -> "users.addr.lines.$2"
func TableIdentifier(collection string, path *PathRef) string {
	parts := []string{Normalize(collection)}
	var steps []string
	for n := path; !n.IsRoot(); n = n.Parent() {
		if d := n.ArrayDimension(); d > 0 {
			steps = append(steps, "$"+strconv.Itoa(d))
		} else {
			steps = append(steps, Normalize(n.Name()))
		}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		parts = append(parts, steps[i])
	}
	return strings.Join(parts, ".")
}

// FieldIdentifier derives the column name of a named field at one kind.
// "Foo.Bar!", string -> "foo_bar__s"
func FieldIdentifier(name string, kind types.Kind) string {
	return Normalize(name) + "_" + string(kind.Tag())
}

// ScalarIdentifier derives the column name of array element values at one kind.
func ScalarIdentifier(kind types.Kind) string {
	return string(kind.Tag())
}

// reservedColumns are the linkage columns every table carries.
var reservedColumns = map[string]bool{
	"did": true,
	"rid": true,
	"pid": true,
	"seq": true,
}

// IsReservedColumn reports whether name is one of the linkage columns.
func IsReservedColumn(name string) bool {
	return reservedColumns[name]
}

// ValidIdentifier checks that an identifier only holds characters
// Normalize can produce, plus the "." table separator.
func ValidIdentifier(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' && c != '$' && c != '.' {
			return false
		}
	}
	return true
}
