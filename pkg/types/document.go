package types

import (
	"math"
	"time"
)

// Array is an ordered list of document values.
type Array []any

// Document is an insertion-ordered set of key/value pairs.
// The zero value is an empty document ready to use.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument builds a document from alternating key/value arguments.
// It panics if pairs has odd length or a key is not a string.
func NewDocument(pairs ...any) *Document {
	if len(pairs)%2 != 0 {
		panic("types: NewDocument requires key/value pairs")
	}
	d := &Document{}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("types: NewDocument keys must be strings")
		}
		d.Set(key, pairs[i+1])
	}
	return d
}

// Len returns the number of keys.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return d.keys
}

// Get returns the value for key and whether it is present.
func (d *Document) Get(key string) (any, bool) {
	if d == nil || d.values == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set assigns value to key. A new key is appended; an existing key keeps its position.
func (d *Document) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Prepend inserts key at the front. If key already exists it is moved.
func (d *Document) Prepend(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; ok {
		d.Remove(key)
	}
	d.keys = append([]string{key}, d.keys...)
	d.values[key] = value
}

// Remove deletes key, preserving the order of the remaining keys.
func (d *Document) Remove(key string) {
	if d == nil || d.values == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Range calls fn for every key in order until fn returns false.
func (d *Document) Range(fn func(key string, value any) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Equal reports whether two values are deeply equal under the document model.
// Document comparison is key-order sensitive; doubles compare NaN equal to NaN.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case *Document:
		bv, ok := b.(*Document)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i, k := range av.Keys() {
			if bv.keys[i] != k {
				return false
			}
			if !Equal(av.values[k], bv.values[k]) {
				return false
			}
		}
		return true
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(av) && math.IsNaN(bv) {
			return true
		}
		return av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case Binary:
		bv, ok := b.(Binary)
		return ok && av.Equal(bv)
	case bool, int32, int64, string, Date, TimeOfDay, ObjectID, Timestamp:
		return a == b
	default:
		return false
	}
}
