package schema

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// RidCounter hands out row ids for one table. It is safe for concurrent use.
type RidCounter struct {
	next atomic.Int64
}

// Next returns the next row id and advances the counter.
func (c *RidCounter) Next() int64 {
	return c.next.Add(1) - 1
}

// Peek returns the id Next would return without advancing.
func (c *RidCounter) Peek() int64 {
	return c.next.Load()
}

// Set restores the counter so that the next id returned is v.
func (c *RidCounter) Set(v int64) {
	c.next.Store(v)
}

// RidSource keeps one monotonic counter per table path of a collection.
// Ids are never reused or compacted.
type RidSource struct {
	counters *xsync.MapOf[string, *RidCounter]
}

// NewRidSource creates an empty source; every counter starts at zero.
func NewRidSource() *RidSource {
	return &RidSource{counters: xsync.NewMapOf[string, *RidCounter]()}
}

// Counter returns the counter of path, creating it on first use.
func (r *RidSource) Counter(path *PathRef) *RidCounter {
	c, _ := r.counters.LoadOrCompute(path.Key(), func() *RidCounter {
		return &RidCounter{}
	})
	return c
}

// NextRid allocates a row id in the table of path.
func (r *RidSource) NextRid(path *PathRef) int64 {
	return r.Counter(path).Next()
}

// SetNextRid restores a persisted counter value. It is only meant for
// schema loading; translation never calls it.
func (r *RidSource) SetNextRid(path *PathRef, next int64) {
	r.Counter(path).Set(next)
}

// Snapshot returns the next id of every known counter keyed by path key.
func (r *RidSource) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.counters.Range(func(key string, c *RidCounter) bool {
		out[key] = c.Peek()
		return true
	})
	return out
}
