package types

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// ObjectID is the 12-byte document identifier: 4-byte big-endian seconds,
// 5-byte per-generator random value and a 3-byte counter.
type ObjectID [12]byte

// ObjectIDGenerator generates ObjectIDs that increase monotonically for one generator.
type ObjectIDGenerator struct {
	mu          sync.Mutex
	lastSeconds uint32
	random      [5]byte
	counter     uint32
}

// NewObjectIDGenerator creates a generator with a fresh random component.
func NewObjectIDGenerator() (*ObjectIDGenerator, error) {
	g := &ObjectIDGenerator{}
	if _, err := rand.Read(g.random[:]); err != nil {
		return nil, err
	}
	var c [4]byte
	if _, err := rand.Read(c[:]); err != nil {
		return nil, err
	}
	g.counter = binary.BigEndian.Uint32(c[:]) & 0x00FFFFFF
	return g, nil
}

// Generate creates a new ObjectID with the current time.
func (g *ObjectIDGenerator) Generate() ObjectID {
	return g.GenerateWithTime(time.Now())
}

// GenerateWithTime creates a new ObjectID with the specified time.
// IDs generated within the same second are ordered by the counter; when
// the counter wraps the seconds field is carried forward to stay monotonic.
func (g *ObjectIDGenerator) GenerateWithTime(t time.Time) ObjectID {
	g.mu.Lock()
	defer g.mu.Unlock()

	seconds := uint32(t.Unix())
	if seconds < g.lastSeconds {
		seconds = g.lastSeconds
	}
	if seconds == g.lastSeconds {
		g.counter = (g.counter + 1) & 0x00FFFFFF
		if g.counter == 0 {
			seconds++
		}
	} else {
		g.counter = 0
	}
	g.lastSeconds = seconds

	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], seconds)
	copy(id[4:9], g.random[:])
	id[9] = byte(g.counter >> 16)
	id[10] = byte(g.counter >> 8)
	id[11] = byte(g.counter)
	return id
}

// Bytes returns the ObjectID as a byte slice.
func (id ObjectID) Bytes() []byte {
	return id[:]
}

// Time returns the seconds component as a time.Time.
func (id ObjectID) Time() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Hex returns the 24-character lowercase hex form.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ObjectID) String() string {
	return id.Hex()
}

// Compare compares two ObjectIDs lexicographically.
// Returns -1 if id < other, 0 if id == other, 1 if id > other.
func (id ObjectID) Compare(other ObjectID) int {
	for i := 0; i < len(id); i++ {
		if id[i] < other[i] {
			return -1
		}
		if id[i] > other[i] {
			return 1
		}
	}
	return 0
}

// ParseObjectID parses a 24-character hex string.
func ParseObjectID(s string) (ObjectID, error) {
	if len(s) != 24 {
		return ObjectID{}, ErrInvalidObjectIDLength
	}
	var id ObjectID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ObjectID{}, ErrInvalidObjectIDCharacter
	}
	return id, nil
}

// ObjectIDFromBytes creates an ObjectID from a byte slice.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	if len(b) != 12 {
		return ObjectID{}, ErrInvalidObjectIDLength
	}
	var id ObjectID
	copy(id[:], b)
	return id, nil
}
