package types

import (
	"bytes"
	"fmt"
	"time"
)

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Valid reports whether d is a real calendar day with a four-digit year.
func (d Date) Valid() bool {
	if d.Year < 0 || d.Year > 9999 || d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	y, m, day := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Date()
	return y == d.Year && m == d.Month && day == d.Day
}

// ParseDate parses the YYYY-MM-DD form produced by Date.String.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// TimeOfDay is a wall-clock time expressed in nanoseconds since midnight.
type TimeOfDay int64

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second, nanos int) TimeOfDay {
	return TimeOfDay(int64(hour)*int64(time.Hour) + int64(minute)*int64(time.Minute) +
		int64(second)*int64(time.Second) + int64(nanos))
}

// Valid reports whether t falls within one day, [00:00, 24:00).
func (t TimeOfDay) Valid() bool {
	return t >= 0 && int64(t) < int64(24*time.Hour)
}

// String formats the time as HH:MM:SS.nnnnnnnnn.
func (t TimeOfDay) String() string {
	n := int64(t)
	h := n / int64(time.Hour)
	n -= h * int64(time.Hour)
	m := n / int64(time.Minute)
	n -= m * int64(time.Minute)
	s := n / int64(time.Second)
	n -= s * int64(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d.%09d", h, m, s, n)
}

// ParseTimeOfDay parses the form produced by TimeOfDay.String.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05.000000000", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
}

// Binary is an opaque byte string with a subtype, as in BSON.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Equal reports whether two binaries hold the same subtype and bytes.
func (b Binary) Equal(other Binary) bool {
	return b.Subtype == other.Subtype && bytes.Equal(b.Data, other.Data)
}

// Timestamp is the replication timestamp type: seconds plus an ordinal.
type Timestamp struct {
	T uint32
	I uint32
}

// Uint64 packs the timestamp into one integer, seconds in the high half.
func (ts Timestamp) Uint64() uint64 {
	return uint64(ts.T)<<32 | uint64(ts.I)
}

// TimestampFromUint64 is the inverse of Timestamp.Uint64.
func TimestampFromUint64(v uint64) Timestamp {
	return Timestamp{T: uint32(v >> 32), I: uint32(v)}
}
