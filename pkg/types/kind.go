// Package types provides the document value model shared by every docrel component.
package types

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies the concrete type of a document value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindLong
	KindDouble
	KindString
	KindDate
	KindTime
	KindInstant
	KindBinary
	KindObjectID
	KindTimestamp
	// KindChild stands in for a nested document or array inside a row.
	KindChild
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBoolean:   "boolean",
	KindInteger:   "integer",
	KindLong:      "long",
	KindDouble:    "double",
	KindString:    "string",
	KindDate:      "date",
	KindTime:      "time",
	KindInstant:   "instant",
	KindBinary:    "binary",
	KindObjectID:  "object-id",
	KindTimestamp: "timestamp",
	KindChild:     "child",
}

// kindTags are the single-character suffixes used in column identifiers.
var kindTags = [...]byte{
	KindNull:      'n',
	KindBoolean:   'b',
	KindInteger:   'i',
	KindLong:      'l',
	KindDouble:    'd',
	KindString:    's',
	KindDate:      'c',
	KindTime:      't',
	KindInstant:   'g',
	KindBinary:    'r',
	KindObjectID:  'x',
	KindTimestamp: 'y',
	KindChild:     'e',
}

// String returns the human readable kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Tag returns the identifier suffix of the kind.
func (k Kind) Tag() byte {
	if int(k) < len(kindTags) {
		return kindTags[k]
	}
	return '?'
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return int(k) < len(kindNames)
}

// KindFromTag is the inverse of Kind.Tag.
func KindFromTag(tag byte) (Kind, bool) {
	for k, t := range kindTags {
		if t == tag {
			return Kind(k), true
		}
	}
	return 0, false
}

// ScalarKinds lists every kind a leaf value can have.
func ScalarKinds() []Kind {
	return []Kind{
		KindNull, KindBoolean, KindInteger, KindLong, KindDouble, KindString,
		KindDate, KindTime, KindInstant, KindBinary, KindObjectID, KindTimestamp,
	}
}

// Instants are held as int64 nanoseconds since the epoch.
var (
	MinInstant = time.Unix(0, math.MinInt64).UTC()
	MaxInstant = time.Unix(0, math.MaxInt64).UTC()
)

// KindOf classifies a document value. Containers (*Document, Array) report
// KindChild; unsupported Go types return an error.
func KindOf(v any) (Kind, error) {
	switch x := v.(type) {
	case nil:
		return KindNull, nil
	case bool:
		return KindBoolean, nil
	case int32:
		return KindInteger, nil
	case int64:
		return KindLong, nil
	case float64:
		return KindDouble, nil
	case string:
		return KindString, nil
	case Date:
		if !x.Valid() {
			return 0, fmt.Errorf("%w: date %s out of range", ErrUnsupportedValue, x)
		}
		return KindDate, nil
	case TimeOfDay:
		if !x.Valid() {
			return 0, fmt.Errorf("%w: time of day %dns out of range", ErrUnsupportedValue, int64(x))
		}
		return KindTime, nil
	case time.Time:
		if x.Before(MinInstant) || x.After(MaxInstant) {
			return 0, fmt.Errorf("%w: instant %s out of range", ErrUnsupportedValue, x.UTC().Format(time.RFC3339))
		}
		return KindInstant, nil
	case Binary:
		return KindBinary, nil
	case ObjectID:
		return KindObjectID, nil
	case Timestamp:
		return KindTimestamp, nil
	case *Document, Array:
		return KindChild, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
