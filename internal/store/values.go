package store

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/snappy"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
)

// sqlType returns the declared column type storing values of kind.
func sqlType(kind types.Kind) string {
	switch kind {
	case types.KindDouble:
		return "REAL"
	case types.KindString, types.KindDate:
		return "TEXT"
	case types.KindBinary, types.KindObjectID:
		return "BLOB"
	default:
		return "INTEGER"
	}
}

// toSQL converts a row value of kind to what the driver binds. Row vectors
// hold nil for columns the row does not populate.
func toSQL(kind types.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case types.KindNull:
		return int64(1), nil
	case types.KindBoolean, types.KindChild:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(kind, v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case types.KindInteger:
		n, ok := v.(int32)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return int64(n), nil
	case types.KindLong:
		n, ok := v.(int64)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return n, nil
	case types.KindDouble:
		f, ok := v.(float64)
		if !ok {
			return nil, mismatch(kind, v)
		}
		// SQLite reads NaN back as NULL.
		if math.IsNaN(f) {
			return "NaN", nil
		}
		return f, nil
	case types.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return s, nil
	case types.KindDate:
		d, ok := v.(types.Date)
		if !ok {
			return nil, mismatch(kind, v)
		}
		if !d.Valid() {
			return nil, dkerrors.NewStructureError(dkerrors.CodeUnsupportedValue,
				fmt.Sprintf("date %s outside storable range", d), nil)
		}
		return d.String(), nil
	case types.KindTime:
		t, ok := v.(types.TimeOfDay)
		if !ok {
			return nil, mismatch(kind, v)
		}
		if !t.Valid() {
			return nil, dkerrors.NewStructureError(dkerrors.CodeUnsupportedValue,
				fmt.Sprintf("time of day %dns outside one day", int64(t)), nil)
		}
		return int64(t), nil
	case types.KindInstant:
		t, ok := v.(time.Time)
		if !ok {
			return nil, mismatch(kind, v)
		}
		if t.Before(types.MinInstant) || t.After(types.MaxInstant) {
			return nil, dkerrors.NewStructureError(dkerrors.CodeUnsupportedValue,
				fmt.Sprintf("instant %s outside storable range", t.UTC().Format(time.RFC3339)), nil)
		}
		return t.UnixNano(), nil
	case types.KindBinary:
		b, ok := v.(types.Binary)
		if !ok {
			return nil, mismatch(kind, v)
		}
		out := make([]byte, 1, 1+snappy.MaxEncodedLen(len(b.Data)))
		out[0] = b.Subtype
		return append(out, snappy.Encode(nil, b.Data)...), nil
	case types.KindObjectID:
		id, ok := v.(types.ObjectID)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return id.Bytes(), nil
	case types.KindTimestamp:
		ts, ok := v.(types.Timestamp)
		if !ok {
			return nil, mismatch(kind, v)
		}
		return int64(ts.Uint64()), nil
	default:
		return nil, fmt.Errorf("store: no column mapping for kind %s", kind)
	}
}

// fromSQL converts a scanned column value back to the row value of kind.
func fromSQL(kind types.Kind, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case types.KindNull:
		return true, nil
	case types.KindBoolean, types.KindChild:
		n, err := asInt64(kind, raw)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case types.KindInteger:
		n, err := asInt64(kind, raw)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case types.KindLong:
		return asInt64(kind, raw)
	case types.KindDouble:
		switch f := raw.(type) {
		case float64:
			return f, nil
		case int64:
			return float64(f), nil
		case string, []byte:
			if asString(f) == "NaN" {
				return math.NaN(), nil
			}
		}
		return nil, mismatch(kind, raw)
	case types.KindString:
		switch s := raw.(type) {
		case string, []byte:
			return asString(s), nil
		}
		return nil, mismatch(kind, raw)
	case types.KindDate:
		switch s := raw.(type) {
		case string, []byte:
			return types.ParseDate(asString(s))
		}
		return nil, mismatch(kind, raw)
	case types.KindTime:
		n, err := asInt64(kind, raw)
		if err != nil {
			return nil, err
		}
		return types.TimeOfDay(n), nil
	case types.KindInstant:
		n, err := asInt64(kind, raw)
		if err != nil {
			return nil, err
		}
		return time.Unix(0, n).UTC(), nil
	case types.KindBinary:
		b, ok := raw.([]byte)
		if !ok || len(b) == 0 {
			return nil, mismatch(kind, raw)
		}
		data, err := snappy.Decode(nil, b[1:])
		if err != nil {
			return nil, fmt.Errorf("store: corrupt binary value: %w", err)
		}
		return types.Binary{Subtype: b[0], Data: data}, nil
	case types.KindObjectID:
		b, ok := raw.([]byte)
		if !ok {
			return nil, mismatch(kind, raw)
		}
		return types.ObjectIDFromBytes(b)
	case types.KindTimestamp:
		n, err := asInt64(kind, raw)
		if err != nil {
			return nil, err
		}
		return types.TimestampFromUint64(uint64(n)), nil
	default:
		return nil, fmt.Errorf("store: no column mapping for kind %s", kind)
	}
}

func asInt64(kind types.Kind, raw any) (int64, error) {
	switch n := raw.(type) {
	case int64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, mismatch(kind, raw)
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	s, _ := v.(string)
	return s
}

func mismatch(kind types.Kind, v any) error {
	return fmt.Errorf("store: %T value in %s column", v, kind)
}
