package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
)

// Binary form tags. Leaves reuse the kind tags; containers get their own.
const (
	tagDocument = 'o'
	tagArray    = 'a'
)

// MarshalDocument encodes doc as msgpack. Every value is a two element
// array of tag and payload, so kinds that share a msgpack type survive.
func MarshalDocument(doc *types.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	err := marshalValue(enc, doc)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalDocument decodes the output of MarshalDocument.
func UnmarshalDocument(data []byte) (*types.Document, error) {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	v, err := unmarshalValue(dec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dkerrors.Wrap(dkerrors.ErrCategoryValidation, dkerrors.CodeInvalidDocument, "malformed msgpack document", err)
	}
	doc, ok := v.(*types.Document)
	if !ok {
		return nil, dkerrors.NewValidationError(dkerrors.CodeInvalidDocument,
			fmt.Sprintf("msgpack value decodes to %T, not a document", v))
	}
	return doc, nil
}

func marshalValue(enc *msgpack.Encoder, v any) error {
	kind, err := types.KindOf(v)
	if err != nil {
		return dkerrors.Wrap(dkerrors.ErrCategoryValidation, dkerrors.CodeUnsupportedValue,
			fmt.Sprintf("cannot encode %T", v), err)
	}
	tag := kind.Tag()
	switch v.(type) {
	case *types.Document:
		tag = tagDocument
	case types.Array:
		tag = tagArray
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(tag); err != nil {
		return err
	}

	switch x := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(x)
	case int32:
		return enc.EncodeInt32(x)
	case int64:
		return enc.EncodeInt64(x)
	case float64:
		return enc.EncodeFloat64(x)
	case string:
		return enc.EncodeString(x)
	case types.Date:
		return enc.EncodeString(x.String())
	case types.TimeOfDay:
		return enc.EncodeInt64(int64(x))
	case time.Time:
		return enc.EncodeTime(x)
	case types.Binary:
		return enc.EncodeBytes(append([]byte{x.Subtype}, x.Data...))
	case types.ObjectID:
		return enc.EncodeBytes(x.Bytes())
	case types.Timestamp:
		return enc.EncodeUint64(x.Uint64())
	case types.Array:
		if err := enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}
		for _, elem := range x {
			if err := marshalValue(enc, elem); err != nil {
				return err
			}
		}
		return nil
	case *types.Document:
		if err := enc.EncodeMapLen(x.Len()); err != nil {
			return err
		}
		for _, key := range x.Keys() {
			value, _ := x.Get(key)
			if err := enc.EncodeString(key); err != nil {
				return err
			}
			if err := marshalValue(enc, value); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("codec: unreachable kind %s", kind)
}

func unmarshalValue(dec *msgpack.Decoder) (any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("value frame has %d items, want 2", n)
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagDocument:
		size, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		doc := types.NewDocument()
		for i := 0; i < size; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			value, err := unmarshalValue(dec)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			doc.Set(key, value)
		}
		return doc, nil
	case tagArray:
		size, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		arr := make(types.Array, 0, max(size, 0))
		for i := 0; i < size; i++ {
			value, err := unmarshalValue(dec)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, value)
		}
		return arr, nil
	}

	kind, ok := types.KindFromTag(tag)
	if !ok {
		return nil, fmt.Errorf("unknown value tag %q", tag)
	}
	switch kind {
	case types.KindNull:
		return nil, dec.DecodeNil()
	case types.KindBoolean:
		return dec.DecodeBool()
	case types.KindInteger:
		return dec.DecodeInt32()
	case types.KindLong:
		return dec.DecodeInt64()
	case types.KindDouble:
		return dec.DecodeFloat64()
	case types.KindString:
		return dec.DecodeString()
	case types.KindDate:
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		return types.ParseDate(s)
	case types.KindTime:
		n, err := dec.DecodeInt64()
		return types.TimeOfDay(n), err
	case types.KindInstant:
		return dec.DecodeTime()
	case types.KindBinary:
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("binary value without subtype")
		}
		return types.Binary{Subtype: b[0], Data: b[1:]}, nil
	case types.KindObjectID:
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		return types.ObjectIDFromBytes(b)
	case types.KindTimestamp:
		n, err := dec.DecodeUint64()
		return types.TimestampFromUint64(n), err
	default:
		return nil, fmt.Errorf("unexpected value tag %q", tag)
	}
}
