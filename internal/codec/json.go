// Package codec converts documents to and from their external forms:
// Extended JSON for clients and snapshots, msgpack for the journal.
package codec

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
)

// MaxLineSize bounds one document in a JSON lines stream.
const MaxLineSize = 16 << 20

// extendedSlack is how many raw levels an Extended JSON wrapper may add
// over the value it decodes to, as in {"$date":{"$numberLong":"1"}}.
const extendedSlack = 2

// DecodeJSON parses one Extended JSON object, keeping key order. Objects
// nesting deeper than types.MaxDepth are rejected.
func DecodeJSON(data []byte) (*types.Document, error) {
	if err := checkNesting(data, types.MaxDepth+extendedSlack); err != nil {
		return nil, tooDeep(err)
	}
	value, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, invalidJSON(err)
	}
	if dataType != jsonparser.Object {
		return nil, dkerrors.NewValidationError(dkerrors.CodeInvalidDocument,
			fmt.Sprintf("expected a JSON object, got %v", dataType))
	}
	v, err := decodeValue(value, dataType)
	if err != nil {
		return nil, invalidJSON(err)
	}
	doc, ok := v.(*types.Document)
	if !ok {
		return nil, dkerrors.NewValidationError(dkerrors.CodeInvalidDocument,
			fmt.Sprintf("top-level value decodes to %T, not a document", v))
	}
	if err := types.CheckDepth(doc); err != nil {
		return nil, tooDeep(err)
	}
	return doc, nil
}

// checkNesting scans data once and fails as soon as brackets outside
// strings open more than limit levels.
func checkNesting(data []byte, limit int) error {
	depth := 0
	inString, escaped := false, false
	for _, c := range data {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
			if depth > limit {
				return fmt.Errorf("%w: more than %d levels", types.ErrTooDeep, types.MaxDepth)
			}
		case c == '}' || c == ']':
			depth--
		}
	}
	return nil
}

func tooDeep(err error) error {
	return dkerrors.Wrap(dkerrors.ErrCategoryValidation, dkerrors.CodeInvalidDocument, "document rejected", err)
}

// DecodeJSONLines reads one document per non-blank line.
func DecodeJSONLines(r io.Reader) ([]*types.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), MaxLineSize)

	var docs []*types.Document
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		doc, err := DecodeJSON(data)
		if err != nil {
			return nil, fmt.Errorf("codec: line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("codec: reading JSON lines: %w", err)
	}
	return docs, nil
}

func invalidJSON(err error) error {
	return dkerrors.Wrap(dkerrors.ErrCategoryValidation, dkerrors.CodeInvalidDocument, "malformed JSON", err)
}

func decodeValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		return decodeNumber(value)
	case jsonparser.Array:
		arr := types.Array{}
		var inner error
		_, err := jsonparser.ArrayEach(value, func(elem []byte, t jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			v, err := decodeValue(elem, t)
			if err != nil {
				inner = err
				return
			}
			arr = append(arr, v)
		})
		if err != nil {
			return nil, err
		}
		if inner != nil {
			return nil, inner
		}
		return arr, nil
	case jsonparser.Object:
		doc := types.NewDocument()
		err := jsonparser.ObjectEach(value, func(key, elem []byte, t jsonparser.ValueType, _ int) error {
			v, err := decodeValue(elem, t)
			if err != nil {
				return err
			}
			name := string(key)
			if doc.Has(name) {
				return fmt.Errorf("duplicate key %q", name)
			}
			doc.Set(name, v)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return unwrapExtended(doc)
	default:
		return nil, fmt.Errorf("unexpected JSON value type %v", dataType)
	}
}

// decodeNumber maps integers that fit 32 bits to integer, other integers to
// long and everything else to double.
func decodeNumber(value []byte) (any, error) {
	if bytes.ContainsAny(value, ".eE") {
		return jsonparser.ParseFloat(value)
	}
	n, err := jsonparser.ParseInt(value)
	if err != nil {
		return jsonparser.ParseFloat(value)
	}
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return int32(n), nil
	}
	return n, nil
}

// unwrapExtended replaces single-key Extended JSON wrappers with the value
// they stand for. Other documents are returned unchanged.
func unwrapExtended(doc *types.Document) (any, error) {
	if doc.Len() != 1 {
		return doc, nil
	}
	key := doc.Keys()[0]
	if !strings.HasPrefix(key, "$") {
		return doc, nil
	}
	v, _ := doc.Get(key)

	switch key {
	case "$oid":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("$oid must be a string")
		}
		return types.ParseObjectID(s)
	case "$numberInt":
		n, err := strconv.ParseInt(stringOf(v), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("$numberInt: %w", err)
		}
		return int32(n), nil
	case "$numberLong":
		n, err := strconv.ParseInt(stringOf(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("$numberLong: %w", err)
		}
		return n, nil
	case "$numberDouble":
		return parseDouble(stringOf(v))
	case "$date":
		return parseDate(v)
	case "$localDate":
		return types.ParseDate(stringOf(v))
	case "$localTime":
		return types.ParseTimeOfDay(stringOf(v))
	case "$timestamp":
		inner, ok := v.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("$timestamp must be an object")
		}
		t, err := uint32Of(inner, "t")
		if err != nil {
			return nil, err
		}
		i, err := uint32Of(inner, "i")
		if err != nil {
			return nil, err
		}
		return types.Timestamp{T: t, I: i}, nil
	case "$binary":
		inner, ok := v.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("$binary must be an object")
		}
		b64, _ := inner.Get("base64")
		sub, _ := inner.Get("subType")
		data, err := base64.StdEncoding.DecodeString(stringOf(b64))
		if err != nil {
			return nil, fmt.Errorf("$binary: %w", err)
		}
		st, err := strconv.ParseUint(stringOf(sub), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("$binary subType: %w", err)
		}
		return types.Binary{Subtype: byte(st), Data: data}, nil
	default:
		return doc, nil
	}
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func uint32Of(doc *types.Document, key string) (uint32, error) {
	v, _ := doc.Get(key)
	switch n := v.(type) {
	case int32:
		return uint32(n), nil
	case int64:
		if n < 0 || n > math.MaxUint32 {
			return 0, fmt.Errorf("$timestamp.%s out of range", key)
		}
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("$timestamp.%s must be an integer", key)
	}
}

func parseDouble(s string) (float64, error) {
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("$numberDouble: %w", err)
	}
	return f, nil
}

func parseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, d)
	case int64:
		return time.UnixMilli(d).UTC(), nil
	case int32:
		return time.UnixMilli(int64(d)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("$date must be a string or milliseconds, got %T", v)
	}
}

// EncodeJSON renders doc as Extended JSON that DecodeJSON reads back to an
// equal document.
func EncodeJSON(doc *types.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJSONLines writes each document on its own line.
func EncodeJSONLines(w io.Writer, docs []*types.Document) error {
	bw := bufio.NewWriter(w)
	for _, doc := range docs {
		data, err := EncodeJSON(doc)
		if err != nil {
			return err
		}
		bw.Write(data)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		fmt.Fprintf(buf, `{"$numberLong":"%d"}`, x)
	case float64:
		encodeDouble(buf, x)
	case string:
		encodeString(buf, x)
	case types.Date:
		fmt.Fprintf(buf, `{"$localDate":"%s"}`, x)
	case types.TimeOfDay:
		fmt.Fprintf(buf, `{"$localTime":"%s"}`, x)
	case time.Time:
		fmt.Fprintf(buf, `{"$date":"%s"}`, x.UTC().Format(time.RFC3339Nano))
	case types.Binary:
		fmt.Fprintf(buf, `{"$binary":{"base64":"%s","subType":"%s"}}`,
			base64.StdEncoding.EncodeToString(x.Data), hex.EncodeToString([]byte{x.Subtype}))
	case types.ObjectID:
		fmt.Fprintf(buf, `{"$oid":"%s"}`, x.Hex())
	case types.Timestamp:
		fmt.Fprintf(buf, `{"$timestamp":{"t":%d,"i":%d}}`, x.T, x.I)
	case types.Array:
		buf.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *types.Document:
		buf.WriteByte('{')
		var err error
		i := 0
		x.Range(func(key string, value any) bool {
			if i > 0 {
				buf.WriteByte(',')
			}
			i++
			encodeString(buf, key)
			buf.WriteByte(':')
			err = encodeValue(buf, value)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return dkerrors.Wrap(dkerrors.ErrCategoryValidation, dkerrors.CodeUnsupportedValue,
			fmt.Sprintf("cannot encode %T", v), types.ErrUnsupportedValue)
	}
	return nil
}

// encodeDouble writes doubles that would read back as integers, and
// non-finite values, in wrapped form.
func encodeDouble(buf *bytes.Buffer, f float64) {
	switch {
	case math.IsNaN(f):
		buf.WriteString(`{"$numberDouble":"NaN"}`)
		return
	case math.IsInf(f, 1):
		buf.WriteString(`{"$numberDouble":"Infinity"}`)
		return
	case math.IsInf(f, -1):
		buf.WriteString(`{"$numberDouble":"-Infinity"}`)
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		fmt.Fprintf(buf, `{"$numberDouble":"%s"}`, s)
		return
	}
	buf.WriteString(s)
}

func encodeString(buf *bytes.Buffer, s string) {
	// json.Marshal of a string cannot fail.
	data, _ := json.Marshal(s)
	buf.Write(data)
}
