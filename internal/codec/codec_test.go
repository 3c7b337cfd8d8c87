package codec

import (
	"math"
	"strings"
	"testing"
	"time"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
)

func sampleDocument(t *testing.T) *types.Document {
	t.Helper()
	oid, err := types.ParseObjectID("5f1d7a3b9c8e4f0012345678")
	if err != nil {
		t.Fatal(err)
	}
	return types.NewDocument(
		"_id", oid,
		"name", "Zoë \"q\" <tag>",
		"n", int32(-7),
		"big", int64(1)<<40,
		"small", int64(3),
		"ratio", 0.25,
		"whole", 2.0,
		"nan", math.NaN(),
		"ok", true,
		"none", nil,
		"born", types.Date{Year: 1990, Month: time.March, Day: 4},
		"alarm", types.NewTimeOfDay(6, 30, 0, 5),
		"at", time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC),
		"blob", types.Binary{Subtype: 4, Data: []byte{0, 1, 2}},
		"ts", types.Timestamp{T: 1700000000, I: 3},
		"nested", types.NewDocument("z", types.Array{}, "a", types.Array{int32(1), types.Array{"x"}, types.NewDocument()}),
	)
}

func TestJSON_RoundTrip(t *testing.T) {
	doc := sampleDocument(t)
	data, err := EncodeJSON(doc)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	got, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON(%s) failed: %v", data, err)
	}
	if !types.Equal(doc, got) {
		t.Errorf("round trip mismatch\nwant %v\ngot  %v\njson %s", doc, got, data)
	}
}

func TestDecodeJSON_Numbers(t *testing.T) {
	doc, err := DecodeJSON([]byte(`{"a": 1, "b": 5000000000, "c": 1.5, "d": -2e3}`))
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	want := types.NewDocument("a", int32(1), "b", int64(5000000000), "c", 1.5, "d", -2000.0)
	if !types.Equal(want, doc) {
		t.Errorf("expected %v, got %v", want, doc)
	}
}

func TestDecodeJSON_KeepsKeyOrder(t *testing.T) {
	doc, err := DecodeJSON([]byte(`{"z":1,"a":2,"m":{"y":1,"b":2}}`))
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if got := strings.Join(doc.Keys(), ","); got != "z,a,m" {
		t.Errorf("unexpected key order %s", got)
	}
	m, _ := doc.Get("m")
	if got := strings.Join(m.(*types.Document).Keys(), ","); got != "y,b" {
		t.Errorf("unexpected nested key order %s", got)
	}
}

func TestDecodeJSON_ExtendedForms(t *testing.T) {
	doc, err := DecodeJSON([]byte(`{
		"d": {"$date": {"$numberLong": "1000"}},
		"i": {"$numberInt": "12"},
		"inf": {"$numberDouble": "-Infinity"},
		"plain": {"$other": 1},
		"two": {"$oid": "5f1d7a3b9c8e4f0012345678", "x": 1}
	}`))
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if v, _ := doc.Get("d"); !types.Equal(v, time.UnixMilli(1000)) {
		t.Errorf("unexpected $date %v", v)
	}
	if v, _ := doc.Get("i"); v != int32(12) {
		t.Errorf("unexpected $numberInt %v", v)
	}
	if v, _ := doc.Get("inf"); v != math.Inf(-1) {
		t.Errorf("unexpected $numberDouble %v", v)
	}
	if v, _ := doc.Get("plain"); !types.Equal(v, types.NewDocument("$other", int32(1))) {
		t.Errorf("unknown wrappers must stay documents, got %v", v)
	}
	if v, _ := doc.Get("two"); v.(*types.Document).Len() != 2 {
		t.Errorf("multi-key objects must stay documents, got %v", v)
	}
}

func TestDecodeJSON_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"array", `[1,2]`},
		{"scalar", `"x"`},
		{"truncated", `{"a":`},
		{"bad oid", `{"a":{"$oid":"zz"}}`},
		{"duplicate key", `{"a":1,"a":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.input))
			if dkerrors.GetCategory(err) != dkerrors.ErrCategoryValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDecodeJSONLines(t *testing.T) {
	input := "{\"a\":1}\n\n  {\"a\":2}\n"
	docs, err := DecodeJSONLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeJSONLines failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	_, err = DecodeJSONLines(strings.NewReader("{\"a\":1}\n{oops}\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error naming line 2, got %v", err)
	}
}

func TestEncodeJSONLines(t *testing.T) {
	var sb strings.Builder
	docs := []*types.Document{types.NewDocument("a", int32(1)), types.NewDocument("b", "x")}
	if err := EncodeJSONLines(&sb, docs); err != nil {
		t.Fatalf("EncodeJSONLines failed: %v", err)
	}
	if sb.String() != "{\"a\":1}\n{\"b\":\"x\"}\n" {
		t.Errorf("unexpected output %q", sb.String())
	}
}

func TestMsgpack_RoundTrip(t *testing.T) {
	doc := sampleDocument(t)
	data, err := MarshalDocument(doc)
	if err != nil {
		t.Fatalf("MarshalDocument failed: %v", err)
	}
	got, err := UnmarshalDocument(data)
	if err != nil {
		t.Fatalf("UnmarshalDocument failed: %v", err)
	}
	if !types.Equal(doc, got) {
		t.Errorf("round trip mismatch\nwant %v\ngot  %v", doc, got)
	}
}

func TestMsgpack_Errors(t *testing.T) {
	if _, err := MarshalDocument(types.NewDocument("x", uint8(1))); dkerrors.GetCode(err) != dkerrors.CodeUnsupportedValue {
		t.Errorf("expected unsupported value error, got %v", err)
	}
	if _, err := UnmarshalDocument([]byte{0xc1}); dkerrors.GetCategory(err) != dkerrors.ErrCategoryValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

// nestedArrays builds {"a":[[...]]} whose containers reach depth levels.
func nestedArrays(depth int) string {
	return `{"a":` + strings.Repeat("[", depth-1) + `1` + strings.Repeat("]", depth-1) + `}`
}

func TestDecodeJSON_DepthLimit(t *testing.T) {
	if _, err := DecodeJSON([]byte(nestedArrays(types.MaxDepth))); err != nil {
		t.Fatalf("decode at the depth limit failed: %v", err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"one past limit", nestedArrays(types.MaxDepth + 1)},
		{"wrapper slack exceeded", nestedArrays(types.MaxDepth + extendedSlack + 1)},
		{"very deep", nestedArrays(40000)},
		{"unbalanced and deep", `{"a":` + strings.Repeat("[", 50000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			_, err := DecodeJSON([]byte(tt.input))
			if dkerrors.GetCode(err) != dkerrors.CodeInvalidDocument {
				t.Fatalf("expected %s, got %v", dkerrors.CodeInvalidDocument, err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("rejecting took %v", elapsed)
			}
		})
	}
}

func TestDecodeJSON_BracketsInStringsDoNotNest(t *testing.T) {
	s := strings.Repeat("[{", types.MaxDepth)
	doc, err := DecodeJSON([]byte(`{"s":"` + s + `\"]"}`))
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if v, _ := doc.Get("s"); v != s+`"]` {
		t.Errorf("s = %q", v)
	}
}

func TestDecodeJSON_WrapperAtDepthLimit(t *testing.T) {
	input := `{"a":` + strings.Repeat("[", types.MaxDepth-2) + `{"$date":{"$numberLong":"0"}}` + strings.Repeat("]", types.MaxDepth-2) + `}`
	if _, err := DecodeJSON([]byte(input)); err != nil {
		t.Fatalf("wrapper at the depth limit failed: %v", err)
	}
}
