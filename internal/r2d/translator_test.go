package r2d_test

import (
	"database/sql"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/arkilian/docrel/internal/d2r"
	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/internal/r2d"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/arkilian/docrel/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func roundTrip(t *testing.T, docs ...*types.Document) []*types.Document {
	t.Helper()
	tr := d2r.ForSchema(schema.New("c"))
	if _, err := tr.TranslateAll(docs); err != nil {
		t.Fatalf("d2r failed: %v", err)
	}
	res, err := r2d.NewTranslator().Translate(tr.Batch().Streams())
	if err != nil {
		t.Fatalf("r2d failed: %v", err)
	}
	if res.Len() != len(docs) {
		t.Fatalf("expected %d documents, got %d", len(docs), res.Len())
	}
	return res.Documents()
}

func assertEqualDocs(t *testing.T, want, got []*types.Document) {
	t.Helper()
	for i := range want {
		if !types.Equal(want[i], got[i]) {
			t.Errorf("document %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestTranslate_Scenario(t *testing.T) {
	doc := types.NewDocument(
		"_id", int32(1),
		"tags", types.Array{"a", "b"},
		"addr", types.NewDocument("city", "x"),
	)
	assertEqualDocs(t, []*types.Document{doc}, roundTrip(t, doc))
}

func TestTranslate_EmptyContainers(t *testing.T) {
	docs := []*types.Document{
		types.NewDocument(),
		types.NewDocument("a", types.Array{}, "d", types.NewDocument()),
		types.NewDocument("a", types.Array{types.NewDocument(), types.Array{}}),
	}
	assertEqualDocs(t, docs, roundTrip(t, docs...))
}

func TestTranslate_NullsAndMixedArrays(t *testing.T) {
	oid, _ := types.ParseObjectID("5f1d7a3b9c8e4f0012345678")
	docs := []*types.Document{
		types.NewDocument("n", nil, "v", types.Array{nil, int64(1), "s", nil}),
		types.NewDocument(
			"n", int32(3),
			"v", types.Array{
				true,
				2.5,
				types.NewDocument("k", nil),
				types.Array{oid, types.Array{types.Timestamp{T: 1, I: 2}}},
			},
		),
	}
	assertEqualDocs(t, docs, roundTrip(t, docs...))
}

func TestTranslate_NullPaddingOnRead(t *testing.T) {
	docs := []*types.Document{
		types.NewDocument("a", int32(1)),
		types.NewDocument("a", int32(2), "b", "late"),
	}
	got := roundTrip(t, docs...)
	if got[0].Has("b") {
		t.Errorf("column added later must read as absent for earlier rows, got %v", got[0])
	}
	assertEqualDocs(t, docs, got)
}

func TestTranslate_KindChangeKeepsKeyOrder(t *testing.T) {
	docs := []*types.Document{
		types.NewDocument("a", int32(1), "b", int32(2)),
		types.NewDocument("a", "one", "b", int32(2)),
		types.NewDocument("a", nil, "b", types.NewDocument("x", true)),
	}
	assertEqualDocs(t, docs, roundTrip(t, docs...))
}

func TestTranslate_ArrayOrderFollowsSeq(t *testing.T) {
	meta, elems := arrayFixture(t)
	root := &fakeStream{meta: meta.root, rows: []fakeRow{{did: 0, rid: 0, fields: []any{true}}}}
	arr := &fakeStream{meta: elems, rows: []fakeRow{
		{did: 0, rid: 2, pid: valid(0), seq: seq(3), scalars: []any{"d"}},
		{did: 0, rid: 0, pid: valid(0), seq: seq(0), scalars: []any{"a"}},
		{did: 0, rid: 1, pid: valid(0), seq: seq(1), scalars: []any{"b"}},
	}}
	res, err := r2d.NewTranslator().Translate([]r2d.RowStream{root, arr})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	doc, ok := res.Get(0)
	if !ok {
		t.Fatal("missing document 0")
	}
	want := types.NewDocument("xs", types.Array{"a", "b", nil, "d"})
	if !types.Equal(want, doc) {
		t.Errorf("expected %v, got %v", want, doc)
	}
	if !root.closed || !arr.closed {
		t.Error("streams must be closed")
	}
}

func TestTranslate_MissingChildrenResolveToEmptyArray(t *testing.T) {
	tr := d2r.ForSchema(schema.New("c"))
	doc := types.NewDocument("xs", types.Array{int32(1)}, "d", types.NewDocument("k", "v"))
	if _, err := tr.Translate(doc); err != nil {
		t.Fatalf("d2r failed: %v", err)
	}
	streams := tr.Batch().Streams()[:1]
	res, err := r2d.NewTranslator().Translate(streams)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	got := res.Documents()[0]
	want := types.NewDocument("xs", types.Array{}, "d", types.Array{})
	if !types.Equal(want, got) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTranslate_StreamOrder(t *testing.T) {
	tr := d2r.ForSchema(schema.New("c"))
	if _, err := tr.Translate(types.NewDocument("xs", types.Array{int32(1)})); err != nil {
		t.Fatalf("d2r failed: %v", err)
	}
	streams := tr.Batch().Streams()
	streams[0], streams[1] = streams[1], streams[0]
	_, err := r2d.NewTranslator().Translate(streams)
	if dkerrors.GetCode(err) != dkerrors.CodeStreamOrder {
		t.Fatalf("expected stream order error, got %v", err)
	}
}

func TestTranslate_BadMarker(t *testing.T) {
	meta, elems := arrayFixture(t)
	root := &fakeStream{meta: meta.root, rows: []fakeRow{{did: 0, rid: 0, fields: []any{"yes"}}}}
	arr := &fakeStream{meta: elems}
	_, err := r2d.NewTranslator().Translate([]r2d.RowStream{root, arr})
	contract := dkerrors.New(dkerrors.ErrCategoryStructure, dkerrors.CodeContractViolation, "")
	if !errors.Is(err, contract) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestTranslate_OrphanRow(t *testing.T) {
	meta, elems := arrayFixture(t)
	root := &fakeStream{meta: meta.root}
	arr := &fakeStream{meta: elems, rows: []fakeRow{{did: 0, rid: 0, seq: seq(0), scalars: []any{"a"}}}}
	_, err := r2d.NewTranslator().Translate([]r2d.RowStream{root, arr})
	if dkerrors.GetCode(err) != dkerrors.CodeContractViolation {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestTranslate_StreamError(t *testing.T) {
	meta, _ := arrayFixture(t)
	boom := errors.New("cursor broke")
	_, err := r2d.NewTranslator().Translate([]r2d.RowStream{&fakeStream{meta: meta.root, err: boom}})
	if !errors.Is(err, boom) || dkerrors.GetCategory(err) != dkerrors.ErrCategoryStorage {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
}

// TestProperty_RoundTrip checks that any batch of documents built from the
// supported value kinds reassembles to deep-equal documents. Objects draw
// their keys as a prefix of one key list, so every table sees names in a
// single consistent order.
func TestTranslate_KeyOrderFollowsColumnOrder(t *testing.T) {
	docs := []*types.Document{
		types.NewDocument("a", int32(1), "sub", types.NewDocument("x", int32(1), "y", int32(2))),
		types.NewDocument("$2", int32(1), "a", nil, "z", types.Array{nil}),
		types.NewDocument("sub", types.NewDocument("y", "two", "x", "one"), "a", int32(3)),
	}
	want := []*types.Document{
		docs[0],
		types.NewDocument("a", nil, "$2", int32(1), "z", types.Array{nil}),
		types.NewDocument("a", int32(3), "sub", types.NewDocument("x", "one", "y", "two")),
	}
	assertEqualDocs(t, want, roundTrip(t, docs...))
}

func TestProperty_KeyOrderIsFirstSeenOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("flat documents come back in first-seen key order", prop.ForAll(
		func(seed int64, count int) bool {
			rng := rand.New(rand.NewSource(seed))
			docs := make([]*types.Document, count)
			rank := make(map[string]int)
			for i := range docs {
				doc := types.NewDocument()
				for _, k := range rng.Perm(len(keys))[:1+rng.Intn(len(keys))] {
					name := keys[k]
					if _, ok := rank[name]; !ok {
						rank[name] = len(rank)
					}
					doc.Set(name, int32(rng.Intn(10)))
				}
				docs[i] = doc
			}

			tr := d2r.ForSchema(schema.New("c"))
			if _, err := tr.TranslateAll(docs); err != nil {
				return false
			}
			res, err := r2d.NewTranslator().Translate(tr.Batch().Streams())
			if err != nil || res.Len() != len(docs) {
				return false
			}
			for i, got := range res.Documents() {
				ordered := append([]string(nil), docs[i].Keys()...)
				sort.Slice(ordered, func(a, b int) bool { return rank[ordered[a]] < rank[ordered[b]] })
				want := types.NewDocument()
				for _, k := range ordered {
					v, _ := docs[i].Get(k)
					want.Set(k, v)
				}
				if !types.Equal(want, got) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestProperty_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("d2r then r2d is the identity", prop.ForAll(
		func(seed int64, count int) bool {
			rng := rand.New(rand.NewSource(seed))
			docs := make([]*types.Document, count)
			for i := range docs {
				docs[i] = randomDocument(rng, 0)
			}

			tr := d2r.ForSchema(schema.New("c"))
			if _, err := tr.TranslateAll(docs); err != nil {
				return false
			}
			if tr.Batch().Validate() != nil {
				return false
			}
			res, err := r2d.NewTranslator().Translate(tr.Batch().Streams())
			if err != nil || res.Len() != len(docs) {
				return false
			}
			for i, got := range res.Documents() {
				if !types.Equal(docs[i], got) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

var keys = []string{"a", "b", "c", "d"}

const maxDepth = 3

func randomDocument(rng *rand.Rand, depth int) *types.Document {
	doc := types.NewDocument()
	for _, k := range keys[:rng.Intn(len(keys)+1)] {
		doc.Set(k, randomValue(rng, depth+1))
	}
	return doc
}

func randomArray(rng *rand.Rand, depth int) types.Array {
	arr := make(types.Array, rng.Intn(4))
	for i := range arr {
		arr[i] = randomValue(rng, depth+1)
	}
	return arr
}

func randomValue(rng *rand.Rand, depth int) any {
	choices := 14
	if depth >= maxDepth {
		choices = 12
	}
	switch rng.Intn(choices) {
	case 0:
		return nil
	case 1:
		return rng.Intn(2) == 0
	case 2:
		return rng.Int31()
	case 3:
		return rng.Int63()
	case 4:
		return rng.NormFloat64()
	case 5:
		return string(rune('a' + rng.Intn(26)))
	case 6:
		return types.Date{Year: 1970 + rng.Intn(100), Month: time.Month(1 + rng.Intn(12)), Day: 1 + rng.Intn(28)}
	case 7:
		return types.NewTimeOfDay(rng.Intn(24), rng.Intn(60), rng.Intn(60), rng.Intn(1e9))
	case 8:
		return time.UnixMilli(rng.Int63n(4e12)).UTC()
	case 9:
		data := make([]byte, rng.Intn(8))
		rng.Read(data)
		return types.Binary{Subtype: byte(rng.Intn(8)), Data: data}
	case 10:
		var id types.ObjectID
		rng.Read(id[:])
		return id
	case 11:
		return types.Timestamp{T: rng.Uint32(), I: rng.Uint32()}
	case 12:
		return randomDocument(rng, depth)
	default:
		return randomArray(rng, depth)
	}
}

type fixture struct {
	root *schema.TableMeta
}

// arrayFixture builds a schema with one array field "xs" holding strings.
func arrayFixture(t *testing.T) (fixture, *schema.TableMeta) {
	t.Helper()
	s := schema.New("c")
	root, err := s.Table(schema.Root())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Field(root, "xs", types.KindChild); err != nil {
		t.Fatal(err)
	}
	elems, err := s.Table(schema.Root().Field("xs"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Scalar(elems, types.KindString); err != nil {
		t.Fatal(err)
	}
	return fixture{root: root}, elems
}

func valid(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: true} }
func seq(v int32) sql.NullInt32   { return sql.NullInt32{Int32: v, Valid: true} }

type fakeRow struct {
	did, rid int64
	pid      sql.NullInt64
	seq      sql.NullInt32
	fields   []any
	scalars  []any
}

func (r fakeRow) DID() int64         { return r.did }
func (r fakeRow) RID() int64         { return r.rid }
func (r fakeRow) PID() sql.NullInt64 { return r.pid }
func (r fakeRow) Seq() sql.NullInt32 { return r.seq }

func (r fakeRow) Field(pos int) any {
	if pos < len(r.fields) {
		return r.fields[pos]
	}
	return nil
}

func (r fakeRow) Scalar(pos int) any {
	if pos < len(r.scalars) {
		return r.scalars[pos]
	}
	return nil
}

type fakeStream struct {
	meta   *schema.TableMeta
	rows   []fakeRow
	pos    int
	err    error
	closed bool
}

func (s *fakeStream) Table() *schema.TableMeta { return s.meta }

func (s *fakeStream) Next() bool {
	if s.err != nil || s.pos >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Row() r2d.RowReader { return s.rows[s.pos-1] }
func (s *fakeStream) Err() error         { return s.err }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
