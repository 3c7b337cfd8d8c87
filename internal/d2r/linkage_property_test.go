package d2r

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/docrel/internal/batch"
	"github.com/arkilian/docrel/internal/schema"
	"github.com/arkilian/docrel/pkg/types"
)

// TestProperty_RowLinkage checks that every non-root row points at a row of
// its parent table and inherits that row's did.
func TestProperty_RowLinkage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("pid and did link every row to its parent", prop.ForAll(
		func(seed int64, count int) bool {
			rng := rand.New(rand.NewSource(seed))
			docs := make([]*types.Document, count)
			for i := range docs {
				docs[i] = nestedDocument(rng, 0)
			}

			tr := ForSchema(schema.New("c"))
			if _, err := tr.TranslateAll(docs); err != nil {
				return false
			}
			return linked(tr.Batch())
		},
		gen.Int64(),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func linked(b *batch.CollectionBatch) bool {
	dids := make(map[*batch.Table]map[int64]int64)
	for _, table := range b.Tables() {
		own := make(map[int64]int64, table.Len())
		for _, row := range table.Rows() {
			if _, dup := own[row.RID]; dup {
				return false
			}
			if table.Parent() == nil {
				if row.PID.Valid || row.DID != row.RID {
					return false
				}
			} else {
				parentDID, ok := dids[table.Parent()][row.PID.Int64]
				if !row.PID.Valid || !ok || parentDID != row.DID {
					return false
				}
			}
			own[row.RID] = row.DID
		}
		dids[table] = own
	}
	return b.Documents() > 0
}

func nestedDocument(rng *rand.Rand, depth int) *types.Document {
	doc := types.NewDocument()
	for _, k := range []string{"a", "b", "c"}[:rng.Intn(4)] {
		doc.Set(k, nestedValue(rng, depth+1))
	}
	return doc
}

func nestedValue(rng *rand.Rand, depth int) any {
	n := 5
	if depth >= 3 {
		n = 3
	}
	switch rng.Intn(n) {
	case 0:
		return rng.Int31()
	case 1:
		return "s"
	case 2:
		return nil
	case 3:
		return nestedDocument(rng, depth)
	default:
		arr := make(types.Array, rng.Intn(4))
		for i := range arr {
			arr[i] = nestedValue(rng, depth+1)
		}
		return arr
	}
}
