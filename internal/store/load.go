package store

import (
	"context"

	"github.com/arkilian/docrel/internal/schema"
)

// LoadSchema rebuilds the schema of collection from the catalog, with
// tables in creation order, columns at their persisted positions and
// row-id counters restored. An unknown collection yields an empty schema.
func (s *Store) LoadSchema(ctx context.Context, collection string) (*schema.Schema, error) {
	state, err := loadState(ctx, s.readDB, collection)
	if err != nil {
		return nil, err
	}

	sch := schema.New(collection)
	for _, ts := range state.tables {
		path, ok := schema.ParsePathKey(ts.pathKey)
		if !ok {
			return nil, corruptCatalog("table %s has malformed path key %q", ts.identifier, ts.pathKey)
		}
		meta, err := sch.Table(path)
		if err != nil {
			return nil, err
		}
		if meta.Identifier() != ts.identifier {
			return nil, corruptCatalog("path %s maps to %s, catalog says %s", path, meta.Identifier(), ts.identifier)
		}
		for _, col := range ts.fields {
			fc, err := sch.Field(meta, col.name, col.kind)
			if err != nil {
				return nil, err
			}
			if fc.Position != col.position || fc.Identifier != col.column {
				return nil, corruptCatalog("table %s: field %s restored at %d as %s", ts.identifier, col.column, fc.Position, fc.Identifier)
			}
		}
		for _, col := range ts.scalars {
			sc, err := sch.Scalar(meta, col.kind)
			if err != nil {
				return nil, err
			}
			if sc.Position != col.position {
				return nil, corruptCatalog("table %s: scalar %s restored at %d", ts.identifier, col.column, sc.Position)
			}
		}
		sch.Rids().SetNextRid(path, ts.nextRid)
	}
	return sch, nil
}
