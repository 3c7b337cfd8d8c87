package store

import (
	"context"
	"database/sql"
	"fmt"

	dkerrors "github.com/arkilian/docrel/internal/errors"
	"github.com/arkilian/docrel/pkg/types"
)

// columnState is one persisted column as recorded in _docrel_columns.
type columnState struct {
	position int
	name     string
	kind     types.Kind
	column   string
}

// tableState is one persisted table with its columns in position order.
type tableState struct {
	identifier string
	pathKey    string
	depth      int
	ordinal    int
	nextRid    int64
	fields     []columnState
	scalars    []columnState
}

// collectionState is what the catalog knows about one collection.
type collectionState struct {
	tables []*tableState
	byPath map[string]*tableState
}

func (c *collectionState) lookup(pathKey string) (*tableState, bool) {
	t, ok := c.byPath[pathKey]
	return t, ok
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadState reads the catalog entries of collection, tables in creation order.
func loadState(ctx context.Context, q querier, collection string) (*collectionState, error) {
	state := &collectionState{byPath: make(map[string]*tableState)}
	byIdent := make(map[string]*tableState)

	rows, err := q.QueryContext(ctx, `
		SELECT identifier, path_key, depth, ordinal, next_rid
		FROM _docrel_tables WHERE collection = ? ORDER BY ordinal`, collection)
	if err != nil {
		return nil, queryError("read tables of "+collection, err)
	}
	for rows.Next() {
		t := &tableState{}
		if err := rows.Scan(&t.identifier, &t.pathKey, &t.depth, &t.ordinal, &t.nextRid); err != nil {
			rows.Close()
			return nil, queryError("scan table", err)
		}
		state.tables = append(state.tables, t)
		state.byPath[t.pathKey] = t
		byIdent[t.identifier] = t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, queryError("read tables of "+collection, err)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT c.table_identifier, c.role, c.position, c.name, c.kind, c.column_name
		FROM _docrel_columns c JOIN _docrel_tables t ON t.identifier = c.table_identifier
		WHERE t.collection = ?
		ORDER BY c.table_identifier, c.role, c.position`, collection)
	if err != nil {
		return nil, queryError("read columns of "+collection, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ident, role, kindTag string
			col                  columnState
		)
		if err := rows.Scan(&ident, &role, &col.position, &col.name, &kindTag, &col.column); err != nil {
			return nil, queryError("scan column", err)
		}
		if len(kindTag) != 1 {
			return nil, corruptCatalog("column %s.%s has unknown kind %q", ident, col.column, kindTag)
		}
		kind, ok := types.KindFromTag(kindTag[0])
		if !ok {
			return nil, corruptCatalog("column %s.%s has unknown kind %q", ident, col.column, kindTag)
		}
		col.kind = kind
		t, ok := byIdent[ident]
		if !ok {
			return nil, corruptCatalog("column %s of unknown table %s", col.column, ident)
		}
		switch role {
		case "f":
			if col.position != len(t.fields) {
				return nil, corruptCatalog("table %s: field column %s at position %d, expected %d", ident, col.column, col.position, len(t.fields))
			}
			t.fields = append(t.fields, col)
		default:
			if col.position != len(t.scalars) {
				return nil, corruptCatalog("table %s: scalar column %s at position %d, expected %d", ident, col.column, col.position, len(t.scalars))
			}
			t.scalars = append(t.scalars, col)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("read columns of "+collection, err)
	}
	return state, nil
}

func corruptCatalog(format string, args ...any) error {
	return dkerrors.New(dkerrors.ErrCategoryStorage, dkerrors.CodeCorruptionDetected, "store: "+fmt.Sprintf(format, args...))
}
