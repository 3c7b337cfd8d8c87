// Package r2d reassembles documents from the per-table row streams produced
// by the document-to-relational mapping.
package r2d

import (
	"database/sql"

	"github.com/arkilian/docrel/internal/schema"
)

// RowReader exposes one row of a table stream. Field and Scalar return nil
// for positions the row does not carry, including columns added to the
// table after the row was written.
type RowReader interface {
	DID() int64
	RID() int64
	PID() sql.NullInt64
	Seq() sql.NullInt32
	Field(pos int) any
	Scalar(pos int) any
}

// RowStream iterates the rows of one table. Streams handed to Translate must
// be ordered by ascending table depth.
type RowStream interface {
	Table() *schema.TableMeta
	Next() bool
	Row() RowReader
	Err() error
	Close() error
}
