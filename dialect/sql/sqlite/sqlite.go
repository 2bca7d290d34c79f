// Package sqlite registers the pure-Go SQLite database/sql driver
// (modernc.org/sqlite) and opens SQLite-backed connections. Importing it
// (even blank) is what satisfies the driver-availability check in
// dialect/sql.Open for the sqlite dialect.
package sqlite

import (
	_ "modernc.org/sqlite"

	"github.com/loomquery/loom/dialect"
	sql "github.com/loomquery/loom/dialect/sql"
)

// Open opens a SQLite connection for the given source: a file path, or
// ":memory:" for an in-memory database. The returned driver serializes
// concurrent callers through its internal single-connection queue.
func Open(source string) (*sql.Driver, error) {
	return sql.Open(dialect.SQLite, source)
}
