// Package mysql registers the MySQL database/sql driver and opens
// MySQL-backed connections. Importing it (even blank) is what satisfies
// the driver-availability check in dialect/sql.Open for the mysql
// dialect.
package mysql

import (
	_ "github.com/go-sql-driver/mysql"

	"github.com/loomquery/loom/dialect"
	sql "github.com/loomquery/loom/dialect/sql"
)

// Open opens a pooled MySQL connection for the given DSN, e.g.
// "user:pass@tcp(127.0.0.1:3306)/app?parseTime=true". parseTime should be
// enabled so DATETIME columns scan as time.Time for the date cast.
func Open(dsn string) (*sql.Driver, error) {
	return sql.Open(dialect.MySQL, dsn)
}
