package dialect

import "context"

// Dialect name constants. The Query Compiler and Migration Runner switch
// on these verbatim; the Driver Adapter reports one of them from Dialect().
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// ExecQuerier wraps the standard Exec and Query methods. Both Driver and
// Tx embed it, so a caller holding either can issue statements uniformly.
type ExecQuerier interface {
	// Exec executes a query that doesn't return rows. args must be a
	// []any parameter vector produced by the Query Compiler; v, when
	// non-nil, receives the driver-reported {affected rows, last inserted
	// key}.
	Exec(ctx context.Context, query string, args, v any) error

	// Query executes a query that returns rows. v receives the rows in a
	// driver-specific scanning form (see dialect/sql.Rows).
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the capability a caller injects into this ORM core: execute
// parameterized SQL, start transactions, and report its dialect.
type Driver interface {
	ExecQuerier

	// Tx begins and returns a transaction.
	Tx(ctx context.Context) (Tx, error)

	// Close closes the underlying connection(s).
	Close() error

	// Dialect reports one of MySQL, Postgres, or SQLite.
	Dialect() string
}

// Tx is a Driver bound to an in-flight transaction.
type Tx interface {
	Driver

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction.
	Rollback() error
}
