// Package dialect provides the database dialect abstraction consumed by
// every other package in this module.
//
// It defines the Driver Adapter surface of the ORM core: the neutral
// interface a caller-supplied database/sql-backed connection must satisfy
// (Exec, Query, Tx, Close, Dialect), and the dialect name constants that
// the Query Compilation Engine and Migration Runner branch on.
//
// # Supported dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Sub-packages
//
//   - dialect/sql: the Query IR, dialect compilers, and the Conn/Driver
//     adapter wrapping database/sql.
//   - dialect/sql/sqlgraph: constraint-error classification shared by the
//     Entity Model and Query Builder.
package dialect
