// Package sql implements the query compilation engine:
// a dialect-neutral intermediate representation (IR) of a single SELECT,
// INSERT, UPDATE, or DELETE statement, a compiler that renders it to SQL
// text and a left-to-right parameter vector per dialect, and the
// Conn/Driver/Tx adapter wrapping database/sql to satisfy the
// dialect.Driver contract.
//
// A typical caller builds an *IR, calls Compile with the target dialect
// name, and executes the result through a dialect.Driver:
//
//	q := sql.New("users").
//		Where(sql.And, "status", "=", "active").
//		OrderBy("created_at", sql.Desc).
//		SetLimit(10)
//	query, args, err := q.Compile(dialect.Postgres)
package sql
