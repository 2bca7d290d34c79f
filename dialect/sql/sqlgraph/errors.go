// Package sqlgraph classifies the raw error a database/sql driver hands back
// from a failed Exec/Query into the constraint kind (unique, foreign key,
// check) it represents, without importing any one driver's error type.
package sqlgraph

import (
	"errors"
	"strings"
)

// errorCoder is an interface for database errors that provide error codes.
// Implemented by: pq.Error, pgx, mysql.MySQLError, modernc.org/sqlite, etc.
type errorCoder interface {
	Code() string
}

// errorNumberer is an interface for database errors that provide numeric error codes.
// Implemented by: mysql.MySQLError (Number field via method).
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error, pgx, and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// Constraint kind names returned by Classify, shared with the caller's
// loom.NewConstraintError(kind, err) call so the wrapped error's message
// names the actual violated constraint family.
const (
	Unique     = "unique"
	ForeignKey = "foreign key"
	Check      = "check"
)

// Classify reports whether err resulted from a unique, foreign-key, or check
// constraint violation, returning the matching kind constant. The caller
// (entity.go's insert/update/delete paths) wraps a positive match in
// loom.NewConstraintError before returning it, so package loom, not this
// package, owns the concrete error type — sqlgraph only recognizes the
// driver-level shape of the violation.
func Classify(err error) (kind string, ok bool) {
	switch {
	case err == nil:
		return "", false
	case isViolation(err, pgUniqueViolation, mysqlDuplicateEntry,
		"Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return Unique, true
	case isForeignKeyViolation(err):
		return ForeignKey, true
	case isViolation(err, pgCheckViolation, mysqlCheckConstraintViolate,
		"Error 3819", "violates check constraint", "CHECK constraint failed"):
		return Check, true
	default:
		return "", false
	}
}

// IsConstraintError returns true if err resulted from any of the three
// constraint violations this package recognizes.
func IsConstraintError(err error) bool {
	_, ok := Classify(err)
	return ok
}

// isForeignKeyViolation checks MySQL's two foreign-key error numbers (parent-
// row delete/update vs. child-row insert/update) in addition to isViolation's
// single-pgCode/string-fallback checks, since both MySQL numbers mean the
// same kind for Classify's purposes.
func isForeignKeyViolation(err error) bool {
	if isViolation(err, pgForeignKeyViolation, 0,
		"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed") {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok {
		return e.Number() == mysqlForeignKeyParent || e.Number() == mysqlForeignKeyChild
	}
	return false
}

// isViolation reports whether err carries pgCode (via SQLSTATE or pq-style
// error code), mysqlNum (via a Number() method, 0 to skip), or any of
// substrings (as a last-resort string match against err.Error()).
func isViolation(err error, pgCode string, mysqlNum uint16, substrings ...string) bool {
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgCode {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgCode {
		return true
	}
	if mysqlNum != 0 {
		if e, ok := asError[errorNumberer](err); ok && e.Number() == mysqlNum {
			return true
		}
	}
	return containsAny(err.Error(), substrings...)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
