// Package loom is an Active Record-style object-relational mapper for
// relational databases (MySQL, PostgreSQL, SQLite).
package loom

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers commonly check with errors.Is.
var (
	// ErrCancelled is returned when an in-flight operation was aborted by
	// the caller through context cancellation.
	ErrCancelled = errors.New("loom: operation cancelled")

	// ErrNotCountable is returned by withCount (and whereHas/has) when
	// called against a relation kind other than hasOne, hasMany or
	// belongsToMany: belongsTo, the through kinds and the morph kinds.
	ErrNotCountable = errors.New("loom: relation does not support withCount")

	// ErrNotPivot is returned when a pivot mutation (attach/detach/sync/...)
	// is requested against a relation that is not belongsToMany.
	ErrNotPivot = errors.New("loom: relation is not a belongsToMany pivot relation")
)

// DriverUnavailableError is raised on first use of a dialect whose backing
// database/sql driver package was never imported.
type DriverUnavailableError struct {
	Dialect string
	Package string
}

func (e *DriverUnavailableError) Error() string {
	return fmt.Sprintf("loom: driver for dialect %q unavailable: missing import of %q", e.Dialect, e.Package)
}

// NewDriverUnavailableError returns a new DriverUnavailableError.
func NewDriverUnavailableError(dialect, pkg string) *DriverUnavailableError {
	return &DriverUnavailableError{Dialect: dialect, Package: pkg}
}

// IsDriverUnavailable returns true if err is a DriverUnavailableError.
func IsDriverUnavailable(err error) bool {
	var e *DriverUnavailableError
	return errors.As(err, &e)
}

// ConnectionError wraps a failure to establish the initial connection.
type ConnectionError struct {
	Dialect string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("loom: connect (%s): %v", e.Dialect, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError returns a new ConnectionError.
func NewConnectionError(dialect string, err error) *ConnectionError {
	return &ConnectionError{Dialect: dialect, Err: err}
}

// IsConnectionError returns true if err is a ConnectionError.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// QueryError wraps any SQL execution failure raised by a Query Builder
// terminal, carrying the dialect-specific error alongside the entity and
// operation that triggered it.
type QueryError struct {
	Entity string
	Op     string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("loom: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("loom: querying %s: %v", e.Entity, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	if err == nil {
		return nil
	}
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if err is a QueryError.
func IsQueryError(err error) bool {
	var e *QueryError
	return errors.As(err, &e)
}

// NotFoundError is returned by firstOrFail/findOrFail when no row matches.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("loom: %s not found (id=%v)", e.Entity, e.ID)
	}
	return fmt.Sprintf("loom: %s not found", e.Entity)
}

// NewNotFoundError returns a new NotFoundError.
func NewNotFoundError(entity string) *NotFoundError {
	return &NotFoundError{Entity: entity}
}

// NewNotFoundErrorWithID returns a new NotFoundError carrying the searched id.
func NewNotFoundErrorWithID(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound returns true if err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// RelationUnknownError is returned when a builder or instance method
// references a relation name that was never declared on the EntityType.
type RelationUnknownError struct {
	Entity   string
	Relation string
}

func (e *RelationUnknownError) Error() string {
	return fmt.Sprintf("loom: entity %q has no relation %q", e.Entity, e.Relation)
}

// NewRelationUnknownError returns a new RelationUnknownError.
func NewRelationUnknownError(entity, relation string) *RelationUnknownError {
	return &RelationUnknownError{Entity: entity, Relation: relation}
}

// IsRelationUnknown returns true if err is a RelationUnknownError.
func IsRelationUnknown(err error) bool {
	var e *RelationUnknownError
	return errors.As(err, &e)
}

// MorphUnresolvedError is returned when a polymorphic type column's value
// has no entry in the process-wide MorphMap.
type MorphUnresolvedError struct {
	MorphType string
}

func (e *MorphUnresolvedError) Error() string {
	return fmt.Sprintf("loom: no MorphMap entry for type %q", e.MorphType)
}

// NewMorphUnresolvedError returns a new MorphUnresolvedError.
func NewMorphUnresolvedError(morphType string) *MorphUnresolvedError {
	return &MorphUnresolvedError{MorphType: morphType}
}

// IsMorphUnresolved returns true if err is a MorphUnresolvedError.
func IsMorphUnresolved(err error) bool {
	var e *MorphUnresolvedError
	return errors.As(err, &e)
}

// CastFailedError is the base ingress-cast failure. JSONParseError and
// DateParseError refine it for their respective cast kinds.
type CastFailedError struct {
	Attribute string
	Cast      string
	Value     any
	Err       error
}

func (e *CastFailedError) Error() string {
	return fmt.Sprintf("loom: cast %s failed for attribute %q (value %v): %v", e.Cast, e.Attribute, e.Value, e.Err)
}

func (e *CastFailedError) Unwrap() error { return e.Err }

// NewCastFailedError returns a new CastFailedError.
func NewCastFailedError(attribute, cast string, value any, err error) *CastFailedError {
	return &CastFailedError{Attribute: attribute, Cast: cast, Value: value, Err: err}
}

// IsCastFailed returns true if err is a CastFailedError (including the more
// specific JSONParseError and DateParseError).
func IsCastFailed(err error) bool {
	var e *CastFailedError
	return errors.As(err, &e)
}

// JSONParseError is returned by the json cast on malformed input.
type JSONParseError struct{ *CastFailedError }

// NewJSONParseError returns a new JSONParseError.
func NewJSONParseError(attribute string, value any, err error) *JSONParseError {
	return &JSONParseError{NewCastFailedError(attribute, "json", value, err)}
}

// IsJSONParse returns true if err is a JSONParseError.
func IsJSONParse(err error) bool {
	var e *JSONParseError
	return errors.As(err, &e)
}

// DateParseError is returned by the date cast on malformed input.
type DateParseError struct{ *CastFailedError }

// NewDateParseError returns a new DateParseError.
func NewDateParseError(attribute string, value any, err error) *DateParseError {
	return &DateParseError{NewCastFailedError(attribute, "date", value, err)}
}

// IsDateParse returns true if err is a DateParseError.
func IsDateParse(err error) bool {
	var e *DateParseError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation (unique,
// foreign key, or check), classified by dialect/sql/sqlgraph.
type ConstraintError struct {
	Msg string
	Err error
}

func (e *ConstraintError) Error() string { return fmt.Sprintf("loom: constraint failed: %s", e.Msg) }
func (e *ConstraintError) Unwrap() error { return e.Err }

// NewConstraintError returns a new ConstraintError.
func NewConstraintError(msg string, err error) *ConstraintError {
	return &ConstraintError{Msg: msg, Err: err}
}

// IsConstraintError returns true if err is a ConstraintError.
func IsConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e)
}

// MigrationFailedError wraps the underlying error raised while applying or
// reverting a migration Unit, naming the offending unit's identifier.
type MigrationFailedError struct {
	Unit string
	Err  error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("loom: migration %s failed: %v", e.Unit, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// NewMigrationFailedError returns a new MigrationFailedError.
func NewMigrationFailedError(unit string, err error) *MigrationFailedError {
	return &MigrationFailedError{Unit: unit, Err: err}
}

// IsMigrationFailed returns true if err is a MigrationFailedError.
func IsMigrationFailed(err error) bool {
	var e *MigrationFailedError
	return errors.As(err, &e)
}

// IsCancelled returns true if err is, or wraps, ErrCancelled or a context
// cancellation/deadline error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
