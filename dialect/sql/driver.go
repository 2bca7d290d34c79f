package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/loomquery/loom/dialect"
)

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given an ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Driver is a dialect.Driver implementation for database/sql-backed
// connections. For SQLite it serializes callers through a weighted
// semaphore of size one: MySQL and
// Postgres keep database/sql's own pool, single-connection dialects are
// queued internally so a second caller never observes a "too many
// connections" failure from a backend that genuinely only accepts one.
type Driver struct {
	Conn
	dialectName string
	sem         *semaphore.Weighted // nil for pooled dialects
	log         *slog.Logger        // nil means slog.Default()
}

// NewDriver creates a new Driver with the given Conn and dialect.
func NewDriver(dialectName string, c Conn) *Driver {
	d := &Driver{dialectName: dialectName, Conn: c}
	if dialectName == dialect.SQLite {
		d.sem = semaphore.NewWeighted(1)
	}
	return d
}

// SetLogger injects the structured logger every statement is logged
// through at debug level. The default is slog.Default().
func (d *Driver) SetLogger(l *slog.Logger) *Driver {
	d.log = l
	return d
}

func (d Driver) logger() *slog.Logger {
	if d.log == nil {
		return slog.Default()
	}
	return d.log
}

// Open wraps database/sql.Open and returns a dialect.Driver.
//
// Open returns an error if driverName was never registered with
// database/sql (the blank import of the dialect's database/sql driver
// package is missing).
func Open(driverName, source string) (*Driver, error) {
	if !driverRegistered(driverName) {
		return nil, missingDriverError(driverName)
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return NewDriver(driverName, Conn{db, driverName}), nil
}

// OpenDB wraps an already-opened database/sql.DB with a Driver.
func OpenDB(dialectName string, db *sql.DB) *Driver {
	return NewDriver(dialectName, Conn{db, dialectName})
}

func driverRegistered(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func missingDriverError(name string) error {
	pkg := map[string]string{
		dialect.MySQL:    "github.com/go-sql-driver/mysql",
		dialect.Postgres: "github.com/lib/pq",
		dialect.SQLite:   "modernc.org/sqlite",
	}[name]
	if pkg == "" {
		pkg = name
	}
	return &driverUnavailable{dialectName: name, pkg: pkg}
}

type driverUnavailable struct {
	dialectName string
	pkg         string
}

func (e *driverUnavailable) Error() string {
	return fmt.Sprintf("dialect/sql: driver %q unavailable: missing import of %q", e.dialectName, e.pkg)
}

// Dialect implements dialect.Driver.
func (d Driver) Dialect() string {
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(d.dialectName, name) {
			return name
		}
	}
	return d.dialectName
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// TxOptions is an alias to sql.TxOptions.
type TxOptions = sql.TxOptions

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		if d.sem != nil {
			d.sem.Release(1)
		}
		return nil, err
	}
	release := func() {}
	if d.sem != nil {
		release = func() { d.sem.Release(1) }
	}
	d.logger().DebugContext(ctx, "begin transaction", "dialect", d.dialectName)
	return &Tx{Conn: Conn{tx, d.dialectName}, tx: tx, release: release, log: d.logger()}, nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx implements dialect.Tx.
type Tx struct {
	Conn
	tx      *sql.Tx
	release func()
	log     *slog.Logger
}

// Dialect implements dialect.Driver.
func (t *Tx) Dialect() string { return t.Conn.dialect }

// Tx implements dialect.Driver; a transaction cannot nest another one.
func (t *Tx) Tx(context.Context) (dialect.Tx, error) {
	return nil, errors.New("dialect/sql: Tx cannot start a nested transaction")
}

// Close is a no-op; a transaction is ended by Commit or Rollback.
func (t *Tx) Close() error { return nil }

// Commit commits the transaction.
func (t *Tx) Commit() error {
	err := t.tx.Commit()
	t.release()
	t.log.Debug("commit transaction", "dialect", t.Conn.dialect, "err", err)
	return err
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	t.release()
	t.log.Debug("rollback transaction", "dialect", t.Conn.dialect, "err", err)
	return err
}

var _ dialect.Tx = (*Tx)(nil)

// acquire blocks until the driver's single-connection semaphore admits
// one more caller. It is a no-op for pooled dialects.
func (d Driver) acquire(ctx context.Context) (func(), error) {
	if d.sem == nil {
		return func() {}, nil
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { d.sem.Release(1) }, nil
}

// Exec implements dialect.ExecQuerier.Exec, serializing against the
// single-connection semaphore when one is configured. Every statement is
// logged at debug level through the injected logger.
func (d Driver) Exec(ctx context.Context, query string, args, v any) error {
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	start := time.Now()
	err = d.Conn.Exec(ctx, query, args, v)
	d.logStatement(ctx, "exec", query, args, time.Since(start), err)
	return err
}

// Query implements dialect.ExecQuerier.Query, serializing against the
// single-connection semaphore when one is configured. The returned Rows
// hold the semaphore until closed, since the result set is still being
// streamed off the single connection.
func (d Driver) Query(ctx context.Context, query string, args, v any) error {
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := d.Conn.Query(ctx, query, args, v); err != nil {
		release()
		d.logStatement(ctx, "query", query, args, time.Since(start), err)
		return err
	}
	d.logStatement(ctx, "query", query, args, time.Since(start), nil)
	if vr, ok := v.(*Rows); ok {
		vr.ColumnScanner = rowsWithCloser{vr.ColumnScanner, func() error { release(); return nil }}
	} else {
		release()
	}
	return nil
}

// logStatement emits one debug record per statement; failures are raised
// to warn level so they surface without a debug-level handler.
func (d Driver) logStatement(ctx context.Context, op, query string, args any, dur time.Duration, err error) {
	level := slog.LevelDebug
	attrs := []any{"op", op, "dialect", d.dialectName, "sql", query, "args", args, "duration", dur}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, "err", err)
	}
	d.logger().Log(ctx, level, "statement", attrs...)
}

// Exec implements the dialect.Exec method on the bare Conn (used directly
// by transactions, which hold the semaphore for their whole lifetime).
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
	case *ExecResult:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
		affected, _ := res.RowsAffected()
		lastID, _ := res.LastInsertId()
		*v = ExecResult{Affected: affected, LastInsertID: lastID, Result: res}
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *ExecResult", v)
	}
	return nil
}

// Query implements the dialect.Query method.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	return nil
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows wraps sql.Rows to avoid a locks copy.
	Rows struct{ ColumnScanner }
	// NullBool is an alias to sql.NullBool.
	NullBool = sql.NullBool
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// NullFloat64 is an alias to sql.NullFloat64.
	NullFloat64 = sql.NullFloat64
	// NullTime represents a time.Time that may be null.
	NullTime = sql.NullTime
)

// ExecResult is the driver adapter's report of an Exec call's outcome:
// affected row count and, for an INSERT, the last inserted key per the
// dialect's identity strategy.
type ExecResult struct {
	Affected     int64
	LastInsertID int64
	// Result is the raw database/sql.Result, kept for dialects (Postgres)
	// that report identity through a RETURNING row instead.
	Result sql.Result
}

// ColumnScanner is the interface wrapping the standard sql.Rows methods
// used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

func (r rowsWithCloser) Close() error {
	err := r.ColumnScanner.Close()
	return errors.Join(err, r.closer())
}
