// This file adds StatsDriver, the counters decorator over Driver:
// per-statement totals, error and constraint-violation counts, and
// slow-statement detection logged through the driver's injected logger.

package sql

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loomquery/loom/dialect"
	"github.com/loomquery/loom/dialect/sql/sqlgraph"
)

// QueryStats accumulates per-statement counters. All fields are atomic;
// a QueryStats may be read while statements are still in flight.
type QueryStats struct {
	// Queries is the number of row-returning statements executed.
	Queries atomic.Int64
	// Execs is the number of non-row statements executed.
	Execs atomic.Int64
	// Duration is the total time spent in statements, in nanoseconds.
	Duration atomic.Int64
	// Slow is the number of statements exceeding the slow threshold.
	Slow atomic.Int64
	// Errors is the number of failed statements.
	Errors atomic.Int64
	// ConstraintErrors is the subset of Errors sqlgraph recognized as a
	// unique/foreign-key/check violation rather than a connection
	// failure, timeout, or syntax error.
	ConstraintErrors atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (s *QueryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:          s.Queries.Load(),
		Execs:            s.Execs.Load(),
		Duration:         time.Duration(s.Duration.Load()),
		Slow:             s.Slow.Load(),
		Errors:           s.Errors.Load(),
		ConstraintErrors: s.ConstraintErrors.Load(),
	}
}

// StatsSnapshot is one consistent read of a QueryStats.
type StatsSnapshot struct {
	Queries          int64
	Execs            int64
	Duration         time.Duration
	Slow             int64
	Errors           int64
	ConstraintErrors int64
}

// AvgDuration returns the mean statement duration across queries and
// execs, or zero when nothing has run.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.Queries + s.Execs
	if total == 0 {
		return 0
	}
	return s.Duration / time.Duration(total)
}

// StatsDriver decorates a Driver with statement counters. Slow
// statements are logged at warn level through the underlying driver's
// logger (see Driver.SetLogger). Install it wherever a dialect.Driver is
// accepted, typically via EntityType.SetConnection:
//
//	drv, _ := sql.Open(dialect.SQLite, ":memory:")
//	stats := sql.NewStatsDriver(drv, sql.WithSlowThreshold(200*time.Millisecond))
//	userType.SetConnection(stats)
//	...
//	snap := stats.QueryStats().Snapshot()
type StatsDriver struct {
	*Driver
	stats         *QueryStats
	slowThreshold time.Duration
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration beyond which a statement counts
// as slow and is logged at warn level. Default 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.slowThreshold = d }
}

// NewStatsDriver wraps drv with statement counters.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// Query executes a row-returning statement and records it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, start, err, true)
	return err
}

// Exec executes a statement and records it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, start, err, false)
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.Queries.Add(1)
	} else {
		d.stats.Execs.Add(1)
	}
	d.stats.Duration.Add(int64(duration))
	if err != nil {
		d.stats.Errors.Add(1)
		if sqlgraph.IsConstraintError(err) {
			d.stats.ConstraintErrors.Add(1)
		}
	}
	if duration > d.slowThreshold {
		d.stats.Slow.Add(1)
		d.Driver.logger().WarnContext(ctx, "slow statement",
			"sql", query, "duration", duration, "threshold", d.slowThreshold)
	}
}

// Tx starts a transaction whose statements are recorded too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{tx: tx, driver: d}, nil
}

// StatsTx records statements executed inside a transaction against the
// owning StatsDriver's counters.
type StatsTx struct {
	tx     dialect.Tx
	driver *StatsDriver
}

// Query executes a row-returning statement within the transaction.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.tx.Query(ctx, query, args, v)
	tx.driver.record(ctx, query, start, err, true)
	return err
}

// Exec executes a statement within the transaction.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.tx.Exec(ctx, query, args, v)
	tx.driver.record(ctx, query, start, err, false)
	return err
}

// Tx satisfies dialect.Tx's embedded Driver.Tx by delegating to the
// wrapped transaction.
func (tx *StatsTx) Tx(ctx context.Context) (dialect.Tx, error) {
	return tx.tx.Tx(ctx)
}

// Close closes the wrapped transaction's underlying connection(s).
func (tx *StatsTx) Close() error {
	return tx.tx.Close()
}

// Dialect reports the wrapped transaction's dialect.
func (tx *StatsTx) Dialect() string {
	return tx.tx.Dialect()
}

// Commit commits the wrapped transaction.
func (tx *StatsTx) Commit() error {
	return tx.tx.Commit()
}

// Rollback aborts the wrapped transaction.
func (tx *StatsTx) Rollback() error {
	return tx.tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
)
