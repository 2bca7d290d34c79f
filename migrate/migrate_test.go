package migrate

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomquery/loom"
	"github.com/loomquery/loom/dialect"
	loomsql "github.com/loomquery/loom/dialect/sql"
)

func newSQLiteDriver(t *testing.T) *loomsql.Driver {
	t.Helper()
	drv, err := loomsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	return drv
}

func createUsersUnit() Unit {
	return Unit{
		ID:   "20240101000000",
		Name: "create_users_table",
		Up: func(ctx context.Context, drv dialect.Driver, dialectName string) error {
			return drv.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", []any{}, nil)
		},
		Down: func(ctx context.Context, drv dialect.Driver, dialectName string) error {
			return drv.Exec(ctx, "DROP TABLE users", []any{}, nil)
		},
	}
}

func createPostsUnit() Unit {
	return Unit{
		ID:   "20240102000000",
		Name: "create_posts_table",
		Up: func(ctx context.Context, drv dialect.Driver, dialectName string) error {
			return drv.Exec(ctx, "CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER)", []any{}, nil)
		},
		Down: func(ctx context.Context, drv dialect.Driver, dialectName string) error {
			return drv.Exec(ctx, "DROP TABLE posts", []any{}, nil)
		},
	}
}

func tableExists(t *testing.T, drv *loomsql.Driver, name string) bool {
	t.Helper()
	var rows loomsql.Rows
	err := drv.Query(context.Background(), "SELECT name FROM sqlite_master WHERE type='table' AND name = ?", []any{name}, &rows)
	require.NoError(t, err)
	records, err := loomsql.ScanAll(&rows)
	require.NoError(t, err)
	return len(records) == 1
}

func TestRunnerRunAppliesPendingUnitsInOneBatch(t *testing.T) {
	drv := newSQLiteDriver(t)
	src := StaticSource{createUsersUnit(), createPostsUnit()}
	r := NewRunner(drv, src)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))

	assert.True(t, tableExists(t, drv, "users"))
	assert.True(t, tableExists(t, drv, "posts"))

	rows, err := r.appliedRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].batch)
	assert.Equal(t, 1, rows[1].batch)

	// Running again is a no-op: nothing pending.
	require.NoError(t, r.Run(ctx))
	rows, err = r.appliedRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunnerRunAssignsFreshBatchOnSecondCall(t *testing.T) {
	drv := newSQLiteDriver(t)
	src := StaticSource{createUsersUnit()}
	r := NewRunner(drv, src)
	ctx := context.Background()
	require.NoError(t, r.Run(ctx))

	// A later Run call with a newly-discovered unit gets its own batch.
	r2 := NewRunner(drv, StaticSource{createUsersUnit(), createPostsUnit()})
	require.NoError(t, r2.Run(ctx))

	rows, err := r.appliedRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].batch)
	assert.Equal(t, 2, rows[1].batch)
}

func TestRunnerRollbackRevertsLastBatch(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	r := NewRunner(drv, StaticSource{createUsersUnit()})
	require.NoError(t, r.Run(ctx))
	r2 := NewRunner(drv, StaticSource{createUsersUnit(), createPostsUnit()})
	require.NoError(t, r2.Run(ctx))
	require.True(t, tableExists(t, drv, "posts"))

	require.NoError(t, r2.Rollback(ctx, 1))

	assert.False(t, tableExists(t, drv, "posts"))
	assert.True(t, tableExists(t, drv, "users"))

	rows, err := r2.appliedRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "20240101000000_create_users_table", rows[0].migration)
}

func TestRunnerResetRevertsEveryBatch(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	r := NewRunner(drv, StaticSource{createUsersUnit(), createPostsUnit()})
	require.NoError(t, r.Run(ctx))

	require.NoError(t, r.Reset(ctx))

	assert.False(t, tableExists(t, drv, "users"))
	assert.False(t, tableExists(t, drv, "posts"))
	rows, err := r.appliedRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestRunnerRefreshResetsThenReapplies(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	r := NewRunner(drv, StaticSource{createUsersUnit()})
	require.NoError(t, r.Run(ctx))

	require.NoError(t, r.Refresh(ctx))

	assert.True(t, tableExists(t, drv, "users"))
	rows, err := r.appliedRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].batch)
}

func TestRunnerStatusAnnotatesRanAndPending(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	r := NewRunner(drv, StaticSource{createUsersUnit()})
	require.NoError(t, r.Run(ctx))

	r2 := NewRunner(drv, StaticSource{createUsersUnit(), createPostsUnit()})
	statuses, err := r2.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)
}

func TestRunnerRollbackSkipsUnitsWithNoDown(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	noDown := Unit{
		ID:   "20240103000000",
		Name: "irreversible",
		Up: func(ctx context.Context, drv dialect.Driver, dialectName string) error {
			return drv.Exec(ctx, "CREATE TABLE irreversible (id INTEGER PRIMARY KEY)", []any{}, nil)
		},
	}
	r := NewRunner(drv, StaticSource{noDown})
	require.NoError(t, r.Run(ctx))

	require.NoError(t, r.Rollback(ctx, 1))

	// The table survives since Down was nil; the tracking row is left in place.
	assert.True(t, tableExists(t, drv, "irreversible"))
	rows, err := r.appliedRows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunnerRunWrapsFailureInMigrationFailedError(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	broken := Unit{
		ID:   "20240104000000",
		Name: "broken",
		Up: func(ctx context.Context, drv dialect.Driver, dialectName string) error {
			return drv.Exec(ctx, "NOT VALID SQL", []any{}, nil)
		},
	}
	r := NewRunner(drv, StaticSource{broken})

	err := r.Run(ctx)
	require.Error(t, err)
	assert.True(t, loom.IsMigrationFailed(err))
}

func TestRunnerLogsAppliedAndRevertedUnits(t *testing.T) {
	var buf bytes.Buffer
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	r := NewRunner(drv, StaticSource{createUsersUnit()}, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	require.NoError(t, r.Run(ctx))
	out := buf.String()
	assert.Contains(t, out, "applied migration")
	assert.Contains(t, out, "20240101000000_create_users_table")
	assert.Contains(t, out, "batch=1")

	require.NoError(t, r.Rollback(ctx, 1))
	assert.Contains(t, buf.String(), "reverted migration")
}

func TestRenameTableSQL(t *testing.T) {
	assert.Equal(t, "RENAME TABLE old TO new", RenameTableSQL("mysql", "old", "new"))
	assert.Equal(t, "ALTER TABLE old RENAME TO new", RenameTableSQL("postgres", "old", "new"))
	assert.Equal(t, "ALTER TABLE old RENAME TO new", RenameTableSQL("sqlite", "old", "new"))
}

func TestStaticSourceOrdersByID(t *testing.T) {
	src := StaticSource{createPostsUnit(), createUsersUnit()}
	units, err := src.Units(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "20240101000000", units[0].ID)
	assert.Equal(t, "20240102000000", units[1].ID)
}

func TestSplitMigrationFile(t *testing.T) {
	id, name, ok := splitMigrationFile("20240101000000_create_users_table.up.sql", ".up.sql")
	require.True(t, ok)
	assert.Equal(t, "20240101000000", id)
	assert.Equal(t, "create_users_table", name)

	_, _, ok = splitMigrationFile("20240101000000_create_users_table.down.sql", ".up.sql")
	assert.False(t, ok)
}

func TestDirSourceDiscoversPairedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "20240101000000_create_users.up.sql", "CREATE TABLE users (id INTEGER PRIMARY KEY)")
	writeFile(t, dir, "20240101000000_create_users.down.sql", "DROP TABLE users")
	writeFile(t, dir, "20240102000000_create_posts.up.sql", "CREATE TABLE posts (id INTEGER PRIMARY KEY)")

	src, err := NewDirSource(dir)
	require.NoError(t, err)
	units, err := src.Units(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "20240101000000", units[0].ID)
	assert.NotNil(t, units[0].Down)
	assert.Equal(t, "20240102000000", units[1].ID)
	assert.Nil(t, units[1].Down)

	drv := newSQLiteDriver(t)
	r := NewRunner(drv, src)
	require.NoError(t, r.Run(context.Background()))
	assert.True(t, tableExists(t, drv, "users"))
	assert.True(t, tableExists(t, drv, "posts"))
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}
