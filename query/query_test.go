package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/loomquery/loom"
	loomsql "github.com/loomquery/loom/dialect/sql"
)

func newSQLiteDriver(t *testing.T) *loomsql.Driver {
	t.Helper()
	drv, err := loomsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	return drv
}

func exec(t *testing.T, drv *loomsql.Driver, stmt string) {
	t.Helper()
	require.NoError(t, drv.Exec(context.Background(), stmt, []any{}, nil))
}

func newUserType(t *testing.T, drv *loomsql.Driver) *loom.EntityType {
	t.Helper()
	exec(t, drv, `CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		age INTEGER,
		active INTEGER NOT NULL DEFAULT 1
	)`)
	return loom.RegisterEntityType(t.Name()+"_user", loom.EntityTypeConfig{
		TableName:  "users",
		Connection: drv,
	})
}

func TestBuilderInsertAndGet(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "ada", "age": 30, "active": 1}))
	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "grace", "age": 40, "active": 0}))

	rows, err := For(ut).OrderBy("name", false).Get(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0].Str("name"))
	assert.Equal(t, "grace", rows[1].Str("name"))
}

func TestBuilderWhereFiltersRows(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).InsertMany(ctx, []map[string]any{
		{"name": "ada", "age": 30, "active": 1},
		{"name": "grace", "age": 40, "active": 0},
	}))

	rows, err := For(ut).Where("active", "=", 1).Get(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0].Str("name"))
}

func TestBuilderFirstAndFirstOrFail(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	_, ok, err := For(ut).Where("name", "=", "nobody").First(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = For(ut).Where("name", "=", "nobody").FirstOrFail(ctx)
	require.Error(t, err)
	assert.True(t, loom.IsNotFound(err))

	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "ada", "age": 30, "active": 1}))
	row, err := For(ut).Where("name", "=", "ada").FirstOrFail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", row.Str("name"))
}

func TestBuilderCountAndExists(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	n, err := For(ut).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	exists, err := For(ut).Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, For(ut).InsertMany(ctx, []map[string]any{
		{"name": "ada", "age": 30, "active": 1},
		{"name": "grace", "age": 40, "active": 1},
	}))

	n, err = For(ut).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exists, err = For(ut).Where("name", "=", "ada").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBuilderUpdateAndDelete(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).InsertMany(ctx, []map[string]any{
		{"name": "ada", "age": 30, "active": 1},
		{"name": "grace", "age": 40, "active": 1},
	}))

	affected, err := For(ut).Where("name", "=", "ada").Update(ctx, map[string]any{"age": 31})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	row, err := For(ut).Where("name", "=", "ada").FirstOrFail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31), row.Int("age"))

	deleted, err := For(ut).Where("name", "=", "grace").Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := For(ut).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestBuilderIncrementDecrement(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "ada", "age": 30, "active": 1}))

	require.NoError(t, For(ut).Where("name", "=", "ada").Increment(ctx, "age", 1))
	row, err := For(ut).Where("name", "=", "ada").FirstOrFail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31), row.Int("age"))

	require.NoError(t, For(ut).Where("name", "=", "ada").Decrement(ctx, "age", 5))
	row, err = For(ut).Where("name", "=", "ada").FirstOrFail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(26), row.Int("age"))
}

func TestBuilderPaginate(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "user", "age": i, "active": 1}))
	}

	page, err := For(ut).OrderBy("age", false).Paginate(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.LastPage)
	require.Len(t, page.Data, 2)
	assert.Equal(t, int64(2), page.Data[0].Int("age"))
	require.NotNil(t, page.From)
	assert.Equal(t, 3, *page.From)
}

func TestBuilderCloneIsIndependent(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).InsertMany(ctx, []map[string]any{
		{"name": "ada", "age": 30, "active": 1},
		{"name": "grace", "age": 40, "active": 1},
	}))

	base := For(ut)
	clone := base.Clone().Where("name", "=", "ada")

	baseRows, err := base.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, baseRows, 2, "mutating the clone must not affect the original builder")

	cloneRows, err := clone.Get(ctx)
	require.NoError(t, err)
	require.Len(t, cloneRows, 1)
	assert.Equal(t, "ada", cloneRows[0].Str("name"))
}

func TestBuilderWhereHasOnUnknownRelationDefersError(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	_, err := For(ut).WhereHas("posts").Get(ctx)
	require.Error(t, err)
	assert.True(t, loom.IsRelationUnknown(err))
}

func TestBuilderWithHiddenRevealsHiddenAttributes(t *testing.T) {
	drv := newSQLiteDriver(t)
	exec(t, drv, `CREATE TABLE accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		password TEXT
	)`)
	ut := loom.RegisterEntityType(t.Name()+"_account", loom.EntityTypeConfig{
		TableName:  "accounts",
		Connection: drv,
		Hidden:     []string{"password"},
	})
	ctx := context.Background()
	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "ada", "password": "secret"}))

	row, err := For(ut).FirstOrFail(ctx)
	require.NoError(t, err)
	_, present := row.ToJSON()["password"]
	assert.False(t, present)

	revealed, err := For(ut).WithHidden().FirstOrFail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", revealed.ToJSON()["password"])
}
