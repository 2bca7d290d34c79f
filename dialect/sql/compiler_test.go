package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomquery/loom/dialect"
)

func TestCompileSelect_Basic(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtSelect

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users", query)
	assert.Empty(t, args)
}

func TestCompileSelect_DistinctJoinGroupOrderLimitOffset(t *testing.T) {
	ir := New("users").
		Select("users.id", "users.name").
		SetDistinct().
		Join(LeftJoin, "posts", "posts.user_id", "=", "users.id")
	ir.Stmt = StmtSelect
	ir.GroupBy("users.id")
	ir.SetLimit(10)
	ir.SetOffset(5)
	ir.OrderBy("users.id", Asc)

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT DISTINCT users.id, users.name FROM users LEFT JOIN posts ON posts.user_id = users.id GROUP BY users.id ORDER BY users.id ASC LIMIT 10 OFFSET 5",
		query)
	assert.Empty(t, args)
}

func TestCompileSelect_EveryPredicateKind(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtSelect
	ir.Where(And, "name", "=", "Alice").
		WhereIn(And, "role", "admin", "editor").
		WhereNotIn(And, "status", "banned").
		WhereNull(And, "deleted_at").
		WhereNotNull(And, "verified_at").
		WhereBetween(And, "age", 18, 65).
		WhereLike(And, "email", "%@example.com").
		WhereRaw(Or, "EXISTS (SELECT 1 FROM posts WHERE posts.user_id = users.id)")

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM users WHERE name = ? AND role IN (?, ?) AND status NOT IN (?) AND deleted_at IS NULL AND verified_at IS NOT NULL AND age BETWEEN ? AND ? AND email LIKE ? OR (EXISTS (SELECT 1 FROM posts WHERE posts.user_id = users.id))",
		query)
	assert.Equal(t, []any{"Alice", "admin", "editor", "banned", 18, 65, "%@example.com"}, args)
}

func TestCompileSelect_WhereRawCarriesItsOwnArgs(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtSelect
	ir.Where(And, "active", "=", true)
	ir.WhereRaw(And, "id IN (SELECT user_id FROM posts WHERE title LIKE ?)", "%go%")

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM users WHERE active = ? AND (id IN (SELECT user_id FROM posts WHERE title LIKE ?))",
		query)
	assert.Equal(t, []any{true, "%go%"}, args)
}

func TestCompileSelect_Having(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtSelect
	ir.GroupBy("users.id")
	ir.Having(And, "total", ">", 100)
	ir.HavingCount(And, "posts.id", ">=", 3)

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM users GROUP BY users.id HAVING total > ? AND COUNT(posts.id) >= ?",
		query)
	assert.Equal(t, []any{100, 3}, args)
}

func TestCompileInsert(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtInsert
	ir.InsertColumns = []string{"name", "email"}
	ir.InsertRows = [][]any{
		{"Alice", "alice@example.com"},
		{"Bob", "bob@example.com"},
	}

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name, email) VALUES (?, ?), (?, ?)", query)
	assert.Equal(t, []any{"Alice", "alice@example.com", "Bob", "bob@example.com"}, args)
}

func TestCompileInsert_PostgresAppendsReturning(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtInsert
	ir.InsertColumns = []string{"name"}
	ir.InsertRows = [][]any{{"Alice"}}

	query, args, err := ir.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name) VALUES ($1) RETURNING *", query)
	assert.Equal(t, []any{"Alice"}, args)
}

func TestCompileUpdate(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtUpdate
	ir.UpdateSet = []Assignment{
		{Column: "name", Value: "Alice"},
		{Column: "score", Value: 1, ColumnOp: "+"},
	}
	ir.Where(And, "id", "=", 1)

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name = ?, score = score + ? WHERE id = ?", query)
	assert.Equal(t, []any{"Alice", 1, 1}, args)
}

func TestCompileDelete(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtDelete
	ir.Where(And, "id", "=", 7)

	query, args, err := ir.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", query)
	assert.Equal(t, []any{7}, args)
}

func TestCompile_UnknownStmtKind(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtKind(99)

	_, _, err := ir.Compile(dialect.SQLite)
	require.Error(t, err)
}

func TestRewritePostgresPlaceholders_OrdersLeftToRight(t *testing.T) {
	ir := New("users")
	ir.Stmt = StmtSelect
	ir.Where(And, "a", "=", 1)
	ir.Where(And, "b", "=", 2)
	ir.WhereIn(And, "c", 3, 4)

	query, args, err := ir.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE a = $1 AND b = $2 AND c IN ($3, $4)", query)
	assert.Equal(t, []any{1, 2, 3, 4}, args)
}

// TestCompileFragment_NumberedByOuterCompile exercises the composition
// CompileFragment documents: a sub-query's placeholders and the outer
// query's placeholders are both universal `?` until the outer IR's own
// Compile call renumbers them together, in left-to-right textual order.
func TestCompileFragment_NumberedByOuterCompile(t *testing.T) {
	inner := New("posts")
	inner.Stmt = StmtSelect
	inner.Select("1")
	inner.WhereRaw(And, "posts.user_id = users.id")
	inner.Where(And, "posts.title", "=", "hello")
	fragment, fragArgs := inner.CompileFragment()
	assert.Equal(t, "SELECT 1 FROM posts WHERE (posts.user_id = users.id) AND posts.title = ?", fragment)
	assert.Equal(t, []any{"hello"}, fragArgs)

	outer := New("users")
	outer.Stmt = StmtSelect
	outer.Where(And, "active", "=", true)
	outer.WhereRaw(And, "EXISTS ("+fragment+")", fragArgs...)

	query, args, err := outer.Compile(dialect.Postgres)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM users WHERE active = $1 AND (EXISTS (SELECT 1 FROM posts WHERE (posts.user_id = users.id) AND posts.title = $2))",
		query)
	assert.Equal(t, []any{true, "hello"}, args)
}

func TestCompileIncrement(t *testing.T) {
	query, args, err := CompileIncrement(dialect.SQLite, "accounts", "balance", "+", 50, []Predicate{
		{Kind: PredBasic, Column: "id", Op: "=", Value: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE accounts SET balance = balance + ? WHERE id = ?", query)
	assert.Equal(t, []any{50, 1}, args)
}

func TestCompileIncrement_Decrement(t *testing.T) {
	query, args, err := CompileIncrement(dialect.Postgres, "accounts", "balance", "-", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE accounts SET balance = balance - $1", query)
	assert.Equal(t, []any{10}, args)
}

func TestIR_CloneIsIndependent(t *testing.T) {
	orig := New("users")
	orig.Stmt = StmtSelect
	orig.Where(And, "active", "=", true)
	orig.SetLimit(10)

	clone := orig.Clone()
	clone.Where(And, "name", "=", "Alice")
	clone.SetLimit(20)

	assert.Len(t, orig.Wheres, 1)
	assert.Len(t, clone.Wheres, 2)
	assert.Equal(t, 10, *orig.Limit)
	assert.Equal(t, 20, *clone.Limit)
}

func TestIR_CountIR_DropsProjectionOrderLimitOffset(t *testing.T) {
	orig := New("users")
	orig.Stmt = StmtSelect
	orig.Select("id", "name")
	orig.Where(And, "active", "=", true)
	orig.OrderBy("id", Desc)
	orig.SetLimit(10)
	orig.SetOffset(5)

	c := orig.CountIR()
	c.Stmt = StmtSelect
	query, args, err := c.Compile(dialect.SQLite)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM users WHERE active = ?", query)
	assert.Equal(t, []any{true}, args)
}
