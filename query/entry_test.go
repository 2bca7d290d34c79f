package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/loomquery/loom"
	"github.com/loomquery/loom/relation"
	"github.com/loomquery/loom/schema/edge"
)

// TestFindAndFindOrFail covers the primary-key lookups: Find reports
// absence without failing, FindOrFail raises NotFound carrying the id.
func TestFindAndFindOrFail(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "ada", "age": 30, "active": 1}))

	row, ok, err := For(ut).Find(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ada", row.Str("name"))

	_, ok, err = For(ut).Find(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = For(ut).FindOrFail(ctx, 99)
	require.Error(t, err)
	assert.True(t, loom.IsNotFound(err))
}

// TestCreateLifecycle covers the full round trip of scenario 1: Create
// persists through the entity's own Save path (timestamps included),
// Find returns the stored row, increment/decrement mutate atomically,
// and a where-scoped delete empties the table.
func TestCreateLifecycle(t *testing.T) {
	drv := newSQLiteDriver(t)
	exec(t, drv, `CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		age INTEGER,
		created_at DATETIME,
		updated_at DATETIME
	)`)
	ut := loom.RegisterEntityType(t.Name()+"_user", loom.EntityTypeConfig{
		TableName:         "users",
		ManagesTimestamps: true,
		Connection:        drv,
	})
	ctx := context.Background()

	created, err := For(ut).Create(ctx, map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)
	assert.True(t, created.Exists())
	assert.Equal(t, int64(1), created.Int("id"))

	row, err := For(ut).FindOrFail(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30), row.Int("age"))

	affected, err := For(ut).UpdateByID(ctx, 1, map[string]any{"age": 32})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	require.NoError(t, For(ut).Where("id", "=", 1).Increment(ctx, "age", 1))
	require.NoError(t, For(ut).Where("id", "=", 1).Decrement(ctx, "age", 1))

	row, err = For(ut).FindOrFail(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(32), row.Int("age"))

	deleted, err := For(ut).Where("name", "=", "Alice").Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err := For(ut).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestUpdateAndFetchByID re-fetches the updated row, eager loading the
// relations named in the call.
func TestUpdateAndFetchByID(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	prefix := t.Name()

	exec(t, drv, `CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`)
	exec(t, drv, `CREATE TABLE posts (id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, title TEXT NOT NULL)`)

	userType := loom.RegisterEntityType(prefix+"_user", loom.EntityTypeConfig{
		TableName: "users", Connection: drv,
		Relations: map[string]edge.Descriptor{
			"posts": edge.HasMany("posts", prefix+"_post").Descriptor(),
		},
	})
	postType := loom.RegisterEntityType(prefix+"_post", loom.EntityTypeConfig{TableName: "posts", Connection: drv})

	require.NoError(t, For(userType).Insert(ctx, map[string]any{"name": "ada"}))
	require.NoError(t, For(postType).Insert(ctx, map[string]any{"user_id": 1, "title": "p1"}))

	row, err := For(userType).UpdateAndFetchByID(ctx, 1, map[string]any{"name": "ada lovelace"}, "posts")
	require.NoError(t, err)
	assert.Equal(t, "ada lovelace", row.Str("name"))
	postsAny, ok := row.Relation("posts")
	require.True(t, ok)
	assert.Len(t, postsAny.([]*loom.Entity), 1)

	_, err = For(userType).UpdateAndFetchByID(ctx, 99, map[string]any{"name": "nobody"})
	require.Error(t, err)
	assert.True(t, loom.IsNotFound(err))
}

// TestDeleteByID reports whether a row was actually removed.
func TestDeleteByID(t *testing.T) {
	drv := newSQLiteDriver(t)
	ut := newUserType(t, drv)
	ctx := context.Background()

	require.NoError(t, For(ut).Insert(ctx, map[string]any{"name": "ada", "age": 30, "active": 1}))

	removed, err := For(ut).DeleteByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = For(ut).DeleteByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, removed)
}

// TestInstanceLoadAndRelationGet covers the instance-side mirror of
// With(...): relation.Load batches a single hydrated entity through the
// same pipeline, and relation.Get lazily resolves (and caches) one
// relation on demand.
func TestInstanceLoadAndRelationGet(t *testing.T) {
	drv := newSQLiteDriver(t)
	ctx := context.Background()
	prefix := t.Name()

	exec(t, drv, `CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`)
	exec(t, drv, `CREATE TABLE posts (id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, title TEXT NOT NULL)`)
	exec(t, drv, `CREATE TABLE comments (id INTEGER PRIMARY KEY AUTOINCREMENT, post_id INTEGER NOT NULL, body TEXT NOT NULL)`)

	userType := loom.RegisterEntityType(prefix+"_user", loom.EntityTypeConfig{
		TableName: "users", Connection: drv,
		Relations: map[string]edge.Descriptor{
			"posts": edge.HasMany("posts", prefix+"_post").Descriptor(),
		},
	})
	postType := loom.RegisterEntityType(prefix+"_post", loom.EntityTypeConfig{
		TableName: "posts", Connection: drv,
		Relations: map[string]edge.Descriptor{
			"comments": edge.HasMany("comments", prefix+"_comment").Descriptor(),
			"author":   edge.BelongsTo("author", prefix+"_user").Descriptor(),
		},
	})
	commentType := loom.RegisterEntityType(prefix+"_comment", loom.EntityTypeConfig{TableName: "comments", Connection: drv})

	require.NoError(t, For(userType).Insert(ctx, map[string]any{"name": "ada"}))
	require.NoError(t, For(postType).InsertMany(ctx, []map[string]any{
		{"user_id": 1, "title": "p1"},
		{"user_id": 1, "title": "p2"},
	}))
	require.NoError(t, For(commentType).Insert(ctx, map[string]any{"post_id": 1, "body": "nice"}))

	user, err := For(userType).FindOrFail(ctx, 1)
	require.NoError(t, err)
	_, loaded := user.Relation("posts")
	require.False(t, loaded)

	require.NoError(t, relation.Load(ctx, user, "posts.comments"))
	postsAny, ok := user.Relation("posts")
	require.True(t, ok)
	posts := postsAny.([]*loom.Entity)
	require.Len(t, posts, 2)
	commentsAny, ok := posts[0].Relation("comments")
	require.True(t, ok)
	assert.Len(t, commentsAny.([]*loom.Entity), 1)

	post, err := For(postType).FindOrFail(ctx, 1)
	require.NoError(t, err)
	authorAny, err := relation.Get(ctx, post, "author")
	require.NoError(t, err)
	assert.Equal(t, "ada", authorAny.(*loom.Entity).Str("name"))

	// Get caches: the relation now shadows attribute access by name.
	cached, ok := post.Relation("author")
	require.True(t, ok)
	assert.Same(t, authorAny, cached)

	_, err = relation.Get(ctx, post, "reviewers")
	require.Error(t, err)
	assert.True(t, loom.IsRelationUnknown(err))
}
