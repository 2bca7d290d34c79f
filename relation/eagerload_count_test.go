package relation

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/loomquery/loom"
	loomdialect "github.com/loomquery/loom/dialect"
	loomsql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// newMockDriver wraps a go-sqlmock connection as a dialect.Driver, letting
// a test assert on the exact number and shape of SQL statements a relation
// strategy issues — the only way to observe the "at most 2 queries per
// eager-load batch, independent of batch size" guarantee from outside
// the package.
func newMockDriver(t *testing.T) (*loomsql.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return loomsql.OpenDB(loomdialect.MySQL, db), mock
}

func hydrateIDs(t *loom.EntityType, ids ...int64) []*loom.Entity {
	out := make([]*loom.Entity, len(ids))
	for i, id := range ids {
		out[i] = loom.Hydrate(t, map[string]any{"id": id}, false)
	}
	return out
}

// TestHasManyEagerLoadIssuesOneQueryPerBatch asserts the central eager-load
// guarantee for hasMany: one auxiliary query, regardless of batch size.
func TestHasManyEagerLoadIssuesOneQueryPerBatch(t *testing.T) {
	drv, mock := newMockDriver(t)
	userType := loom.RegisterEntityType(t.Name()+"_user", loom.EntityTypeConfig{TableName: "users", Connection: drv})
	postType := loom.RegisterEntityType(t.Name()+"_post", loom.EntityTypeConfig{TableName: "posts", Connection: drv})

	d := edge.HasMany("posts", postType.Name).Descriptor()
	rel, err := Resolve(userType, d)
	require.NoError(t, err)

	parents := hydrateIDs(userType, rangeIDs(50)...)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM posts WHERE user_id IN")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title"}).
			AddRow(int64(1), int64(1), "hello").
			AddRow(int64(2), int64(2), "world"))

	require.NoError(t, rel.EagerLoad(context.Background(), parents, "posts", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBelongsToManyEagerLoadIssuesOneJoinedQuery asserts the pivot relation
// resolves the parent->pivot->related hop as a single target-joined-to-pivot
// SELECT (per belongstomany.go's baseIR), independent of batch size: one
// bounded round trip rather than two.
func TestBelongsToManyEagerLoadIssuesOneJoinedQuery(t *testing.T) {
	drv, mock := newMockDriver(t)
	postType := loom.RegisterEntityType(t.Name()+"_post", loom.EntityTypeConfig{TableName: "posts", Connection: drv})
	tagType := loom.RegisterEntityType(t.Name()+"_tag", loom.EntityTypeConfig{TableName: "tags", Connection: drv})

	d := edge.BelongsToMany("tags", tagType.Name, "post_tags").Descriptor()
	rel, err := Resolve(postType, d)
	require.NoError(t, err)

	parents := hydrateIDs(postType, rangeIDs(25)...)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT tags.*, post_tags.post_id AS __pivot_parent_key FROM tags INNER JOIN post_tags")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", pivotGroupColumn}).
			AddRow(int64(1), "go", int64(1)).
			AddRow(int64(2), "orm", int64(2)))

	require.NoError(t, rel.EagerLoad(context.Background(), parents, "tags", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestHasManyThroughEagerLoadIssuesOneQuery asserts the through relation
// resolves the whole owner -> through -> final hop in a single joined
// query rather than two round trips, as built by through.go's baseIR.
func TestHasManyThroughEagerLoadIssuesOneQuery(t *testing.T) {
	drv, mock := newMockDriver(t)
	userType := loom.RegisterEntityType(t.Name()+"_user", loom.EntityTypeConfig{TableName: "users", Connection: drv})
	postType := loom.RegisterEntityType(t.Name()+"_post", loom.EntityTypeConfig{TableName: "posts", Connection: drv})
	commentType := loom.RegisterEntityType(t.Name()+"_comment", loom.EntityTypeConfig{TableName: "comments", Connection: drv})

	d := edge.HasManyThrough("comments", commentType.Name, postType.Name).Descriptor()
	rel, err := Resolve(userType, d)
	require.NoError(t, err)

	parents := hydrateIDs(userType, rangeIDs(10)...)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT *, posts.user_id AS __pivot_parent_key FROM comments INNER JOIN posts")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "post_id", "body", pivotGroupColumn}).
			AddRow(int64(1), int64(1), "nice", int64(1)))

	require.NoError(t, rel.EagerLoad(context.Background(), parents, "comments", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func rangeIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}
