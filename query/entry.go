package query

import (
	"context"

	"github.com/loomquery/loom"
)

// This file carries the primary-key entry points of the entity surface:
// the operations a caller reaches for before any fluent chaining has
// happened (find, create, update-by-id). They are ordinary Builder
// methods so a partially-built chain can still use them, e.g.
// For(userType).WithHidden().Find(ctx, 7).

// All executes the accumulated query with no further constraints. It is
// Get under a name that reads better at the top of a chain.
func (b *Builder[T]) All(ctx context.Context) ([]T, error) {
	return b.Get(ctx)
}

// Find returns the row whose primary key equals id, or the zero value
// and false when no such row exists.
func (b *Builder[T]) Find(ctx context.Context, id any) (T, bool, error) {
	c := b.Clone()
	c.Where(b.et.PrimaryKeyName, "=", id)
	return c.First(ctx)
}

// FindOrFail is Find, failing with NotFound (carrying the searched id)
// when no row matches.
func (b *Builder[T]) FindOrFail(ctx context.Context, id any) (T, error) {
	row, ok, err := b.Find(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		return zero, loom.NewNotFoundErrorWithID(b.et.Name, id)
	}
	return row, nil
}

// Create constructs a new Entity from attrs (honoring the fillable
// guard), saves it, and returns the persisted instance with its primary
// key and timestamps populated.
func (b *Builder[T]) Create(ctx context.Context, attrs map[string]any) (T, error) {
	var zero T
	e, err := loom.New(b.et, attrs)
	if err != nil {
		return zero, err
	}
	if err := e.Save(ctx); err != nil {
		return zero, err
	}
	return b.wrap(e), nil
}

// UpdateByID applies attrs to the single row whose primary key equals
// id, reporting the number of affected rows (0 when no such row exists).
func (b *Builder[T]) UpdateByID(ctx context.Context, id any, attrs map[string]any) (int64, error) {
	c := b.Clone()
	c.Where(b.et.PrimaryKeyName, "=", id)
	return c.Update(ctx, attrs)
}

// UpdateAndFetchByID runs UpdateByID, then re-fetches the row (eager
// loading any named relations), failing with NotFound when the row does
// not exist after the update.
func (b *Builder[T]) UpdateAndFetchByID(ctx context.Context, id any, attrs map[string]any, relations ...string) (T, error) {
	if _, err := b.UpdateByID(ctx, id, attrs); err != nil {
		var zero T
		return zero, err
	}
	c := b.Clone()
	for _, r := range relations {
		c.With(r)
	}
	return c.FindOrFail(ctx, id)
}

// DeleteByID deletes the single row whose primary key equals id,
// reporting whether a row was removed.
func (b *Builder[T]) DeleteByID(ctx context.Context, id any) (bool, error) {
	c := b.Clone()
	c.Where(b.et.PrimaryKeyName, "=", id)
	n, err := c.Delete(ctx)
	return n > 0, err
}
