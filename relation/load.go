package relation

import (
	"context"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
)

// Load mirrors the builder's With(...) for an already-hydrated Entity:
// it wraps e in a single-element batch and reuses the same eagerLoad
// pipeline, so a dot path like "posts.comments.author" behaves exactly
// as it would have at query time.
func Load(ctx context.Context, e *loom.Entity, paths ...string) error {
	if e == nil || len(paths) == 0 {
		return nil
	}
	return LoadTree(ctx, e.Type, []*loom.Entity{e}, paths, nil)
}

// LoadWith is Load with constraint callbacks, keyed by the exact dotted
// path they scope to, matching the builder's With(name, constraint) form.
func LoadWith(ctx context.Context, e *loom.Entity, constraints map[string]func(*sql.IR), paths ...string) error {
	if e == nil || len(paths) == 0 {
		return nil
	}
	return LoadTree(ctx, e.Type, []*loom.Entity{e}, paths, constraints)
}

// Get resolves the relation declared under name for a single parent,
// caching the result on the parent so a later GetAttribute(name) or
// ToJSON sees it. The batch path (With/Load) should be preferred when
// more than one parent needs the same relation.
func Get(ctx context.Context, parent *loom.Entity, name string) (any, error) {
	d, err := parent.Type.Relation(name)
	if err != nil {
		return nil, err
	}
	rel, err := Resolve(parent.Type, d)
	if err != nil {
		return nil, err
	}
	v, err := rel.Get(ctx, parent)
	if err != nil {
		return nil, err
	}
	parent.SetRelation(name, v)
	return v, nil
}
