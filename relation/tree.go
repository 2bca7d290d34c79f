package relation

import (
	"context"
	"strings"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"golang.org/x/sync/errgroup"
)

// LoadTree resolves every dot-path in paths against entities (all sharing
// owner's EntityType), issuing one auxiliary query per (relation, batch) at
// each depth regardless of how many parents share that relation; a morphTo
// relation issues one query per distinct morph type in the batch.
// Sibling top-level relations within the same With(...) call run
// concurrently; constraints is keyed by the exact dotted path a caller
// passed to With, e.g. constraints["posts.comments"] applies only to the
// "comments" step reached through "posts".
func LoadTree(ctx context.Context, owner *loom.EntityType, entities []*loom.Entity, paths []string, constraints map[string]func(*sql.IR)) error {
	if len(entities) == 0 || len(paths) == 0 {
		return nil
	}
	order, subpaths := splitLevel(paths)

	g, gctx := errgroup.WithContext(ctx)
	for _, top := range order {
		top := top
		g.Go(func() error {
			d, err := owner.Relation(top)
			if err != nil {
				return err
			}
			rel, err := Resolve(owner, d)
			if err != nil {
				return err
			}
			if err := rel.EagerLoad(gctx, entities, top, constraints[top]); err != nil {
				return err
			}
			rest := subpaths[top]
			if len(rest) == 0 {
				return nil
			}
			children, byType := collectChildren(entities, top)
			if len(children) == 0 {
				return nil
			}
			nested := filterConstraints(constraints, top)
			for childType, group := range byType {
				if err := LoadTree(gctx, childType, group, rest, nested); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// splitLevel partitions dotted paths into their top-level names (in
// first-seen order) and the remaining sub-path for each, e.g.
// ["posts", "posts.comments.author"] -> (["posts"], {"posts": ["comments.author"]}).
func splitLevel(paths []string) ([]string, map[string][]string) {
	order := []string{}
	subpaths := map[string][]string{}
	seen := map[string]struct{}{}
	for _, p := range paths {
		top, rest, found := strings.Cut(p, ".")
		if _, ok := seen[top]; !ok {
			seen[top] = struct{}{}
			order = append(order, top)
		}
		if found {
			subpaths[top] = append(subpaths[top], rest)
		}
	}
	return order, subpaths
}

// filterConstraints returns the subset of constraints scoped under
// prefix+".", with that prefix stripped, for passing one level deeper.
func filterConstraints(constraints map[string]func(*sql.IR), prefix string) map[string]func(*sql.IR) {
	out := map[string]func(*sql.IR){}
	p := prefix + "."
	for k, cb := range constraints {
		if rest, ok := strings.CutPrefix(k, p); ok {
			out[rest] = cb
		}
	}
	return out
}

// collectChildren flattens the relation cache entries parents hold under
// name (each a *loom.Entity or []*loom.Entity) into a flat list, grouped by
// concrete EntityType so a subsequent level can resolve relation names
// against the right type — essential for morphTo, whose children vary in
// type per parent.
func collectChildren(parents []*loom.Entity, name string) ([]*loom.Entity, map[*loom.EntityType][]*loom.Entity) {
	var flat []*loom.Entity
	byType := map[*loom.EntityType][]*loom.Entity{}
	add := func(e *loom.Entity) {
		if e == nil {
			return
		}
		flat = append(flat, e)
		byType[e.Type] = append(byType[e.Type], e)
	}
	for _, p := range parents {
		v, ok := p.Relation(name)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case *loom.Entity:
			add(t)
		case []*loom.Entity:
			for _, e := range t {
				add(e)
			}
		}
	}
	return flat, byType
}
