// Package relation implements the six relation strategies:
// hasOne, hasMany, belongsTo, belongsToMany, hasOneThrough/hasManyThrough,
// and the polymorphic morphOne/morphMany/morphTo family. Every strategy
// satisfies the same two-operation interface (Get, EagerLoad), dispatched
// statically from the edge.Descriptor's Kind as a tagged variant rather
// than through runtime polymorphism over relation classes.
package relation

import (
	"context"
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// rules drives the "<table_singular>_id" foreign-key convention every
// relation kind falls back on when a descriptor was declared without an
// explicit .Keys()/.ThroughKeys()/.PivotKeys() override. This is the
// fragile part of the convention: it mishandles
// irregular plurals (person/people, datum/data), which is exactly why
// every builder in schema/edge exposes an explicit override.
var rules = inflect.NewDefaultRuleset()

// conventionalForeignKey derives the default "<table>_id" foreign key
// name for a table, singularizing it first (users -> user_id).
func conventionalForeignKey(table string) string {
	return rules.Singularize(table) + "_id"
}

// applyConventions fills in any foreign/owner/pivot key left empty on d by
// deriving it from owner's and target's table names, per the conventions
// documented on each schema/edge builder function.
func applyConventions(owner, target *loom.EntityType, d edge.Descriptor) edge.Descriptor {
	switch d.Kind {
	case edge.HasOneKind, edge.HasManyKind:
		if d.ForeignKey == "" {
			d.ForeignKey = conventionalForeignKey(owner.TableName)
		}
	case edge.BelongsToKind:
		if d.ForeignKey == "" && target != nil {
			d.ForeignKey = conventionalForeignKey(target.TableName)
		}
	case edge.BelongsToManyKind:
		if d.ForeignPivotKey == "" {
			d.ForeignPivotKey = conventionalForeignKey(owner.TableName)
		}
		if d.RelatedPivotKey == "" && target != nil {
			d.RelatedPivotKey = conventionalForeignKey(target.TableName)
		}
	case edge.HasOneThroughKind, edge.HasManyThroughKind:
		if d.ForeignKeyOnThrough == "" {
			d.ForeignKeyOnThrough = conventionalForeignKey(owner.TableName)
		}
		if d.ThroughKeyOnFinal == "" {
			throughTable := d.Through
			if t, ok := loom.LookupEntityType(d.Through); ok {
				throughTable = t.TableName
			}
			d.ThroughKeyOnFinal = conventionalForeignKey(throughTable)
		}
	}
	return d
}

// Relation is the uniform interface every relation strategy satisfies.
type Relation interface {
	// Get resolves the relation for a single already-loaded parent.
	Get(ctx context.Context, parent *loom.Entity) (any, error)

	// EagerLoad resolves the relation for every parent in one bounded
	// number of auxiliary queries regardless of batch size, assigning
	// the result into each parent's relation cache under name. constraint,
	// when non-nil, mutates the related query's IR before it runs.
	EagerLoad(ctx context.Context, parents []*loom.Entity, name string, constraint func(*sql.IR)) error
}

// PivotMutator is the subset of belongsToMany's surface a caller outside
// this package needs for the pivot mutations: attach, detach,
// sync, syncWithoutDetaching, toggle, updateExistingPivot, create, and
// createMany. Get/EagerLoad stay on the Relation interface; these do not,
// since no other relation kind has anything to mutate.
type PivotMutator interface {
	Attach(ctx context.Context, parentID any, relatedIDs []any, pivotAttrs map[string]any) error
	Detach(ctx context.Context, parentID any, relatedIDs []any) error
	Sync(ctx context.Context, parentID any, relatedIDs []any) error
	SyncWithoutDetaching(ctx context.Context, parentID any, relatedIDs []any) error
	Toggle(ctx context.Context, parentID any, relatedIDs []any) error
	UpdateExistingPivot(ctx context.Context, parentID, relatedID any, pivotAttrs map[string]any) error
	Create(ctx context.Context, parentID any, attrs, pivotAttrs map[string]any) (*loom.Entity, error)
	CreateMany(ctx context.Context, parentID any, rowsAttrs []map[string]any) ([]*loom.Entity, error)
}

// Pivot resolves owner's name relation as a PivotMutator, for callers that
// need attach/detach/sync/... rather than get/eagerLoad. It returns
// loom.ErrNotPivot when name names a relation of any other kind.
func Pivot(owner *loom.EntityType, name string) (PivotMutator, error) {
	d, err := owner.Relation(name)
	if err != nil {
		return nil, err
	}
	rel, err := Resolve(owner, d)
	if err != nil {
		return nil, err
	}
	pm, ok := rel.(PivotMutator)
	if !ok {
		return nil, loom.ErrNotPivot
	}
	return pm, nil
}

// Resolve builds the Relation strategy for d, looking up its target
// EntityType (when d has one) by the name registered via
// loom.RegisterEntityType.
func Resolve(owner *loom.EntityType, d edge.Descriptor) (Relation, error) {
	var target *loom.EntityType
	if d.Target != "" {
		t, ok := loom.LookupEntityType(d.Target)
		if !ok {
			return nil, fmt.Errorf("relation: target entity type %q not registered", d.Target)
		}
		target = t
	}
	d = applyConventions(owner, target, d)
	switch d.Kind {
	case edge.HasOneKind:
		return &hasOneOrMany{owner: owner, target: target, d: d, plural: false}, nil
	case edge.HasManyKind:
		return &hasOneOrMany{owner: owner, target: target, d: d, plural: true}, nil
	case edge.BelongsToKind:
		return &belongsTo{owner: owner, target: target, d: d}, nil
	case edge.BelongsToManyKind:
		return &belongsToMany{owner: owner, target: target, d: d}, nil
	case edge.HasOneThroughKind:
		return &through{owner: owner, target: target, d: d, plural: false}, nil
	case edge.HasManyThroughKind:
		return &through{owner: owner, target: target, d: d, plural: true}, nil
	case edge.MorphOneKind:
		return &morphOneOrMany{owner: owner, target: target, d: d, plural: false}, nil
	case edge.MorphManyKind:
		return &morphOneOrMany{owner: owner, target: target, d: d, plural: true}, nil
	case edge.MorphToKind:
		return &morphTo{owner: owner, d: d}, nil
	default:
		return nil, fmt.Errorf("relation: unknown kind %d", d.Kind)
	}
}

// selectRelated runs a SELECT against target's table directly through its
// driver connection, bypassing the query package to avoid an import
// cycle (query depends on relation to dispatch With/WithCount).
func selectRelated(ctx context.Context, target *loom.EntityType, ir *sql.IR, revealHidden bool) ([]*loom.Entity, error) {
	query, args, err := ir.Compile(target.Connection.Dialect())
	if err != nil {
		return nil, loom.NewQueryError(target.Name, "eagerLoad", err)
	}
	var rows sql.Rows
	if err := target.Connection.Query(ctx, query, args, &rows); err != nil {
		return nil, loom.NewQueryError(target.Name, "eagerLoad", err)
	}
	records, err := sql.ScanAll(&rows)
	if err != nil {
		return nil, loom.NewQueryError(target.Name, "eagerLoad", err)
	}
	out := make([]*loom.Entity, len(records))
	for i, rec := range records {
		out[i] = loom.Hydrate(target, rec, revealHidden)
	}
	return out, nil
}

// nonNullKeys collects the distinct non-nil values of column from parents.
func nonNullKeys(parents []*loom.Entity, column string) []any {
	seen := map[any]struct{}{}
	var out []any
	for _, p := range parents {
		v := p.Raw(column)
		if v == nil {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
