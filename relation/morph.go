package relation

import (
	"context"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// morphOneOrMany implements morphOne/morphMany: the target table carries a
// {type, id} pair identifying the owning side, resolved through the
// process-wide MorphMap rather than a fixed foreign key.
type morphOneOrMany struct {
	owner  *loom.EntityType
	target *loom.EntityType
	d      edge.Descriptor
	plural bool
}

func (r *morphOneOrMany) localKey() string {
	if r.d.LocalKey != "" {
		return r.d.LocalKey
	}
	return "id"
}

func (r *morphOneOrMany) Get(ctx context.Context, parent *loom.Entity) (any, error) {
	alias, ok := loom.MorphAliasFor(r.owner)
	if !ok {
		alias = r.owner.Name
	}
	v := parent.Raw(r.localKey())
	if v == nil {
		if r.plural {
			return []*loom.Entity{}, nil
		}
		return (*loom.Entity)(nil), nil
	}
	ir := sql.New(r.target.TableName)
	ir.Where(sql.And, r.d.MorphTypeColumn, "=", alias)
	ir.Where(sql.And, r.d.MorphIDColumn, "=", v)
	if !r.plural {
		ir.SetLimit(1)
	}
	rows, err := selectRelated(ctx, r.target, ir, parent.RevealHidden())
	if err != nil {
		return nil, err
	}
	if r.plural {
		return rows, nil
	}
	if len(rows) == 0 {
		return (*loom.Entity)(nil), nil
	}
	return rows[0], nil
}

func (r *morphOneOrMany) EagerLoad(ctx context.Context, parents []*loom.Entity, name string, constraint func(*sql.IR)) error {
	alias, ok := loom.MorphAliasFor(r.owner)
	if !ok {
		alias = r.owner.Name
	}
	keys := nonNullKeys(parents, r.localKey())
	if len(keys) == 0 {
		for _, p := range parents {
			if r.plural {
				p.SetRelation(name, []*loom.Entity{})
			} else {
				p.SetRelation(name, (*loom.Entity)(nil))
			}
		}
		return nil
	}
	ir := sql.New(r.target.TableName)
	ir.Where(sql.And, r.d.MorphTypeColumn, "=", alias)
	ir.WhereIn(sql.And, r.d.MorphIDColumn, keys...)
	if constraint != nil {
		constraint(ir)
	}
	rows, err := selectRelated(ctx, r.target, ir, false)
	if err != nil {
		return err
	}
	grouped := groupEntitiesByKey(rows, func(e *loom.Entity) any { return e.Raw(r.d.MorphIDColumn) })
	for _, p := range parents {
		group := grouped[p.Raw(r.localKey())]
		if r.plural {
			if group == nil {
				group = []*loom.Entity{}
			}
			p.SetRelation(name, group)
			continue
		}
		if len(group) == 0 {
			p.SetRelation(name, (*loom.Entity)(nil))
		} else {
			p.SetRelation(name, group[0])
		}
	}
	return nil
}

// morphTo is the inverse side: the owning entity's table carries {type,
// id}, and the target EntityType is resolved per row through the MorphMap
// rather than being fixed on the Descriptor.
type morphTo struct {
	owner *loom.EntityType
	d     edge.Descriptor
}

func (r *morphTo) Get(ctx context.Context, child *loom.Entity) (any, error) {
	alias := child.Str(r.d.MorphTypeColumn)
	if alias == "" {
		return (*loom.Entity)(nil), nil
	}
	id := child.Raw(r.d.MorphIDColumn)
	if id == nil {
		return (*loom.Entity)(nil), nil
	}
	target, err := loom.ResolveMorphAlias(alias)
	if err != nil {
		return nil, err
	}
	ir := sql.New(target.TableName)
	ir.Where(sql.And, target.PrimaryKeyName, "=", id)
	ir.SetLimit(1)
	rows, err := selectRelated(ctx, target, ir, child.RevealHidden())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return (*loom.Entity)(nil), nil
	}
	return rows[0], nil
}

func (r *morphTo) EagerLoad(ctx context.Context, children []*loom.Entity, name string, constraint func(*sql.IR)) error {
	byAlias := map[string][]*loom.Entity{}
	for _, c := range children {
		alias := c.Str(r.d.MorphTypeColumn)
		if alias == "" || c.Raw(r.d.MorphIDColumn) == nil {
			c.SetRelation(name, (*loom.Entity)(nil))
			continue
		}
		byAlias[alias] = append(byAlias[alias], c)
	}
	for alias, group := range byAlias {
		target, err := loom.ResolveMorphAlias(alias)
		if err != nil {
			return err
		}
		ids := nonNullKeys(group, r.d.MorphIDColumn)
		ir := sql.New(target.TableName)
		ir.WhereIn(sql.And, target.PrimaryKeyName, ids...)
		if constraint != nil {
			constraint(ir)
		}
		rows, err := selectRelated(ctx, target, ir, false)
		if err != nil {
			return err
		}
		byID := map[any]*loom.Entity{}
		for _, e := range rows {
			byID[e.Raw(target.PrimaryKeyName)] = e
		}
		for _, c := range group {
			c.SetRelation(name, byID[c.Raw(r.d.MorphIDColumn)])
		}
	}
	return nil
}
