package relation

import (
	"context"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// hasOneOrMany implements both hasOne and hasMany: the only difference is
// whether Get/EagerLoad return a single *loom.Entity or a []*loom.Entity.
type hasOneOrMany struct {
	owner  *loom.EntityType
	target *loom.EntityType
	d      edge.Descriptor
	plural bool
}

func (r *hasOneOrMany) localKey() string {
	if r.d.LocalKey != "" {
		return r.d.LocalKey
	}
	return "id"
}

func (r *hasOneOrMany) Get(ctx context.Context, parent *loom.Entity) (any, error) {
	v := parent.Raw(r.localKey())
	if v == nil {
		if r.plural {
			return []*loom.Entity{}, nil
		}
		return (*loom.Entity)(nil), nil
	}
	ir := sql.New(r.target.TableName)
	ir.Where(sql.And, r.d.ForeignKey, "=", v)
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

func (r *hasOneOrMany) EagerLoad(ctx context.Context, parents []*loom.Entity, name string, constraint func(*sql.IR)) error {
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
	ir.WhereIn(sql.And, r.d.ForeignKey, keys...)
	if constraint != nil {
		constraint(ir)
	}
	rows, err := selectRelated(ctx, r.target, ir, false)
	if err != nil {
		return err
	}
	grouped := groupEntitiesByKey(rows, func(e *loom.Entity) any { return e.Raw(r.d.ForeignKey) })
	for _, p := range parents {
		v := p.Raw(r.localKey())
		group := grouped[v]
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
