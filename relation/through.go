package relation

import (
	"context"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// through implements hasOneThrough/hasManyThrough: owner -> an intermediate
// (through) table -> target, joined in one query rather than issuing two
// round trips.
type through struct {
	owner  *loom.EntityType
	target *loom.EntityType
	d      edge.Descriptor
	plural bool
}

func (r *through) throughTable() string {
	t, ok := loom.LookupEntityType(r.d.Through)
	if !ok {
		return r.d.Through
	}
	return t.TableName
}

// ownerLocalKey is the owner's own key the lookup value is read off of
// (parent.Raw(ownerLocalKey)) and matched against the through table's
// ForeignKeyOnThrough column.
func (r *through) ownerLocalKey() string {
	if r.d.LocalKey != "" {
		return r.d.LocalKey
	}
	return "id"
}

// throughLocalKey is the through table's own key, joined against the
// target's ThroughKeyOnFinal column.
func (r *through) throughLocalKey() string {
	if r.d.ThroughLocalKey != "" {
		return r.d.ThroughLocalKey
	}
	return "id"
}

func (r *through) baseIR() *sql.IR {
	ir := sql.New(r.target.TableName)
	through := r.throughTable()
	ir.Join(sql.InnerJoin, through,
		r.target.TableName+"."+r.d.ThroughKeyOnFinal, "=", through+"."+r.throughLocalKey())
	ir.AddSelect(through + "." + r.d.ForeignKeyOnThrough + " AS " + pivotGroupColumn)
	return ir
}

func (r *through) Get(ctx context.Context, parent *loom.Entity) (any, error) {
	v := parent.Raw(r.ownerLocalKey())
	if v == nil {
		if r.plural {
			return []*loom.Entity{}, nil
		}
		return (*loom.Entity)(nil), nil
	}
	ir := r.baseIR()
	ir.Where(sql.And, r.throughTable()+"."+r.d.ForeignKeyOnThrough, "=", v)
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

func (r *through) EagerLoad(ctx context.Context, parents []*loom.Entity, name string, constraint func(*sql.IR)) error {
	keys := nonNullKeys(parents, r.ownerLocalKey())
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
	ir := r.baseIR()
	ir.WhereIn(sql.And, r.throughTable()+"."+r.d.ForeignKeyOnThrough, keys...)
	if constraint != nil {
		constraint(ir)
	}
	rows, err := selectRelated(ctx, r.target, ir, false)
	if err != nil {
		return err
	}
	grouped := groupEntitiesByKey(rows, func(e *loom.Entity) any { return e.Raw(pivotGroupColumn) })
	for _, p := range parents {
		group := grouped[p.Raw(r.ownerLocalKey())]
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
