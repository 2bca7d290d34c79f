package relation

import (
	"context"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// belongsTo is the inverse of hasOne/hasMany: the foreign key lives on the
// owning (child) side.
type belongsTo struct {
	owner  *loom.EntityType
	target *loom.EntityType
	d      edge.Descriptor
}

func (r *belongsTo) ownerKey() string {
	if r.d.OwnerKey != "" {
		return r.d.OwnerKey
	}
	return "id"
}

// defaultOrNil returns the withDefault(attrs|factory) placeholder instance
// if the descriptor declared one, or a typed nil *loom.Entity otherwise.
func (r *belongsTo) defaultOrNil() any {
	if r.d.DefaultFactory != nil {
		return loom.NewPlaceholder(r.target, r.d.DefaultFactory())
	}
	if r.d.DefaultAttrs != nil {
		return loom.NewPlaceholder(r.target, r.d.DefaultAttrs)
	}
	return (*loom.Entity)(nil)
}

func (r *belongsTo) Get(ctx context.Context, child *loom.Entity) (any, error) {
	fk := child.Raw(r.d.ForeignKey)
	if fk == nil {
		return r.defaultOrNil(), nil
	}
	ir := sql.New(r.target.TableName)
	ir.Where(sql.And, r.ownerKey(), "=", fk)
	ir.SetLimit(1)
	rows, err := selectRelated(ctx, r.target, ir, child.RevealHidden())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return r.defaultOrNil(), nil
	}
	return rows[0], nil
}

func (r *belongsTo) EagerLoad(ctx context.Context, children []*loom.Entity, name string, constraint func(*sql.IR)) error {
	keys := nonNullKeys(children, r.d.ForeignKey)
	if len(keys) == 0 {
		for _, c := range children {
			c.SetRelation(name, r.defaultOrNil())
		}
		return nil
	}
	ir := sql.New(r.target.TableName)
	ir.WhereIn(sql.And, r.ownerKey(), keys...)
	if constraint != nil {
		constraint(ir)
	}
	rows, err := selectRelated(ctx, r.target, ir, false)
	if err != nil {
		return err
	}
	grouped := groupEntitiesByKey(rows, func(e *loom.Entity) any { return e.Raw(r.ownerKey()) })
	for _, c := range children {
		fk := c.Raw(r.d.ForeignKey)
		group := grouped[fk]
		if len(group) == 0 {
			c.SetRelation(name, r.defaultOrNil())
		} else {
			c.SetRelation(name, group[0])
		}
	}
	return nil
}

// Associate sets child's foreign key (and relation cache) to owner,
// marking owner for a touched updated_at refresh when child saves if the
// relation was declared with touches semantics (recorded by the caller via
// child.AddTouchTarget before Associate).
func Associate(d edge.Descriptor, child, owner *loom.Entity) {
	child.SetAttributeRaw(d.ForeignKey, owner.Raw(ownerKeyOf(d)))
	child.SetRelation(d.Name, owner)
}

// Dissociate clears child's foreign key and cached relation value.
func Dissociate(d edge.Descriptor, child *loom.Entity) {
	child.SetAttributeRaw(d.ForeignKey, nil)
	child.SetRelation(d.Name, (*loom.Entity)(nil))
}

func ownerKeyOf(d edge.Descriptor) string {
	if d.OwnerKey != "" {
		return d.OwnerKey
	}
	return "id"
}
