package relation

import (
	"fmt"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

// joinTarget resolves the table name.Relation joins against for a
// whereHas/has call, plus the join's left/right columns correlating it
// back to owner's row. whereHas/has/withCount only make sense for
// relations with a concrete, single related (or pivot) table to join or
// count against; belongsTo is excluded per the documented Open Question
// (a child has at most one owner, so "does the owner exist" is a null
// check, not a countable fan-out), and the through/morph kinds are left
// unsupported here rather than guessed at — callers needing those should
// express the condition with a plain Where on a pre-joined query instead.
func joinTarget(owner *loom.EntityType, d edge.Descriptor) (table, leftCol, rightCol string, err error) {
	target, ok := loom.LookupEntityType(d.Target)
	if !ok && d.Kind != edge.BelongsToManyKind {
		return "", "", "", fmt.Errorf("relation: target entity type %q not registered", d.Target)
	}
	d = applyConventions(owner, target, d)
	ownerLocalKey := d.LocalKey
	if ownerLocalKey == "" {
		ownerLocalKey = "id"
	}
	switch d.Kind {
	case edge.HasOneKind, edge.HasManyKind:
		return target.TableName, target.TableName + "." + d.ForeignKey, owner.TableName + "." + ownerLocalKey, nil
	case edge.BelongsToManyKind:
		parentKey := d.ParentKey
		if parentKey == "" {
			parentKey = "id"
		}
		return d.PivotTable, d.PivotTable + "." + d.ForeignPivotKey, owner.TableName + "." + parentKey, nil
	default:
		return "", "", "", loom.ErrNotCountable
	}
}

// qualifyDefaultProjection narrows ir's SELECT list to owner's own columns
// when it is still the untouched "*" default, so a join this package adds
// doesn't leak the joined table's columns (or collide on shared names like
// "id") into the hydrated result. A caller that already picked explicit
// columns is left alone.
func qualifyDefaultProjection(ir *sql.IR, owner *loom.EntityType) {
	if len(ir.SelectColumns) == 1 && ir.SelectColumns[0] == "*" {
		ir.Select(owner.TableName + ".*")
	}
}

// prefixPredicates rebinds each of preds' bare column names to table,
// implementing whereHas's "its predicates are column-prefixed with
// relatedTable." rule for a constraint callback's Where-family calls.
func prefixPredicates(preds []sql.Predicate, table string) []sql.Predicate {
	out := make([]sql.Predicate, len(preds))
	for i, p := range preds {
		if p.Column != "" {
			p.Column = table + "." + p.Column
		}
		out[i] = p
	}
	return out
}

// ApplyWhereHas mutates ir to express name's whereHas/whereDoesntHave
// condition as a join: whereHas issues an INNER JOIN
// against the related (or pivot) table, appending the optional
// constraint's predicates column-prefixed; whereDoesntHave (negate) issues
// a LEFT JOIN followed by a `relatedTable.fk IS NULL` test. whereHas can
// fan one owner row out to many joined rows, so it also marks the query
// DISTINCT; whereDoesntHave's LEFT JOIN never produces more than one row
// per owner and needs no such guard.
func ApplyWhereHas(owner *loom.EntityType, ir *sql.IR, name string, constraint func(*sql.IR), negate bool) error {
	d, err := owner.Relation(name)
	if err != nil {
		return err
	}
	table, leftCol, rightCol, err := joinTarget(owner, d)
	if err != nil {
		return err
	}
	qualifyDefaultProjection(ir, owner)

	kind := sql.InnerJoin
	if negate {
		kind = sql.LeftJoin
	}
	ir.Join(kind, table, leftCol, "=", rightCol)

	if constraint != nil {
		sub := sql.New(table)
		constraint(sub)
		ir.Wheres = append(ir.Wheres, prefixPredicates(sub.Wheres, table)...)
	}

	if negate {
		ir.WhereNull(sql.And, leftCol)
	} else {
		ir.SetDistinct()
	}
	return nil
}

// ApplyHas mutates ir to express has(name, op, n): whereHas's
// INNER JOIN, grouped by owner's own primary key, with a `COUNT(...) op n`
// HAVING clause testing the per-owner number of joined rows.
func ApplyHas(owner *loom.EntityType, ir *sql.IR, name, op string, n int) error {
	d, err := owner.Relation(name)
	if err != nil {
		return err
	}
	table, leftCol, rightCol, err := joinTarget(owner, d)
	if err != nil {
		return err
	}
	qualifyDefaultProjection(ir, owner)

	ir.Join(sql.InnerJoin, table, leftCol, "=", rightCol)
	ir.GroupBy(owner.TableName + "." + owner.PrimaryKeyName)
	ir.HavingCount(sql.And, leftCol, op, n)
	return nil
}

// CountColumnRaw returns the scalar subquery projected column for
// withCount(name), aliased "<name>_count": a correlated
// `(SELECT COUNT(*) ...)` column, not a join.
func CountColumnRaw(owner *loom.EntityType, name string) (string, error) {
	d, err := owner.Relation(name)
	if err != nil {
		return "", err
	}
	target, ok := loom.LookupEntityType(d.Target)
	if !ok && d.Kind != edge.BelongsToManyKind {
		return "", fmt.Errorf("relation: target entity type %q not registered", d.Target)
	}
	d = applyConventions(owner, target, d)
	ownerLocalKey := d.LocalKey
	if ownerLocalKey == "" {
		ownerLocalKey = "id"
	}
	var table, condition string
	switch d.Kind {
	case edge.HasOneKind, edge.HasManyKind:
		table = target.TableName
		condition = fmt.Sprintf("%s.%s = %s.%s", target.TableName, d.ForeignKey, owner.TableName, ownerLocalKey)
	case edge.BelongsToManyKind:
		parentKey := d.ParentKey
		if parentKey == "" {
			parentKey = "id"
		}
		table = d.PivotTable
		condition = fmt.Sprintf("%s.%s = %s.%s", d.PivotTable, d.ForeignPivotKey, owner.TableName, parentKey)
	default:
		return "", loom.ErrNotCountable
	}
	return fmt.Sprintf("(SELECT COUNT(*) FROM %s WHERE %s) AS %s_count", table, condition, name), nil
}
