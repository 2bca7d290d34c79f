package relation

import (
	"context"
	"time"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/schema/edge"
)

const pivotGroupColumn = "__pivot_parent_key"

// belongsToMany resolves a many-to-many relation across a pivot table,
// with pivot column, pivot timestamp, and wherePivot support.
type belongsToMany struct {
	owner  *loom.EntityType
	target *loom.EntityType
	d      edge.Descriptor
}

func (r *belongsToMany) parentKey() string {
	if r.d.ParentKey != "" {
		return r.d.ParentKey
	}
	return "id"
}

func (r *belongsToMany) relatedKey() string {
	if r.d.RelatedKey != "" {
		return r.d.RelatedKey
	}
	return "id"
}

// baseIR builds the target-joined-to-pivot SELECT, projecting the target's
// columns plus every declared pivot column under a "pivot_" prefix and the
// pivot's owner-side key under pivotGroupColumn for eager-load grouping.
func (r *belongsToMany) baseIR() *sql.IR {
	ir := sql.New(r.target.TableName)
	ir.Select(r.target.TableName + ".*")
	pivot := r.d.PivotTable
	ir.Join(sql.InnerJoin, pivot,
		r.target.TableName+"."+r.relatedKey(), "=", pivot+"."+r.d.RelatedPivotKey)
	ir.AddSelect(pivot + "." + r.d.ForeignPivotKey + " AS " + pivotGroupColumn)
	for _, col := range r.d.PivotColumns {
		ir.AddSelect(pivot + "." + col + " AS pivot_" + col)
	}
	if r.d.WithPivotTimestamps {
		ir.AddSelect(pivot + ".created_at AS pivot_created_at")
		ir.AddSelect(pivot + ".updated_at AS pivot_updated_at")
	}
	for _, cond := range r.d.WherePivotConditions {
		ir.Where(sql.And, pivot+"."+cond.Column, cond.Op, cond.Value)
	}
	return ir
}

// attachPivotPayload sets each row's PivotAlias relation to a map of the
// pivot-table columns baseIR projected under the "pivot_"/"pivot_created_at"
// aliases, per the schema/edge As builder's documented "attribute name the
// pivot payload is attached under" (default "pivot").
func (r *belongsToMany) attachPivotPayload(rows []*loom.Entity) {
	cols := r.d.PivotColumns
	if r.d.WithPivotTimestamps {
		cols = append(append([]string{}, cols...), "created_at", "updated_at")
	}
	if len(cols) == 0 {
		return
	}
	for _, e := range rows {
		payload := make(map[string]any, len(cols))
		for _, c := range cols {
			payload[c] = e.Raw("pivot_" + c)
		}
		e.SetRelation(r.d.PivotAlias, payload)
	}
}

func (r *belongsToMany) Get(ctx context.Context, parent *loom.Entity) (any, error) {
	v := parent.Raw(r.parentKey())
	if v == nil {
		return []*loom.Entity{}, nil
	}
	ir := r.baseIR()
	ir.Where(sql.And, r.d.PivotTable+"."+r.d.ForeignPivotKey, "=", v)
	rows, err := selectRelated(ctx, r.target, ir, parent.RevealHidden())
	if err != nil {
		return nil, err
	}
	r.attachPivotPayload(rows)
	return rows, nil
}

func (r *belongsToMany) EagerLoad(ctx context.Context, parents []*loom.Entity, name string, constraint func(*sql.IR)) error {
	keys := nonNullKeys(parents, r.parentKey())
	if len(keys) == 0 {
		for _, p := range parents {
			p.SetRelation(name, []*loom.Entity{})
		}
		return nil
	}
	ir := r.baseIR()
	ir.WhereIn(sql.And, r.d.PivotTable+"."+r.d.ForeignPivotKey, keys...)
	if constraint != nil {
		constraint(ir)
	}
	rows, err := selectRelated(ctx, r.target, ir, false)
	if err != nil {
		return err
	}
	r.attachPivotPayload(rows)
	grouped := groupEntitiesByKey(rows, func(e *loom.Entity) any { return e.Raw(pivotGroupColumn) })
	for _, p := range parents {
		group := grouped[p.Raw(r.parentKey())]
		if group == nil {
			group = []*loom.Entity{}
		}
		p.SetRelation(name, group)
	}
	return nil
}

// Attach inserts one pivot row per relatedID, merging in pivotAttrs.
func (r *belongsToMany) Attach(ctx context.Context, parentID any, relatedIDs []any, pivotAttrs map[string]any) error {
	if len(relatedIDs) == 0 {
		return nil
	}
	cols := []string{r.d.ForeignPivotKey, r.d.RelatedPivotKey}
	for k := range pivotAttrs {
		cols = append(cols, k)
	}
	if r.d.WithPivotTimestamps {
		cols = append(cols, "created_at", "updated_at")
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(relatedIDs))
	for _, rid := range relatedIDs {
		row := make([]any, len(cols))
		row[0] = parentID
		row[1] = rid
		i := 2
		for _, c := range cols[2:] {
			switch c {
			case "created_at", "updated_at":
				row[i] = now
			default:
				row[i] = pivotAttrs[c]
			}
			i++
		}
		rows = append(rows, row)
	}
	ir := sql.New(r.d.PivotTable)
	ir.Stmt = sql.StmtInsert
	ir.InsertColumns = cols
	ir.InsertRows = rows
	return r.exec(ctx, ir)
}

// Detach deletes pivot rows for parentID, restricted to relatedIDs when
// non-empty, or every pivot row for the parent otherwise.
func (r *belongsToMany) Detach(ctx context.Context, parentID any, relatedIDs []any) error {
	ir := sql.New(r.d.PivotTable)
	ir.Stmt = sql.StmtDelete
	ir.Where(sql.And, r.d.ForeignPivotKey, "=", parentID)
	if len(relatedIDs) > 0 {
		ir.WhereIn(sql.And, r.d.RelatedPivotKey, relatedIDs...)
	}
	return r.exec(ctx, ir)
}

// Sync makes parentID's attached set exactly relatedIDs: detaches what is
// no longer present, attaches what is new.
func (r *belongsToMany) Sync(ctx context.Context, parentID any, relatedIDs []any) error {
	current, err := r.currentRelatedIDs(ctx, parentID)
	if err != nil {
		return err
	}
	want := map[any]struct{}{}
	for _, id := range relatedIDs {
		want[id] = struct{}{}
	}
	var toDetach, toAttach []any
	for _, id := range current {
		if _, ok := want[id]; !ok {
			toDetach = append(toDetach, id)
		} else {
			delete(want, id)
		}
	}
	for _, id := range relatedIDs {
		if _, ok := want[id]; ok {
			toAttach = append(toAttach, id)
		}
	}
	if len(toDetach) > 0 {
		if err := r.Detach(ctx, parentID, toDetach); err != nil {
			return err
		}
	}
	if len(toAttach) > 0 {
		if err := r.Attach(ctx, parentID, toAttach, nil); err != nil {
			return err
		}
	}
	return nil
}

// SyncWithoutDetaching attaches every id in relatedIDs not already present,
// leaving existing attachments untouched.
func (r *belongsToMany) SyncWithoutDetaching(ctx context.Context, parentID any, relatedIDs []any) error {
	current, err := r.currentRelatedIDs(ctx, parentID)
	if err != nil {
		return err
	}
	have := map[any]struct{}{}
	for _, id := range current {
		have[id] = struct{}{}
	}
	var toAttach []any
	for _, id := range relatedIDs {
		if _, ok := have[id]; !ok {
			toAttach = append(toAttach, id)
		}
	}
	if len(toAttach) == 0 {
		return nil
	}
	return r.Attach(ctx, parentID, toAttach, nil)
}

// Toggle attaches every id not currently present and detaches every id
// that is. It reports only an error, not which ids it attached or detached.
func (r *belongsToMany) Toggle(ctx context.Context, parentID any, relatedIDs []any) error {
	current, err := r.currentRelatedIDs(ctx, parentID)
	if err != nil {
		return err
	}
	have := map[any]struct{}{}
	for _, id := range current {
		have[id] = struct{}{}
	}
	var toAttach, toDetach []any
	for _, id := range relatedIDs {
		if _, ok := have[id]; ok {
			toDetach = append(toDetach, id)
		} else {
			toAttach = append(toAttach, id)
		}
	}
	if len(toDetach) > 0 {
		if err := r.Detach(ctx, parentID, toDetach); err != nil {
			return err
		}
	}
	if len(toAttach) > 0 {
		if err := r.Attach(ctx, parentID, toAttach, nil); err != nil {
			return err
		}
	}
	return nil
}

// UpdateExistingPivot overwrites pivotAttrs on the single existing pivot
// row for (parentID, relatedID).
func (r *belongsToMany) UpdateExistingPivot(ctx context.Context, parentID, relatedID any, pivotAttrs map[string]any) error {
	if len(pivotAttrs) == 0 {
		return nil
	}
	set := make([]sql.Assignment, 0, len(pivotAttrs)+1)
	for k, v := range pivotAttrs {
		set = append(set, sql.Assignment{Column: k, Value: v})
	}
	if r.d.WithPivotTimestamps {
		set = append(set, sql.Assignment{Column: "updated_at", Value: time.Now().UTC()})
	}
	ir := sql.New(r.d.PivotTable)
	ir.Stmt = sql.StmtUpdate
	ir.UpdateSet = set
	ir.Where(sql.And, r.d.ForeignPivotKey, "=", parentID)
	ir.Where(sql.And, r.d.RelatedPivotKey, "=", relatedID)
	return r.exec(ctx, ir)
}

// Create inserts attrs as a new target row, then attaches it to parentID
// with pivotAttrs.
func (r *belongsToMany) Create(ctx context.Context, parentID any, attrs map[string]any, pivotAttrs map[string]any) (*loom.Entity, error) {
	e, err := loom.New(r.target, attrs)
	if err != nil {
		return nil, err
	}
	if err := e.Save(ctx); err != nil {
		return nil, err
	}
	id, _ := e.GetAttribute(r.relatedKey())
	if err := r.Attach(ctx, parentID, []any{id}, pivotAttrs); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateMany inserts each row of rowsAttrs as a new target row and attaches
// every inserted row to parentID.
func (r *belongsToMany) CreateMany(ctx context.Context, parentID any, rowsAttrs []map[string]any) ([]*loom.Entity, error) {
	out := make([]*loom.Entity, 0, len(rowsAttrs))
	for _, attrs := range rowsAttrs {
		e, err := r.Create(ctx, parentID, attrs, nil)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *belongsToMany) currentRelatedIDs(ctx context.Context, parentID any) ([]any, error) {
	ir := sql.New(r.d.PivotTable)
	ir.Select(r.d.RelatedPivotKey)
	ir.Where(sql.And, r.d.ForeignPivotKey, "=", parentID)
	query, args, err := ir.Compile(r.owner.Connection.Dialect())
	if err != nil {
		return nil, loom.NewQueryError(r.owner.Name, "pivotSync", err)
	}
	var rows sql.Rows
	if err := r.owner.Connection.Query(ctx, query, args, &rows); err != nil {
		return nil, loom.NewQueryError(r.owner.Name, "pivotSync", err)
	}
	records, err := sql.ScanAll(&rows)
	if err != nil {
		return nil, loom.NewQueryError(r.owner.Name, "pivotSync", err)
	}
	out := make([]any, len(records))
	for i, rec := range records {
		out[i] = rec[r.d.RelatedPivotKey]
	}
	return out, nil
}

func (r *belongsToMany) exec(ctx context.Context, ir *sql.IR) error {
	query, args, err := ir.Compile(r.owner.Connection.Dialect())
	if err != nil {
		return loom.NewQueryError(r.owner.Name, "pivot", err)
	}
	var res sql.ExecResult
	if err := r.owner.Connection.Exec(ctx, query, args, &res); err != nil {
		return loom.NewQueryError(r.owner.Name, "pivot", err)
	}
	return nil
}
