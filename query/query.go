// Package query implements the query builder: a fluent facade
// bound to an EntityType, accumulating a dialect/sql.IR and exposing the
// terminal operations that compile and execute it.
package query

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/loomquery/loom"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/relation"
)

// Builder is the fluent facade bound to an EntityType, generic over the
// concrete Go type the caller works with — by default *loom.Entity, or a
// thin wrapper type supplying typed accessors, via the wrap function
// passed to New.
type Builder[T any] struct {
	et   *loom.EntityType
	ir   *sql.IR
	wrap func(*loom.Entity) T

	withs        map[string]withSpec
	withOrder    []string
	withCounts   []string
	revealHidden bool

	// deferredErr records a failure from a chained call (WhereHas, Has)
	// that has no error return of its own; terminal operations surface it.
	deferredErr error
}

// withSpec pairs a declared with(...) path with the raw-IR constraint
// callback applied to its relation's sub-query. Constraints operate on
// *sql.IR directly (not a *Builder) so this package can depend on
// relation without relation needing to depend back on query.
type withSpec struct {
	constraint func(*sql.IR)
}

// New returns a Builder bound to et, wrapping each hydrated row with wrap.
func New[T any](et *loom.EntityType, wrap func(*loom.Entity) T) *Builder[T] {
	return &Builder[T]{et: et, ir: sql.New(et.TableName), wrap: wrap, withs: map[string]withSpec{}}
}

// For returns a Builder bound to et whose rows are returned as
// *loom.Entity directly, the common case when no typed wrapper is needed.
func For(et *loom.EntityType) *Builder[*loom.Entity] {
	return New(et, func(e *loom.Entity) *loom.Entity { return e })
}

// Clone produces an independent Builder: a deep copy of the IR and the
// eager-load declarations, carrying over revealHidden.
func (b *Builder[T]) Clone() *Builder[T] {
	c := &Builder[T]{
		et: b.et, ir: b.ir.Clone(), wrap: b.wrap,
		withs: make(map[string]withSpec, len(b.withs)),
		withCounts: append([]string(nil), b.withCounts...),
		revealHidden: b.revealHidden,
		deferredErr: b.deferredErr,
	}
	for k, v := range b.withs {
		c.withs[k] = v
	}
	c.withOrder = append([]string(nil), b.withOrder...)
	return c
}

// Select replaces the projected columns.
func (b *Builder[T]) Select(cols ...string) *Builder[T] { b.ir.Select(cols...); return b }

// Columns is Select's slice-taking form, for callers holding an
// already-built column list.
func (b *Builder[T]) Columns(cols []string) *Builder[T] { b.ir.Select(cols...); return b }

// Distinct marks the SELECT as DISTINCT.
func (b *Builder[T]) Distinct() *Builder[T] { b.ir.SetDistinct(); return b }

// Where appends a basic AND predicate.
func (b *Builder[T]) Where(column, op string, value any) *Builder[T] {
	b.ir.Where(sql.And, column, op, value)
	return b
}

// OrWhere appends a basic OR predicate.
func (b *Builder[T]) OrWhere(column, op string, value any) *Builder[T] {
	b.ir.Where(sql.Or, column, op, value)
	return b
}

// WhereIn appends a `column IN (...)` AND predicate.
func (b *Builder[T]) WhereIn(column string, values ...any) *Builder[T] {
	b.ir.WhereIn(sql.And, column, values...)
	return b
}

// WhereNotIn appends a `column NOT IN (...)` AND predicate.
func (b *Builder[T]) WhereNotIn(column string, values ...any) *Builder[T] {
	b.ir.WhereNotIn(sql.And, column, values...)
	return b
}

// WhereNull appends a `column IS NULL` AND predicate.
func (b *Builder[T]) WhereNull(column string) *Builder[T] {
	b.ir.WhereNull(sql.And, column)
	return b
}

// WhereNotNull appends a `column IS NOT NULL` AND predicate.
func (b *Builder[T]) WhereNotNull(column string) *Builder[T] {
	b.ir.WhereNotNull(sql.And, column)
	return b
}

// WhereBetween appends a `column BETWEEN lo AND hi` AND predicate.
func (b *Builder[T]) WhereBetween(column string, lo, hi any) *Builder[T] {
	b.ir.WhereBetween(sql.And, column, lo, hi)
	return b
}

// WhereLike appends a `column LIKE pattern` AND predicate.
func (b *Builder[T]) WhereLike(column, pattern string) *Builder[T] {
	b.ir.WhereLike(sql.And, column, pattern)
	return b
}

// OrderBy appends one ascending or descending ORDER BY entry.
func (b *Builder[T]) OrderBy(column string, desc bool) *Builder[T] {
	dir := sql.Asc
	if desc {
		dir = sql.Desc
	}
	b.ir.OrderBy(column, dir)
	return b
}

// Limit sets LIMIT n.
func (b *Builder[T]) Limit(n int) *Builder[T] { b.ir.SetLimit(n); return b }

// Offset sets OFFSET n.
func (b *Builder[T]) Offset(n int) *Builder[T] { b.ir.SetOffset(n); return b }

// Skip is an alias for Offset.
func (b *Builder[T]) Skip(n int) *Builder[T] { return b.Offset(n) }

// Take is an alias for Limit.
func (b *Builder[T]) Take(n int) *Builder[T] { return b.Limit(n) }

// GroupBy appends GROUP BY columns.
func (b *Builder[T]) GroupBy(cols ...string) *Builder[T] { b.ir.GroupBy(cols...); return b }

// Having appends a basic HAVING predicate.
func (b *Builder[T]) Having(column, op string, value any) *Builder[T] {
	b.ir.Having(sql.And, column, op, value)
	return b
}

// Join appends an INNER JOIN clause.
func (b *Builder[T]) Join(table, leftCol, op, rightCol string) *Builder[T] {
	b.ir.Join(sql.InnerJoin, table, leftCol, op, rightCol)
	return b
}

// LeftJoin appends a LEFT JOIN clause.
func (b *Builder[T]) LeftJoin(table, leftCol, op, rightCol string) *Builder[T] {
	b.ir.Join(sql.LeftJoin, table, leftCol, op, rightCol)
	return b
}

// With declares a relation (or dot-path, e.g. "posts.comments") to eager
// load, with an optional constraint callback applied directly to the
// relation's compiled sub-query IR.
func (b *Builder[T]) With(name string, constraint ...func(*sql.IR)) *Builder[T] {
	var cb func(*sql.IR)
	if len(constraint) > 0 {
		cb = constraint[0]
	}
	if _, exists := b.withs[name]; !exists {
		b.withOrder = append(b.withOrder, name)
	}
	b.withs[name] = withSpec{constraint: cb}
	return b
}

// WithCount declares relations to annotate with a `<name>_count` column.
// Only relations existence.go's CountColumnRaw can express as a single
// correlated subquery are supported (hasOne, hasMany, belongsToMany);
// belongsTo, the through kinds and the morph kinds return ErrNotCountable
// when the query executes.
func (b *Builder[T]) WithCount(names ...string) *Builder[T] {
	b.withCounts = append(b.withCounts, names...)
	return b
}

// applyWithCounts appends one scalar `(SELECT COUNT(*) ...) AS name_count`
// projected column per declared WithCount name.
func (b *Builder[T]) applyWithCounts() error {
	for _, name := range b.withCounts {
		col, err := relation.CountColumnRaw(b.et, name)
		if err != nil {
			return err
		}
		b.ir.AddSelect(col)
	}
	return nil
}

// eagerLoadAll resolves every declared With(...) path (and its dot-path
// descendants) against the rows Get just hydrated.
func (b *Builder[T]) eagerLoadAll(ctx context.Context, entities []*loom.Entity) error {
	constraints := make(map[string]func(*sql.IR), len(b.withs))
	for name, spec := range b.withs {
		if spec.constraint != nil {
			constraints[name] = spec.constraint
		}
	}
	return relation.LoadTree(ctx, b.et, entities, b.withOrder, constraints)
}

// WhereHas constrains the query to rows whose relation name has at least
// one related row matching the optional constraint, via an INNER JOIN
// against the related table. The foreign-key convention backing the join
// mishandles irregular plurals; declare explicit keys on the edge when
// the schema does not follow the <singular>_id naming.
func (b *Builder[T]) WhereHas(name string, constraint ...func(*sql.IR)) *Builder[T] {
	return b.whereHas(name, constraint, false)
}

// WhereDoesntHave is WhereHas negated: a LEFT JOIN followed by a
// `relatedTable.fk IS NULL` test.
func (b *Builder[T]) WhereDoesntHave(name string, constraint ...func(*sql.IR)) *Builder[T] {
	return b.whereHas(name, constraint, true)
}

func (b *Builder[T]) whereHas(name string, constraint []func(*sql.IR), negate bool) *Builder[T] {
	var cb func(*sql.IR)
	if len(constraint) > 0 {
		cb = constraint[0]
	}
	if err := relation.ApplyWhereHas(b.et, b.ir, name, cb, negate); err != nil {
		b.deferredErr = err
	}
	return b
}

// Has constrains the query to rows whose relation name's related-row count
// satisfies `count op n`, via WhereHas's INNER JOIN plus a `GROUP BY
// parentTable.pk` / `HAVING COUNT(...) op n` pair.
func (b *Builder[T]) Has(name, op string, n int) *Builder[T] {
	if err := relation.ApplyHas(b.et, b.ir, name, op, n); err != nil {
		b.deferredErr = err
	}
	return b
}

// Pivot resolves name as a belongsToMany relation on the bound EntityType,
// returning its attach/detach/sync/toggle/... mutation surface. It returns
// loom.ErrNotPivot when name names any other relation kind.
func (b *Builder[T]) Pivot(name string) (relation.PivotMutator, error) {
	return relation.Pivot(b.et, name)
}

// WithHidden overrides the hidden-attribute projection for hydrated rows.
func (b *Builder[T]) WithHidden() *Builder[T] { b.revealHidden = true; return b }

// WithoutHidden restores (or explicitly disables, when show is true) the
// default hidden projection.
func (b *Builder[T]) WithoutHidden(show bool) *Builder[T] { b.revealHidden = show; return b }

// Get executes the accumulated query and hydrates every returned row.
func (b *Builder[T]) Get(ctx context.Context) ([]T, error) {
	if b.deferredErr != nil {
		return nil, b.deferredErr
	}
	if err := b.applyWithCounts(); err != nil {
		return nil, err
	}
	query, args, err := b.ir.Compile(b.et.Connection.Dialect())
	if err != nil {
		return nil, loom.NewQueryError(b.et.Name, "get", err)
	}
	var rows sql.Rows
	if err := b.et.Connection.Query(ctx, query, args, &rows); err != nil {
		return nil, loom.NewQueryError(b.et.Name, "get", err)
	}
	records, err := sql.ScanAll(&rows)
	if err != nil {
		return nil, loom.NewQueryError(b.et.Name, "get", err)
	}
	out := make([]T, len(records))
	entities := make([]*loom.Entity, len(records))
	for i, rec := range records {
		e := loom.Hydrate(b.et, rec, b.revealHidden)
		entities[i] = e
		out[i] = b.wrap(e)
	}
	if len(b.withOrder) > 0 && len(entities) > 0 {
		if err := b.eagerLoadAll(ctx, entities); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// First runs Get with limit(1) and returns the first element, or the
// zero value and false if there were none.
func (b *Builder[T]) First(ctx context.Context) (T, bool, error) {
	c := b.Clone()
	c.Limit(1)
	rows, err := c.Get(ctx)
	var zero T
	if err != nil {
		return zero, false, err
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	return rows[0], true, nil
}

// FirstOrFail is First, failing with NotFound when no row matches.
func (b *Builder[T]) FirstOrFail(ctx context.Context) (T, error) {
	row, ok, err := b.First(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		return zero, loom.NewNotFoundError(b.et.Name)
	}
	return row, nil
}

// Count computes `SELECT COUNT(*)` on the accumulated IR, preserving
// joins and wheres and ignoring orders/limit/offset.
func (b *Builder[T]) Count(ctx context.Context) (int64, error) {
	if b.deferredErr != nil {
		return 0, b.deferredErr
	}
	countIR := b.ir.CountIR()
	query, args, err := countIR.Compile(b.et.Connection.Dialect())
	if err != nil {
		return 0, loom.NewQueryError(b.et.Name, "count", err)
	}
	var rows sql.Rows
	if err := b.et.Connection.Query(ctx, query, args, &rows); err != nil {
		return 0, loom.NewQueryError(b.et.Name, "count", err)
	}
	records, err := sql.ScanAll(&rows)
	if err != nil {
		return 0, loom.NewQueryError(b.et.Name, "count", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	for _, v := range records[0] {
		return toInt64(v), nil
	}
	return 0, nil
}

// Exists reports whether Count is non-zero.
func (b *Builder[T]) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	return n > 0, err
}

// PageResult is the pagination result shape Paginate returns.
type PageResult[T any] struct {
	Data        []T
	Total       int64
	PerPage     int
	CurrentPage int
	LastPage    int
	From        *int
	To          *int
}

// Paginate issues count() then a limited/offset get().
func (b *Builder[T]) Paginate(ctx context.Context, page, perPage int) (*PageResult[T], error) {
	total, err := b.Count(ctx)
	if err != nil {
		return nil, err
	}
	offset := (page - 1) * perPage
	c := b.Clone()
	c.Offset(offset).Limit(perPage)
	data, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	res := &PageResult[T]{
		Data: data, Total: total, PerPage: perPage, CurrentPage: page,
		LastPage: int(math.Ceil(float64(total) / float64(perPage))),
	}
	if total > 0 {
		from := offset + 1
		res.From = &from
	}
	to := offset + len(data)
	res.To = &to
	return res, nil
}

// Insert inserts one row of attrs.
func (b *Builder[T]) Insert(ctx context.Context, attrs map[string]any) error {
	_, err := b.insert(ctx, []map[string]any{attrs})
	return err
}

// InsertMany inserts every row in rows in a single statement.
func (b *Builder[T]) InsertMany(ctx context.Context, rows []map[string]any) error {
	_, err := b.insert(ctx, rows)
	return err
}

func (b *Builder[T]) insert(ctx context.Context, rows []map[string]any) (sql.ExecResult, error) {
	var res sql.ExecResult
	if len(rows) == 0 {
		return res, nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	insertRows := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(cols))
		for j, c := range cols {
			vals[j] = row[c]
		}
		insertRows[i] = vals
	}
	ir := sql.New(b.et.TableName)
	ir.Stmt = sql.StmtInsert
	ir.InsertColumns = cols
	ir.InsertRows = insertRows
	query, args, err := ir.Compile(b.et.Connection.Dialect())
	if err != nil {
		return res, loom.NewQueryError(b.et.Name, "insert", err)
	}
	if err := b.et.Connection.Exec(ctx, query, args, &res); err != nil {
		return res, loom.NewQueryError(b.et.Name, "insert", err)
	}
	return res, nil
}

// Update applies attrs to every row matching the accumulated WHERE
// clause, injecting updated_at when the entity type manages timestamps.
// It copies attrs before injecting, so the caller's map is never
// mutated as a side effect.
func (b *Builder[T]) Update(ctx context.Context, attrs map[string]any) (int64, error) {
	set := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		set[k] = v
	}
	if b.et.ManagesTimestamps {
		set["updated_at"] = time.Now().UTC()
	}
	assignments := make([]sql.Assignment, 0, len(set))
	for k, v := range set {
		assignments = append(assignments, sql.Assignment{Column: k, Value: v})
	}
	ir := b.ir.Clone()
	ir.Stmt = sql.StmtUpdate
	ir.UpdateSet = assignments
	query, args, err := ir.Compile(b.et.Connection.Dialect())
	if err != nil {
		return 0, loom.NewQueryError(b.et.Name, "update", err)
	}
	var res sql.ExecResult
	if err := b.et.Connection.Exec(ctx, query, args, &res); err != nil {
		return 0, loom.NewQueryError(b.et.Name, "update", err)
	}
	return res.Affected, nil
}

// UpdateAndFetch runs Update, then re-fetches the updated rows (optionally
// eager loading relations) through Get.
func (b *Builder[T]) UpdateAndFetch(ctx context.Context, attrs map[string]any, relations ...string) ([]T, error) {
	if _, err := b.Update(ctx, attrs); err != nil {
		return nil, err
	}
	c := b.Clone()
	for _, r := range relations {
		c.With(r)
	}
	return c.Get(ctx)
}

// Delete deletes every row matching the accumulated WHERE clause.
func (b *Builder[T]) Delete(ctx context.Context) (int64, error) {
	ir := sql.New(b.et.TableName)
	ir.Stmt = sql.StmtDelete
	ir.Wheres = b.ir.Wheres
	query, args, err := ir.Compile(b.et.Connection.Dialect())
	if err != nil {
		return 0, loom.NewQueryError(b.et.Name, "delete", err)
	}
	var res sql.ExecResult
	if err := b.et.Connection.Exec(ctx, query, args, &res); err != nil {
		return 0, loom.NewQueryError(b.et.Name, "delete", err)
	}
	return res.Affected, nil
}

// Increment atomically adds n to col for every matching row.
func (b *Builder[T]) Increment(ctx context.Context, col string, n any) error {
	return b.incrementDecrement(ctx, col, "+", n)
}

// Decrement atomically subtracts n from col for every matching row.
func (b *Builder[T]) Decrement(ctx context.Context, col string, n any) error {
	return b.incrementDecrement(ctx, col, "-", n)
}

func (b *Builder[T]) incrementDecrement(ctx context.Context, col, op string, n any) error {
	query, args, err := sql.CompileIncrement(b.et.Connection.Dialect(), b.et.TableName, col, op, n, b.ir.Wheres)
	if err != nil {
		return loom.NewQueryError(b.et.Name, "increment", err)
	}
	var res sql.ExecResult
	if err := b.et.Connection.Exec(ctx, query, args, &res); err != nil {
		return loom.NewQueryError(b.et.Name, "increment", err)
	}
	return nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
