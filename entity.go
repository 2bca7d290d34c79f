package loom

import (
	"context"
	"reflect"
	"sync"
	"time"

	sqldialect "github.com/loomquery/loom/dialect"
	sql "github.com/loomquery/loom/dialect/sql"
	"github.com/loomquery/loom/dialect/sql/sqlgraph"
)

// Entity is a runtime row instance: an attribute bag bound to an
// EntityType, tracking dirtiness against the last-synchronized snapshot.
type Entity struct {
	Type             *EntityType
	attributes       map[string]any
	originalSnapshot map[string]any
	relationCache    map[string]any
	relationCacheMu  sync.Mutex
	existsFlag       bool
	revealHidden     bool
	touchTargets     []string
}

// New constructs an Entity bound to t and fills it from attrs, honoring
// the fillable guard.
func New(t *EntityType, attrs map[string]any) (*Entity, error) {
	e := &Entity{Type: t, attributes: map[string]any{}, relationCache: map[string]any{}}
	if err := e.Fill(attrs); err != nil {
		return nil, err
	}
	return e, nil
}

// Hydrate builds an Entity directly from a storage row: attributes are
// the raw, uncast values (casts apply on read through the typed
// accessors), originalSnapshot is set, and existsFlag is true. The query
// builder calls this once per returned row.
func Hydrate(t *EntityType, row map[string]any, revealHidden bool) *Entity {
	e := &Entity{
		Type:         t,
		attributes:   row,
		relationCache: map[string]any{},
		existsFlag:   true,
		revealHidden: revealHidden,
	}
	e.snapshot()
	return e
}

// NewPlaceholder builds an Entity bound to t directly from attrs, bypassing
// the fillable guard Fill enforces for caller-supplied input. It does not
// exist in storage (existsFlag false, so an accidental Save performs an
// insert rather than silently no-op'ing). This is the constructor behind
// belongsTo's withDefault(attrs): the attrs come from the schema's own
// declaration, not from an untrusted caller, so the fillable check Fill
// applies to ordinary attribute assignment doesn't apply here.
func NewPlaceholder(t *EntityType, attrs map[string]any) *Entity {
	e := &Entity{Type: t, attributes: map[string]any{}, relationCache: map[string]any{}}
	for k, v := range attrs {
		e.attributes[k] = v
	}
	e.snapshot()
	return e
}

func (e *Entity) snapshot() {
	snap := make(map[string]any, len(e.attributes))
	for k, v := range e.attributes {
		snap[k] = v
	}
	e.originalSnapshot = snap
}

// Fill writes each key whose name is in the fillable set (or
// unconditionally if that set is empty).
func (e *Entity) Fill(attrs map[string]any) error {
	for k, v := range attrs {
		if !e.Type.fillable(k) {
			continue
		}
		if err := e.SetAttribute(k, v); err != nil {
			return err
		}
	}
	return nil
}

// SetAttribute casts v per the EntityType's cast table, then stores it.
// A nil value bypasses casting and is stored as-is.
func (e *Entity) SetAttribute(k string, v any) error {
	if v == nil {
		e.attributes[k] = nil
		return nil
	}
	kind, ok := e.Type.CastTable[k]
	if !ok {
		e.attributes[k] = v
		return nil
	}
	casted, err := castValue(k, kind, v)
	if err != nil {
		return err
	}
	e.attributes[k] = casted
	return nil
}

// GetAttribute returns the relation cache entry for k if present
// (relations shadow attributes by name), else the casted attribute.
func (e *Entity) GetAttribute(k string) (any, bool) {
	if rv, ok := e.Relation(k); ok {
		return rv, true
	}
	v, ok := e.attributes[k]
	if !ok {
		return nil, false
	}
	kind, hasKind := e.Type.CastTable[k]
	if !hasKind || v == nil {
		return v, true
	}
	casted, err := castValue(k, kind, v)
	if err != nil {
		return v, true
	}
	return casted, true
}

// Int reads k as an int64, returning 0 if absent or uncastable.
func (e *Entity) Int(k string) int64 { v, _ := e.TryInt(k); return v }

// TryInt reads k as an int64, reporting whether the read succeeded.
func (e *Entity) TryInt(k string) (int64, bool) {
	v, ok := e.GetAttribute(k)
	if !ok || v == nil {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

// Str reads k as a string, returning "" if absent.
func (e *Entity) Str(k string) string { v, _ := e.TryStr(k); return v }

// TryStr reads k as a string, reporting whether the read succeeded.
func (e *Entity) TryStr(k string) (string, bool) {
	v, ok := e.GetAttribute(k)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool reads k as a bool, returning false if absent.
func (e *Entity) Bool(k string) bool { v, _ := e.TryBool(k); return v }

// TryBool reads k as a bool, reporting whether the read succeeded.
func (e *Entity) TryBool(k string) (bool, bool) {
	v, ok := e.GetAttribute(k)
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Float reads k as a float64, returning 0 if absent.
func (e *Entity) Float(k string) float64 { v, _ := e.TryFloat(k); return v }

// TryFloat reads k as a float64, reporting whether the read succeeded.
func (e *Entity) TryFloat(k string) (float64, bool) {
	v, ok := e.GetAttribute(k)
	if !ok || v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Time reads k as a time.Time, returning the zero value if absent.
func (e *Entity) Time(k string) time.Time { v, _ := e.TryTime(k); return v }

// TryTime reads k as a time.Time, reporting whether the read succeeded.
func (e *Entity) TryTime(k string) (time.Time, bool) {
	v, ok := e.GetAttribute(k)
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// Exists reports whether a storage row is known to correspond to e.
func (e *Entity) Exists() bool { return e.existsFlag }

// Raw returns the uncast attribute value stored under k, used by the
// relation engine to read join-key values without forcing a cast kind on
// foreign-key columns.
func (e *Entity) Raw(k string) any { return e.attributes[k] }

// SetAttributeRaw stores v under k without casting, used by the relation
// engine's associate()/dissociate() to mutate a foreign key directly.
func (e *Entity) SetAttributeRaw(k string, v any) { e.attributes[k] = v }

// SetRelation stores value in the relation cache under name. Relations
// shadow attributes of the same name when read through GetAttribute.
// Synchronized because LoadTree loads sibling top-level relations
// concurrently, each calling SetRelation on the same shared *Entity.
func (e *Entity) SetRelation(name string, value any) {
	e.relationCacheMu.Lock()
	defer e.relationCacheMu.Unlock()
	e.relationCache[name] = value
}

// Relation returns the cached value for a previously loaded relation.
func (e *Entity) Relation(name string) (any, bool) {
	e.relationCacheMu.Lock()
	defer e.relationCacheMu.Unlock()
	v, ok := e.relationCache[name]
	return v, ok
}

// RevealHidden reports the instance's current hidden-projection override.
func (e *Entity) RevealHidden() bool { return e.revealHidden }

// AddTouchTarget marks relationName as a relation whose cached parent
// Entity should have its updated_at refreshed when e is saved, per
// belongsTo's touches() behavior.
func (e *Entity) AddTouchTarget(relationName string) {
	e.touchTargets = append(e.touchTargets, relationName)
}

// GetDirty returns every attribute whose current value differs (by deep
// equality) from the snapshot taken at the last synchronization.
func (e *Entity) GetDirty() map[string]any {
	dirty := map[string]any{}
	for k, v := range e.attributes {
		if orig, ok := e.originalSnapshot[k]; !ok || !reflect.DeepEqual(orig, v) {
			dirty[k] = v
		}
	}
	return dirty
}

// IsDirty reports whether GetDirty is non-empty.
func (e *Entity) IsDirty() bool { return len(e.GetDirty()) > 0 }

// WithHidden sets revealHidden true on this instance, overriding the
// EntityType's hidden projection for toJSON.
func (e *Entity) WithHidden() *Entity { e.revealHidden = true; return e }

// WithoutHidden restores the default hidden projection (or explicitly
// disables it when show is true, mirroring the builder's withoutHidden(show)).
func (e *Entity) WithoutHidden(show bool) *Entity { e.revealHidden = show; return e }

// ToJSON shallow-copies attributes, strips hidden keys unless
// revealHidden, then overlays relationCache entries.
func (e *Entity) ToJSON() map[string]any {
	out := make(map[string]any, len(e.attributes))
	for k, v := range e.attributes {
		if !e.revealHidden && e.Type.hidden(k) {
			continue
		}
		out[k] = v
	}
	e.relationCacheMu.Lock()
	defer e.relationCacheMu.Unlock()
	for name, rv := range e.relationCache {
		out[name] = jsonifyRelation(rv)
	}
	return out
}

func jsonifyRelation(v any) any {
	switch t := v.(type) {
	case *Entity:
		if t == nil {
			return nil
		}
		return t.ToJSON()
	case []*Entity:
		out := make([]map[string]any, len(t))
		for i, ent := range t {
			out[i] = ent.ToJSON()
		}
		return out
	default:
		return v
	}
}

// Save dispatches on existsFlag: insert when absent from storage, update
// otherwise.
func (e *Entity) Save(ctx context.Context) error {
	if e.existsFlag {
		return e.performUpdate(ctx)
	}
	return e.performInsert(ctx)
}

func (e *Entity) performInsert(ctx context.Context) error {
	now := time.Now().UTC()
	if e.Type.ManagesTimestamps {
		e.attributes["created_at"] = now
		e.attributes["updated_at"] = now
	}
	cols := make([]string, 0, len(e.attributes))
	vals := make([]any, 0, len(e.attributes))
	for k, v := range e.attributes {
		cols = append(cols, k)
		vals = append(vals, v)
	}
	ir := sql.New(e.Type.TableName)
	ir.Stmt = sql.StmtInsert
	ir.InsertColumns = cols
	ir.InsertRows = [][]any{vals}

	drv := e.Type.Connection
	dialectName := drv.Dialect()
	query, args, err := ir.Compile(dialectName)
	if err != nil {
		return NewQueryError(e.Type.Name, "insert", err)
	}

	if dialectName == sqldialect.Postgres {
		var rows sql.Rows
		if err := drv.Query(ctx, query, args, &rows); err != nil {
			return NewQueryError(e.Type.Name, "insert", classifyStorageErr(err))
		}
		defer rows.Close()
		if rows.Next() {
			if err := scanRowInto(&rows, e.attributes); err != nil {
				return NewQueryError(e.Type.Name, "insert", err)
			}
		}
	} else {
		var res sql.ExecResult
		if err := drv.Exec(ctx, query, args, &res); err != nil {
			return NewQueryError(e.Type.Name, "insert", classifyStorageErr(err))
		}
		e.attributes[e.Type.PrimaryKeyName] = res.LastInsertID
	}

	e.snapshot()
	e.existsFlag = true
	e.touchParents(ctx)
	return nil
}

func (e *Entity) performUpdate(ctx context.Context) error {
	if e.Type.ManagesTimestamps {
		e.attributes["updated_at"] = time.Now().UTC()
	}
	dirty := e.GetDirty()
	if len(dirty) == 0 {
		return nil
	}
	set := make([]sql.Assignment, 0, len(dirty))
	for k, v := range dirty {
		set = append(set, sql.Assignment{Column: k, Value: v})
	}
	pk := e.Type.PrimaryKeyName
	pkVal := e.attributes[pk]

	ir := sql.New(e.Type.TableName)
	ir.Stmt = sql.StmtUpdate
	ir.UpdateSet = set
	ir.Where(sql.And, pk, "=", pkVal)

	drv := e.Type.Connection
	query, args, err := ir.Compile(drv.Dialect())
	if err != nil {
		return NewQueryError(e.Type.Name, "update", err)
	}
	var res sql.ExecResult
	if err := drv.Exec(ctx, query, args, &res); err != nil {
		return NewQueryError(e.Type.Name, "update", classifyStorageErr(err))
	}
	e.snapshot()
	return nil
}

// Destroy no-ops when !existsFlag; otherwise deletes by primary key.
func (e *Entity) Destroy(ctx context.Context) (bool, error) {
	if !e.existsFlag {
		return false, nil
	}
	pk := e.Type.PrimaryKeyName
	ir := sql.New(e.Type.TableName)
	ir.Stmt = sql.StmtDelete
	ir.Where(sql.And, pk, "=", e.attributes[pk])

	drv := e.Type.Connection
	query, args, err := ir.Compile(drv.Dialect())
	if err != nil {
		return false, NewQueryError(e.Type.Name, "delete", err)
	}
	var res sql.ExecResult
	if err := drv.Exec(ctx, query, args, &res); err != nil {
		return false, NewQueryError(e.Type.Name, "delete", classifyStorageErr(err))
	}
	e.existsFlag = false
	return res.Affected > 0, nil
}

// touchParents refreshes updated_at on every relation named in
// touchTargets or declared with Touches on the entity type, per
// belongsTo's touches() behavior. Only parents already present in the
// relation cache are touched; an unloaded owner is left alone.
func (e *Entity) touchParents(ctx context.Context) {
	names := append([]string(nil), e.touchTargets...)
	for name, d := range e.Type.Relations {
		if d.Touches {
			names = append(names, name)
		}
	}
	seen := map[string]struct{}{}
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		v, _ := e.Relation(name)
		parent, ok := v.(*Entity)
		if !ok || parent == nil {
			continue
		}
		parent.attributes["updated_at"] = time.Now().UTC()
		_ = parent.performUpdate(ctx)
	}
}

// classifyStorageErr wraps err in a ConstraintError when sqlgraph recognizes
// it as a unique/foreign-key/check violation, so callers can distinguish
// "row violates a constraint" from any other insert/update/delete failure
// via IsConstraintError instead of inspecting the raw driver error.
func classifyStorageErr(err error) error {
	if kind, ok := sqlgraph.Classify(err); ok {
		return NewConstraintError(kind, err)
	}
	return err
}

// scanRowInto scans the current row of rows into dst, keyed by column name.
func scanRowInto(rows *sql.Rows, dst map[string]any) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	ptrs := make([]any, len(cols))
	vals := make([]any, len(cols))
	for i := range ptrs {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return err
	}
	for i, c := range cols {
		dst[c] = vals[i]
	}
	return nil
}
