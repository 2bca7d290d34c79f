// Package edge provides the fluent relation-kind declaration DSL consumed
// when registering an EntityType: edge.HasMany("posts", "posts") builds a
// Descriptor naming one of the six relation strategies. Like
// schema/field, a Descriptor is a plain data value — it names its target
// EntityType by the string name that type is registered under in the
// loom package's registry, rather than importing loom.EntityType
// directly, which would create an import cycle (loom needs to reference
// edge.Descriptor to build its relationDescriptors map).
package edge

// Kind is one of the relation strategies, plus the three
// polymorphic variants.
type Kind int

const (
	HasOneKind Kind = iota
	HasManyKind
	BelongsToKind
	BelongsToManyKind
	HasOneThroughKind
	HasManyThroughKind
	MorphOneKind
	MorphManyKind
	MorphToKind
)

// Descriptor is one relation's full declaration. Which fields are
// meaningful depends on Kind; see the per-kind builder functions below
// for which ones they populate.
type Descriptor struct {
	Name string
	Kind Kind

	// Target is the registered name of the related EntityType. Empty for
	// MorphToKind, whose target is resolved per-row through the MorphMap.
	Target string

	// hasOne/hasMany/belongsTo keys.
	ForeignKey string
	LocalKey   string
	OwnerKey   string

	// Touches marks a belongsTo relation whose cached owner should have
	// its updated_at refreshed whenever the child entity is saved.
	Touches bool

	// belongsTo's withDefault: DefaultFactory, if set, is called to build
	// the placeholder instance's attributes; otherwise DefaultAttrs is used
	// directly if non-nil. Neither is meaningful for any other Kind.
	DefaultAttrs   map[string]any
	DefaultFactory func() map[string]any

	// hasOneThrough/hasManyThrough keys.
	Through             string
	ForeignKeyOnThrough string
	ThroughKeyOnFinal   string
	ThroughLocalKey     string

	// belongsToMany (pivot) state.
	PivotTable          string
	ForeignPivotKey     string
	RelatedPivotKey     string
	ParentKey           string
	RelatedKey          string
	PivotColumns        []string
	WithPivotTimestamps bool
	PivotAlias          string
	WherePivotConditions []PivotCondition

	// Polymorphic state.
	MorphName       string
	MorphTypeColumn string
	MorphIDColumn   string
}

// PivotCondition is one `wherePivot` constraint applied to the pivot
// table's rows on both get and eagerLoad.
type PivotCondition struct {
	Column string
	Op     string
	Value  any
}

type builder struct{ d Descriptor }

// HasOne declares a hasOne relation: keys (foreignKey on related, localKey
// on parent), defaulting per convention to ("<parent_singular>_id", "id").
func HasOne(name, target string) *builder {
	return &builder{Descriptor{Name: name, Kind: HasOneKind, Target: target, LocalKey: "id"}}
}

// HasMany declares a hasMany relation with the same key shape as HasOne.
func HasMany(name, target string) *builder {
	return &builder{Descriptor{Name: name, Kind: HasManyKind, Target: target, LocalKey: "id"}}
}

// BelongsTo declares the inverse relation: keys (foreignKey on child,
// ownerKey on related), defaulting to ("<related_singular>_id", "id").
func BelongsTo(name, target string) *builder {
	return &builder{Descriptor{Name: name, Kind: BelongsToKind, Target: target, OwnerKey: "id"}}
}

// BelongsToMany declares a pivot-table many-to-many relation.
func BelongsToMany(name, target, pivotTable string) *builder {
	return &builder{Descriptor{
		Name: name, Kind: BelongsToManyKind, Target: target,
		PivotTable: pivotTable, ParentKey: "id", RelatedKey: "id",
	}}
}

// HasOneThrough declares a hasOneThrough relation.
func HasOneThrough(name, target, through string) *builder {
	return &builder{Descriptor{Name: name, Kind: HasOneThroughKind, Target: target, Through: through, LocalKey: "id", ThroughLocalKey: "id"}}
}

// HasManyThrough declares a hasManyThrough relation.
func HasManyThrough(name, target, through string) *builder {
	return &builder{Descriptor{Name: name, Kind: HasManyThroughKind, Target: target, Through: through, LocalKey: "id", ThroughLocalKey: "id"}}
}

// MorphOne declares a polymorphic one-to-one relation owning morphName.
func MorphOne(name, target, morphName string) *builder {
	return &builder{Descriptor{
		Name: name, Kind: MorphOneKind, Target: target, MorphName: morphName,
		MorphTypeColumn: morphName + "_type", MorphIDColumn: morphName + "_id", LocalKey: "id",
	}}
}

// MorphMany declares a polymorphic one-to-many relation owning morphName.
func MorphMany(name, target, morphName string) *builder {
	return &builder{Descriptor{
		Name: name, Kind: MorphManyKind, Target: target, MorphName: morphName,
		MorphTypeColumn: morphName + "_type", MorphIDColumn: morphName + "_id", LocalKey: "id",
	}}
}

// MorphTo declares the owning side of a polymorphic relation: the child
// carries `<morphName>_type`/`<morphName>_id` columns resolved against the
// process-wide MorphMap at get/eagerLoad time.
func MorphTo(name, morphName string) *builder {
	return &builder{Descriptor{
		Name: name, Kind: MorphToKind, MorphName: morphName,
		MorphTypeColumn: morphName + "_type", MorphIDColumn: morphName + "_id",
	}}
}

// Keys overrides the (foreignKey, localKey/ownerKey) pair the relation
// would otherwise infer by convention. This is the escape hatch for
// irregular plurals the singularize convention mishandles.
func (b *builder) Keys(foreignKey, localOrOwnerKey string) *builder {
	b.d.ForeignKey = foreignKey
	switch b.d.Kind {
	case BelongsToKind:
		b.d.OwnerKey = localOrOwnerKey
	default:
		b.d.LocalKey = localOrOwnerKey
	}
	return b
}

// ThroughKeys overrides the four-key shape of a through relation.
func (b *builder) ThroughKeys(foreignKeyOnThrough, throughKeyOnFinal, localKey, throughLocalKey string) *builder {
	b.d.ForeignKeyOnThrough = foreignKeyOnThrough
	b.d.ThroughKeyOnFinal = throughKeyOnFinal
	b.d.LocalKey = localKey
	b.d.ThroughLocalKey = throughLocalKey
	return b
}

// PivotKeys overrides the belongsToMany key shape.
func (b *builder) PivotKeys(foreignPivotKey, relatedPivotKey, parentKey, relatedKey string) *builder {
	b.d.ForeignPivotKey = foreignPivotKey
	b.d.RelatedPivotKey = relatedPivotKey
	b.d.ParentKey = parentKey
	b.d.RelatedKey = relatedKey
	return b
}

// WithPivotColumns surfaces additional pivot-table columns on the related
// entity's pivot payload.
func (b *builder) WithPivotColumns(cols ...string) *builder {
	b.d.PivotColumns = append(b.d.PivotColumns, cols...)
	return b
}

// WithPivotTimestamps stamps created_at/updated_at on attach.
func (b *builder) WithPivotTimestamps() *builder {
	b.d.WithPivotTimestamps = true
	return b
}

// As sets the attribute name the pivot payload is attached under on each
// related entity (default "pivot").
func (b *builder) As(alias string) *builder {
	b.d.PivotAlias = alias
	return b
}

// Touches marks the relation's owner for an updated_at refresh when the
// child entity saves. Only meaningful on a BelongsTo descriptor.
func (b *builder) Touches() *builder {
	b.d.Touches = true
	return b
}

// WithDefault declares the placeholder instance belongsTo's Get/EagerLoad
// return, built from attrs, when no owner row matches the child's foreign
// key. Only meaningful on a BelongsTo descriptor.
func (b *builder) WithDefault(attrs map[string]any) *builder {
	b.d.DefaultAttrs = attrs
	return b
}

// WithDefaultFactory is WithDefault's factory form: fn is called fresh each
// time a placeholder instance is needed, for defaults that shouldn't share
// a single map value across calls (e.g. one stamped with the current time).
func (b *builder) WithDefaultFactory(fn func() map[string]any) *builder {
	b.d.DefaultFactory = fn
	return b
}

// WherePivot adds a pivot-table constraint applied on both get and
// eagerLoad.
func (b *builder) WherePivot(column, op string, value any) *builder {
	b.d.WherePivotConditions = append(b.d.WherePivotConditions, PivotCondition{Column: column, Op: op, Value: value})
	return b
}

// Descriptor returns the accumulated relation descriptor, filling in the
// conventional pivot alias if none was set.
func (b *builder) Descriptor() Descriptor {
	if b.d.Kind == BelongsToManyKind && b.d.PivotAlias == "" {
		b.d.PivotAlias = "pivot"
	}
	return b.d
}
