// Package field provides the fluent cast-kind declaration DSL consumed
// when registering an EntityType: field.Int("age"), field.String("name"),
// and so on build a Descriptor naming one of the supported cast kinds
// (int, float, string, bool, json, date). loom.RegisterEntityType does not
// take Descriptors: a caller copies each Descriptor's Kind into
// EntityTypeConfig.Casts, and the other Descriptor fields are not read by
// the loom package.
package field

// Kind is one of the six cast kinds an EntityType's cast table maps
// attributes to.
type Kind int

// The cast kinds the Entity Model's setAttribute/getAttribute dispatch on.
const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindJSON
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Descriptor is one column's cast-kind declaration plus the handful of
// attributes the Entity Model and Migration Runner need about it.
type Descriptor struct {
	Name     string
	Kind     Kind
	Unique   bool
	Optional bool
	Nillable bool
	Default  any
	Comment  string
}

// builder accumulates Descriptor options fluently, returning itself for
// chaining, then is read as a plain Descriptor value via Descriptor().
type builder struct{ d Descriptor }

// Int declares an int-cast column.
func Int(name string) *builder { return &builder{Descriptor{Name: name, Kind: KindInt}} }

// Float declares a float-cast column.
func Float(name string) *builder { return &builder{Descriptor{Name: name, Kind: KindFloat}} }

// String declares a string-cast column.
func String(name string) *builder { return &builder{Descriptor{Name: name, Kind: KindString}} }

// Bool declares a bool-cast column.
func Bool(name string) *builder { return &builder{Descriptor{Name: name, Kind: KindBool}} }

// JSON declares a json-cast column.
func JSON(name string) *builder { return &builder{Descriptor{Name: name, Kind: KindJSON}} }

// Date declares a date-cast column.
func Date(name string) *builder { return &builder{Descriptor{Name: name, Kind: KindDate}} }

// Unique marks the column as carrying a uniqueness constraint. Informational
// only at this layer — the Migration Runner's own unit bodies are
// responsible for actually creating the constraint.
func (b *builder) Unique() *builder { b.d.Unique = true; return b }

// Optional marks the column as not required on create.
func (b *builder) Optional() *builder { b.d.Optional = true; return b }

// Nillable marks the column as nullable in storage.
func (b *builder) Nillable() *builder { b.d.Nillable = true; return b }

// Default records a literal default value on the descriptor. It is not
// applied to an entity's attributes when fill/setAttribute's input lacks
// the attribute.
func (b *builder) Default(v any) *builder { b.d.Default = v; return b }

// Comment attaches a human-readable comment to the descriptor.
func (b *builder) Comment(c string) *builder { b.d.Comment = c; return b }

// Descriptor returns the accumulated field descriptor.
func (b *builder) Descriptor() Descriptor { return b.d }
