package loom

import (
	"sync"

	"github.com/loomquery/loom/dialect"
	"github.com/loomquery/loom/schema/edge"
	"github.com/loomquery/loom/schema/field"
)

// EntityType is the static metadata for one domain record, registered
// once at program start and referenced by every Entity instance of that
// kind.
type EntityType struct {
	Name              string
	TableName         string
	PrimaryKeyName    string
	ManagesTimestamps bool
	FillableSet       map[string]struct{} // empty means "all permitted"
	HiddenSet         map[string]struct{}
	CastTable         map[string]field.Kind
	Relations         map[string]edge.Descriptor
	Connection        dialect.Driver
}

// EntityTypeConfig is the input to RegisterEntityType; every field is
// optional except TableName.
type EntityTypeConfig struct {
	TableName         string
	PrimaryKeyName    string // default "id"
	ManagesTimestamps bool
	Fillable          []string
	Hidden            []string
	Casts             map[string]field.Kind
	Relations         map[string]edge.Descriptor
	Connection        dialect.Driver
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*EntityType{}
)

// RegisterEntityType builds and registers an EntityType under name,
// panicking on a duplicate registration since this is meant to run once
// at program start, not per-request.
func RegisterEntityType(name string, cfg EntityTypeConfig) *EntityType {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic("loom: entity type " + name + " already registered")
	}
	pk := cfg.PrimaryKeyName
	if pk == "" {
		pk = "id"
	}
	et := &EntityType{
		Name:              name,
		TableName:         cfg.TableName,
		PrimaryKeyName:    pk,
		ManagesTimestamps: cfg.ManagesTimestamps,
		FillableSet:       toSet(cfg.Fillable),
		HiddenSet:         toSet(cfg.Hidden),
		CastTable:         cfg.Casts,
		Relations:         cfg.Relations,
		Connection:        cfg.Connection,
	}
	registry[name] = et
	return et
}

// LookupEntityType resolves a registered EntityType by name, used by the
// relation engine to turn an edge.Descriptor.Target string into the
// concrete type without an import cycle back from schema/edge.
func LookupEntityType(name string) (*EntityType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	et, ok := registry[name]
	return et, ok
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// fillable reports whether name may be mass-assigned: FillableSet empty
// means every name is permitted.
func (t *EntityType) fillable(name string) bool {
	if len(t.FillableSet) == 0 {
		return true
	}
	_, ok := t.FillableSet[name]
	return ok
}

// hidden reports whether name is stripped from serialization.
func (t *EntityType) hidden(name string) bool {
	_, ok := t.HiddenSet[name]
	return ok
}

// SetConnection rebinds the entity type to drv. Like RegisterEntityType
// it is meant for program start (swapping the connection while queries
// are in flight is not synchronized), but is exposed separately so tests
// and multi-database setups can register types before a driver exists.
func (t *EntityType) SetConnection(drv dialect.Driver) { t.Connection = drv }

// Relation looks up a declared relation descriptor by name, returning
// RelationUnknownError when absent.
func (t *EntityType) Relation(name string) (edge.Descriptor, error) {
	d, ok := t.Relations[name]
	if !ok {
		return edge.Descriptor{}, NewRelationUnknownError(t.Name, name)
	}
	return d, nil
}
