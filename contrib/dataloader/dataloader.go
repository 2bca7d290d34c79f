// Package dataloader provides batch-grouping primitives: group a flat
// result set by foreign key, then reorder the groups to match the original
// parent batch. The relation package uses GroupByKey to fan one eager-load
// query's rows back out to its parents.
//
// # Basic usage
//
// A relation's EagerLoad issues one query keyed by the parents' local
// keys, then regroups:
//
//	rows, _ := query.For(postType).WhereIn("user_id", ids...).Get(ctx)
//	grouped := dataloader.GroupByKey(rows, func(e *loom.Entity) int64 { return e.Int("user_id") })
//	ordered := dataloader.OrderGroupsByKeys(parentIDs, grouped)
//	// ordered[i] holds every related row for parentIDs[i]
package dataloader

import "errors"

// ErrNotFound marks a requested key with no matching entity in the batch
// result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts the grouping key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// OrderByKeys reorders a batch result to match the order of the requested
// keys: result[i] is the entity whose key equals keys[i], or the zero
// value with errs[i] set to ErrNotFound when the batch held no match.
// The relation package does not call it: its singular relations (hasOne,
// belongsTo, morphOne) take the first row of each GroupByKey group.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// OrderByKeysNoError is OrderByKeys for callers to whom a missing entity
// is an ordinary outcome (an optional relation): absent keys yield the
// zero value with no error.
func OrderByKeysNoError[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) []V {
	result, _ := OrderByKeys(keys, values, keyFn)
	return result
}

// GroupByKey groups a flat batch result by key. The relation package's
// hasOne/hasMany, belongsTo, belongsToMany, through and morphOne/morphMany
// strategies use this to fan one query's rows back out to the parents that
// share each foreign key.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys reorders grouped entities to match the order of the
// requested keys; result[i] holds every entity grouped under keys[i]
// (nil when the group is empty).
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}
