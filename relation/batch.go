package relation

import "github.com/loomquery/loom/contrib/dataloader"

// groupEntitiesByKey is the single spot every relation strategy except
// morphTo (which indexes each per-type result by primary key itself)
// funnels its "one auxiliary query, then fan back out to N parents" step
// through; it is
// a thin rename of dataloader.GroupByKey kept local to this package so a
// strategy file never needs to know the batching primitive lives in
// contrib/dataloader.
func groupEntitiesByKey[V any](values []V, keyFn func(V) any) map[any][]V {
	return dataloader.GroupByKey(values, keyFn)
}
