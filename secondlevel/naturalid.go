package secondlevel

import (
	"context"
	"sync/atomic"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// NaturalIDLoader resolves a natural id against the store. It returns
// store.ErrRowNotFound when no row matches.
type NaturalIDLoader func(ctx context.Context) (any, error)

// NaturalIDIndex maps natural id values to primary keys, one region per
// entity type. Every invalidation bumps a per entity generation; a resolution
// caches its result only when the generation it started under is still
// current, so an eviction performed after commit cannot be undone by a lookup
// that read the store before the commit. No lock is held while the loader
// runs.
type NaturalIDIndex struct {
	c           *Cache
	generations *xsync.MapOf[string, *atomic.Uint64]
}

func newNaturalIDIndex(c *Cache) *NaturalIDIndex {
	return &NaturalIDIndex{c: c, generations: xsync.NewMapOf[string, *atomic.Uint64]()}
}

// generation also registers entity for EvictNaturalIDRegions.
func (n *NaturalIDIndex) generation(entity string) *atomic.Uint64 {
	g, _ := n.generations.LoadOrCompute(entity, func() *atomic.Uint64 { return &atomic.Uint64{} })
	return g
}

// staleResolution carries a loaded id that must not be cached.
type staleResolution struct {
	id any
}

func (e *staleResolution) Error() string { return "natural id invalidated during resolution" }

// Key builds the backend key of a natural id value tuple.
func (n *NaturalIDIndex) Key(entity *metadata.Entity, values []any) string {
	normalized := make([]any, len(values))
	for i, v := range values {
		normalized[i] = store.Normalize(v)
	}
	return n.c.keys.SerializeKey(entity.NaturalIDRegion(), normalized)
}

// Lookup returns the cached primary key without consulting the store.
func (n *NaturalIDIndex) Lookup(ctx context.Context, entity *metadata.Entity, values []any) (any, bool) {
	region := entity.NaturalIDRegion()
	stats := n.c.stats.naturalID(region)
	id, ok := n.c.backend.Get(ctx, n.Key(entity, values))
	if !ok {
		stats.misses.Add(1)
		return nil, false
	}
	stats.hits.Add(1)
	return id, true
}

// Resolve returns the primary key for values, running loader on a miss and
// caching its result. Concurrent resolutions of one key share a single loader
// call. found is false when the loader reports no matching row. A result
// loaded while the entity's natural ids were invalidated is returned but not
// cached.
func (n *NaturalIDIndex) Resolve(ctx context.Context, entity *metadata.Entity, values []any, loader NaturalIDLoader) (id any, found bool, err error) {
	region := entity.NaturalIDRegion()
	stats := n.c.stats.naturalID(region)
	key := n.Key(entity, values)

	gen := n.generation(entity.Name)
	started := gen.Load()

	executed := false
	id, err = cache.GetOrFetch(ctx, n.c.backend, key, func(ctx context.Context) (any, error) {
		executed = true
		stats.executions.Add(1)
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		v = store.Normalize(v)
		if gen.Load() != started {
			return nil, &staleResolution{id: v}
		}
		return v, nil
	})
	if executed {
		stats.misses.Add(1)
	} else if err == nil {
		stats.hits.Add(1)
	}

	var stale *staleResolution
	switch {
	case err == nil:
		if executed {
			if gen.Load() != started {
				// invalidated between the check and the backend write
				n.delete(ctx, region, key)
				return id, true, nil
			}
			stats.puts.Add(1)
			n.c.logger.Debug("natural id cached", "region", region, "key", key)
		}
		return id, true, nil
	case errors.As(err, &stale):
		n.c.logger.Debug("natural id invalidated during resolution", "region", region, "key", key)
		return stale.id, true, nil
	case store.IsRowNotFound(err):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Put caches the primary key of values.
func (n *NaturalIDIndex) Put(ctx context.Context, entity *metadata.Entity, values []any, id any) {
	n.generation(entity.Name)
	key := n.Key(entity, values)
	if err := n.c.backend.Set(ctx, key, store.Normalize(id)); err != nil {
		n.c.logger.Warn("cache backend rejected natural id", "region", entity.NaturalIDRegion(), "key", key, "error", err)
		return
	}
	n.c.stats.naturalID(entity.NaturalIDRegion()).puts.Add(1)
}

// Evict removes the cached resolution of values and invalidates resolutions
// of entity still in flight.
func (n *NaturalIDIndex) Evict(ctx context.Context, entity *metadata.Entity, values []any) {
	n.generation(entity.Name).Add(1)
	n.delete(ctx, entity.NaturalIDRegion(), n.Key(entity, values))
}

func (n *NaturalIDIndex) delete(ctx context.Context, region, key string) {
	if err := n.c.backend.Delete(ctx, key); err != nil {
		n.c.logger.Warn("cache backend delete failed", "region", region, "key", key, "error", err)
	}
}

// Replace evicts the resolution of old values and, when current is non-nil,
// caches current.
func (n *NaturalIDIndex) Replace(ctx context.Context, entity *metadata.Entity, old, current []any, id any) {
	if old != nil {
		n.Evict(ctx, entity, old)
	}
	if current != nil {
		n.Put(ctx, entity, current, id)
	}
}

// EvictRegion removes every natural id of entity.
func (n *NaturalIDIndex) EvictRegion(ctx context.Context, entity string) {
	n.generation(entity).Add(1)
	region := entity + metadata.NaturalIDRegionSuffix
	if err := n.c.backend.DeleteByPrefix(ctx, cache.RegionPrefix(region)); err != nil {
		n.c.logger.Warn("cache region eviction failed", "region", region, "error", err)
	}
}
