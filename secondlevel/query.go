package secondlevel

import (
	"context"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/store"
)

// DefaultQueryRegion holds every cached query result.
const DefaultQueryRegion = "default-query-results-region"

// QueryLoader runs a query against the store and returns the ids of the
// result rows in result order.
type QueryLoader func(ctx context.Context) ([]any, error)

// queryEntry is the cached form of a query result.
type queryEntry struct {
	CreatedAt int64 `msgpack:"ts"`
	IDs       []any `msgpack:"ids"`
}

// QueryCache caches query results as id lists. A result is valid while no
// table space it reads from was written after it was created.
type QueryCache struct {
	c *Cache
}

// QueryKey hashes the normalized query text, its ordered parameters and the
// paging bounds.
func (q *QueryCache) QueryKey(name string, query store.Query) string {
	filters := make([]any, 0, len(query.Filters))
	for _, f := range query.Filters {
		filters = append(filters, []any{f.Column, f.Op.String(), normalizeParam(f.Value)})
	}
	order := make([]any, 0, len(query.OrderBy))
	for _, o := range query.OrderBy {
		order = append(order, []any{o.Column, o.Desc})
	}
	text := q.c.keys.SerializeKey(name, query.Table, filters, order, query.Limit, query.Offset)
	sum := xxhash.Sum64String(text)
	return q.c.keys.SerializeKey(DefaultQueryRegion, strconv.FormatUint(sum, 16))
}

func normalizeParam(v any) any {
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, x := range list {
			out[i] = store.Normalize(x)
		}
		return out
	}
	return store.Normalize(v)
}

// GetOrExecute returns the cached ids for key when still valid for spaces, or
// runs loader and caches its result stamped with the time the query started.
// hit reports whether the ids came from the cache.
func (q *QueryCache) GetOrExecute(ctx context.Context, name, key string, spaces []string, loader QueryLoader) (ids []any, hit bool, err error) {
	if !q.c.QueryCacheEnabled() {
		ids, err = loader(ctx)
		return ids, false, err
	}

	stats := q.c.stats.query(name)
	if entry, ok := q.get(ctx, key); ok {
		if q.c.timestamps.IsUpToDate(spaces, entry.CreatedAt) {
			stats.hits.Add(1)
			q.c.logger.Debug("query cache hit", "query", name)
			return entry.IDs, true, nil
		}
		q.c.logger.Debug("query cache entry is stale", "query", name, "spaces", spaces)
	}
	stats.misses.Add(1)

	createdAt := q.c.clock.Next()
	stats.executions.Add(1)
	ids, err = loader(ctx)
	if err != nil {
		return nil, false, err
	}
	q.Put(ctx, name, key, createdAt, ids)
	return ids, false, nil
}

// Put caches ids for key.
func (q *QueryCache) Put(ctx context.Context, name, key string, createdAt int64, ids []any) {
	data, err := encodeQueryEntry(queryEntry{CreatedAt: createdAt, IDs: ids})
	if err == nil {
		err = q.c.backend.Set(ctx, key, data)
	}
	if err != nil {
		q.c.logger.Warn("cannot cache query result", "query", name, "error", err)
		return
	}
	q.c.stats.query(name).puts.Add(1)
}

func (q *QueryCache) get(ctx context.Context, key string) (queryEntry, bool) {
	raw, ok := q.c.backend.Get(ctx, key)
	if !ok {
		return queryEntry{}, false
	}
	entry, err := decodeQueryEntry(raw)
	if err != nil {
		q.c.logger.Warn("evicting undecodable query result", "key", key, "error", err)
		_ = q.c.backend.Delete(ctx, key)
		return queryEntry{}, false
	}
	return entry, true
}

// EvictRegion drops every cached query result.
func (q *QueryCache) EvictRegion(ctx context.Context) {
	if err := q.c.backend.DeleteByPrefix(ctx, cache.RegionPrefix(DefaultQueryRegion)); err != nil {
		q.c.logger.Warn("cache region eviction failed", "region", DefaultQueryRegion, "error", err)
	}
}
