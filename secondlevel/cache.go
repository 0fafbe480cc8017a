package secondlevel

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/metadata"
	"github.com/puzpuzpuz/xsync/v3"
)

// Cache is the process wide second-level cache. It owns the entity and
// collection regions, the natural-id index, the query cache and the update
// timestamps, all stored in one backend. Cache is safe for concurrent use.
type Cache struct {
	backend cache.CacheService
	cfg     Config
	keys    cache.KeySerializer
	logger  *slog.Logger
	clock   *Clock

	regions    *xsync.MapOf[string, *Region]
	stats      *Statistics
	timestamps *UpdateTimestamps
	naturalIDs *NaturalIDIndex
	queries    *QueryCache
}

// New creates a Cache storing entries in backend.
func New(backend cache.CacheService, cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Cache{
		backend: backend,
		cfg:     cfg,
		keys:    cfg.KeySerializer,
		logger:  cfg.Logger,
		clock:   NewClock(cfg.Now),
		regions: xsync.NewMapOf[string, *Region](),
		stats:   newStatistics(),
	}
	c.timestamps = newUpdateTimestamps(c)
	c.naturalIDs = newNaturalIDIndex(c)
	c.queries = &QueryCache{c: c}
	return c, nil
}

// Enabled reports whether entity and collection caching is on. A nil Cache
// is disabled.
func (c *Cache) Enabled() bool {
	return c != nil && c.cfg.Enabled
}

// QueryCacheEnabled reports whether query results are cached.
func (c *Cache) QueryCacheEnabled() bool {
	return c.Enabled() && c.cfg.QueryCacheEnabled
}

func (c *Cache) Config() Config                     { return c.cfg }
func (c *Cache) Clock() *Clock                      { return c.clock }
func (c *Cache) Statistics() *Statistics            { return c.stats }
func (c *Cache) Timestamps() *UpdateTimestamps      { return c.timestamps }
func (c *Cache) NaturalIDs() *NaturalIDIndex        { return c.naturalIDs }
func (c *Cache) Queries() *QueryCache               { return c.queries }
func (c *Cache) KeySerializer() cache.KeySerializer { return c.keys }

// Region returns the region called name, creating it with strategy on first use.
func (c *Cache) Region(name string, kind RegionKind, strategy metadata.CacheStrategy) *Region {
	r, _ := c.regions.LoadOrCompute(name, func() *Region {
		c.logger.Debug("cache region created", "region", name, "strategy", strategy.String())
		return &Region{name: name, kind: kind, strategy: strategy, c: c}
	})
	return r
}

// EntityRegion returns the region of an entity type.
func (c *Cache) EntityRegion(e *metadata.Entity) *Region {
	return c.Region(e.Region(), EntityRegion, e.Cache)
}

// CollectionRegion returns the region of a collection role. It follows the
// strategy of the owning entity.
func (c *Cache) CollectionRegion(owner *metadata.Entity, a *metadata.Association) *Region {
	return c.Region(owner.Role(a), CollectionRegion, owner.Cache)
}

// Contains reports whether the entity region holds an entry for id.
func (c *Cache) Contains(ctx context.Context, entity string, id any) bool {
	r, ok := c.regions.Load(entity)
	if !ok || r.kind != EntityRegion {
		return false
	}
	return r.Contains(ctx, r.Key(id))
}

// Evict removes the entry of one entity.
func (c *Cache) Evict(ctx context.Context, entity string, id any) {
	if r, ok := c.regions.Load(entity); ok && r.kind == EntityRegion {
		r.Evict(ctx, r.Key(id))
	}
}

// EvictEntityRegion removes every entry of an entity type.
func (c *Cache) EvictEntityRegion(ctx context.Context, entity string) {
	if r, ok := c.regions.Load(entity); ok && r.kind == EntityRegion {
		r.EvictRegion(ctx)
	}
}

// EvictEntityRegions removes every entity entry.
func (c *Cache) EvictEntityRegions(ctx context.Context) {
	c.evictKind(ctx, EntityRegion)
}

// EvictCollection removes the cached membership of one collection.
func (c *Cache) EvictCollection(ctx context.Context, role string, owner any) {
	if r, ok := c.regions.Load(role); ok && r.kind == CollectionRegion {
		r.Evict(ctx, r.Key(owner))
	}
}

// EvictCollectionRegion removes every cached collection of a role.
func (c *Cache) EvictCollectionRegion(ctx context.Context, role string) {
	if r, ok := c.regions.Load(role); ok && r.kind == CollectionRegion {
		r.EvictRegion(ctx)
	}
}

func (c *Cache) EvictCollectionRegions(ctx context.Context) {
	c.evictKind(ctx, CollectionRegion)
}

// EvictNaturalIDRegions removes every natural id resolution.
func (c *Cache) EvictNaturalIDRegions(ctx context.Context) {
	c.naturalIDs.generations.Range(func(entity string, _ *atomic.Uint64) bool {
		c.naturalIDs.EvictRegion(ctx, entity)
		return true
	})
}

// EvictQueryRegions removes every cached query result.
func (c *Cache) EvictQueryRegions(ctx context.Context) {
	c.queries.EvictRegion(ctx)
}

// EvictAll empties every region.
func (c *Cache) EvictAll(ctx context.Context) {
	c.EvictNaturalIDRegions(ctx)
	c.EvictEntityRegions(ctx)
	c.EvictCollectionRegions(ctx)
	c.EvictQueryRegions(ctx)
	c.logger.Info("second-level cache evicted")
}

func (c *Cache) evictKind(ctx context.Context, kind RegionKind) {
	c.regions.Range(func(_ string, r *Region) bool {
		if r.kind == kind {
			r.EvictRegion(ctx)
		}
		return true
	})
}

// RegionNames lists the names of the regions created so far.
func (c *Cache) RegionNames() []string {
	var names []string
	c.regions.Range(func(name string, _ *Region) bool {
		names = append(names, name)
		return true
	})
	return names
}
