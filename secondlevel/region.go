package secondlevel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/metadata"
	"github.com/google/uuid"
)

// RegionKind tells entity regions apart from collection regions.
type RegionKind int

const (
	EntityRegion RegionKind = iota
	CollectionRegion
)

// SoftLock is the token returned by Lock. It is not a database lock: it only
// keeps readers of a read-write region on the last committed entry until the
// writer finishes or the lock expires.
type SoftLock struct {
	Region    string
	Key       string
	ID        uuid.UUID
	ExpiresAt int64
}

// Region is a named partition of the second-level cache with a concurrency
// strategy. Regions are safe for concurrent use.
type Region struct {
	name     string
	kind     RegionKind
	strategy metadata.CacheStrategy
	c        *Cache

	// mu serializes read-modify-write sequences on keys of this region.
	mu sync.Mutex
}

func (r *Region) Name() string                     { return r.name }
func (r *Region) Kind() RegionKind                 { return r.kind }
func (r *Region) Strategy() metadata.CacheStrategy { return r.strategy }

// Key builds the backend key of an identifier in this region.
func (r *Region) Key(id any) string {
	return r.c.keys.SerializeKey(r.name, id)
}

func (r *Region) logger() *slog.Logger { return r.c.logger }

func (r *Region) load(ctx context.Context, key string) (item, bool) {
	raw, ok := r.c.backend.Get(ctx, key)
	if !ok {
		return item{}, false
	}
	it, err := decodeItem(raw)
	if err != nil {
		r.logger().Warn("evicting undecodable cache entry", "region", r.name, "key", key, "error", err)
		r.remove(ctx, key)
		return item{}, false
	}
	return it, true
}

func (r *Region) store(ctx context.Context, key string, it item) bool {
	data, err := encodeItem(it)
	if err != nil {
		r.logger().Warn("cannot encode cache entry", "region", r.name, "key", key, "error", err)
		r.remove(ctx, key)
		return false
	}
	if err := r.c.backend.Set(ctx, key, data); err != nil {
		r.logger().Warn("cache backend rejected entry", "region", r.name, "key", key, "error", err)
		r.remove(ctx, key)
		return false
	}
	return true
}

func (r *Region) remove(ctx context.Context, key string) {
	if err := r.c.backend.Delete(ctx, key); err != nil {
		r.logger().Warn("cache backend delete failed", "region", r.name, "key", key, "error", err)
	}
}

func (r *Region) expired(l *lockItem) bool {
	return l.ExpiresAt <= r.c.clock.Wall()
}

// Get returns a fresh copy of the entry stored under key. While a read-write
// soft lock is held the entry committed before the lock is returned.
func (r *Region) Get(ctx context.Context, key string) (*Entry, bool) {
	stats := r.c.stats.region(r.name)
	it, ok := r.load(ctx, key)
	switch {
	case !ok:
	case it.Entry != nil:
		stats.hits.Add(1)
		r.logger().Debug("cache hit", "region", r.name, "key", key)
		return it.Entry, true
	case it.Lock != nil && r.expired(it.Lock):
		r.evictExpired(ctx, key)
	case it.Lock != nil && it.Lock.Prior != nil:
		stats.hits.Add(1)
		r.logger().Debug("cache hit on soft locked entry", "region", r.name, "key", key)
		return it.Lock.Prior, true
	}
	stats.misses.Add(1)
	r.logger().Debug("cache miss", "region", r.name, "key", key)
	return nil, false
}

func (r *Region) evictExpired(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.load(ctx, key)
	if ok && it.Lock != nil && r.expired(it.Lock) {
		r.logger().Warn("evicting expired soft lock", "region", r.name, "key", key)
		r.remove(ctx, key)
	}
}

// Contains reports whether key holds an entry or a live soft lock.
func (r *Region) Contains(ctx context.Context, key string) bool {
	it, ok := r.load(ctx, key)
	if !ok {
		return false
	}
	return it.Entry != nil || (it.Lock != nil && !r.expired(it.Lock) && !it.Lock.unlocked())
}

// Put stores entry unconditionally.
func (r *Region) Put(ctx context.Context, key string, entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(ctx, key, entry)
}

func (r *Region) put(ctx context.Context, key string, entry *Entry) bool {
	if !r.store(ctx, key, item{Entry: entry}) {
		return false
	}
	r.c.stats.region(r.name).puts.Add(1)
	r.logger().Debug("cache put", "region", r.name, "key", key)
	return true
}

// PutFromLoad stores an entry assembled from a store read that started at
// txStart. It never overwrites a live soft lock, an entry with a newer
// version, or an entry assembled after txStart. An unlocked item left by
// contending writers is replaced only by reads started after the unlock.
// With minimal set it skips keys that already hold an entry.
func (r *Region) PutFromLoad(ctx context.Context, key string, entry *Entry, txStart int64, minimal bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.load(ctx, key)
	switch {
	case !ok:
	case it.Lock != nil:
		if !r.expired(it.Lock) && !(it.Lock.unlocked() && txStart > it.Lock.UnlockedAt) {
			return false
		}
	case it.Entry != nil:
		if minimal {
			return false
		}
		if it.Entry.Version != nil && entry.Version != nil {
			if !entry.newer(it.Entry) {
				return false
			}
		} else if it.Entry.Timestamp >= txStart {
			return false
		}
	}
	return r.put(ctx, key, entry)
}

// AfterInsert caches the entry of a row inserted by a committed transaction.
// Nonstrict regions do not cache on insert.
func (r *Region) AfterInsert(ctx context.Context, key string, entry *Entry) bool {
	if r.strategy == metadata.CacheNonstrictReadWrite {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.load(ctx, key); ok {
		return false
	}
	return r.put(ctx, key, entry)
}

// BeginUpdate prepares key for an update of its row. Read-only regions reject
// the update, read-write regions take a soft lock.
func (r *Region) BeginUpdate(ctx context.Context, key string) (*SoftLock, error) {
	if r.strategy == metadata.CacheReadOnly && r.kind == EntityRegion {
		return nil, readOnlyUpdate(r.name, key)
	}
	return r.Lock(ctx, key), nil
}

// Lock takes a soft lock on key in read-write regions and returns nil for
// every other strategy. Concurrent lockers share one lock item.
func (r *Region) Lock(ctx context.Context, key string) *SoftLock {
	if r.strategy != metadata.CacheReadWrite {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	expires := r.c.clock.Wall() + r.c.cfg.SoftLockTimeout.Nanoseconds()
	lock := &lockItem{ExpiresAt: expires, Concurrent: 1}

	if it, ok := r.load(ctx, key); ok {
		switch {
		case it.Entry != nil:
			lock.Prior = it.Entry
		case it.Lock != nil && !r.expired(it.Lock) && !it.Lock.unlocked():
			lock.Concurrent = it.Lock.Concurrent + 1
			lock.Multiple = true
			lock.Prior = it.Lock.Prior
		}
	}
	if !r.store(ctx, key, item{Lock: lock}) {
		return nil
	}
	r.logger().Debug("soft lock acquired", "region", r.name, "key", key, "holders", lock.Concurrent)
	return &SoftLock{Region: r.name, Key: key, ID: uuid.New(), ExpiresAt: expires}
}

// Release gives up a soft lock without a committed change, restoring the
// entry that was current when the lock was taken.
func (r *Region) Release(ctx context.Context, lock *SoftLock) {
	if lock == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.load(ctx, lock.Key)
	switch {
	case !ok:
	case it.Lock == nil || r.expired(it.Lock):
		r.remove(ctx, lock.Key)
	case it.Lock.unlocked():
	case it.Lock.Multiple:
		// another holder may have committed already
		r.unlock(ctx, lock.Key, it)
	case it.Lock.Prior != nil:
		r.store(ctx, lock.Key, item{Entry: it.Lock.Prior})
	default:
		r.remove(ctx, lock.Key)
	}
	r.logger().Debug("soft lock released", "region", r.name, "key", lock.Key)
}

// AfterUpdate runs once the transaction that changed key has committed.
// A nil entry evicts the key. In read-write regions the entry is installed
// only by a writer that held the lock alone and still holds it. When writers
// contended for the lock the commit order is unknown here, so the last holder
// leaves an unlocked item instead; any lost or expired lock ends in eviction.
func (r *Region) AfterUpdate(ctx context.Context, key string, entry *Entry, lock *SoftLock) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.strategy != metadata.CacheReadWrite {
		if entry == nil || r.strategy == metadata.CacheReadOnly || r.kind == CollectionRegion {
			r.remove(ctx, key)
			return false
		}
		return r.afterNonstrictUpdate(ctx, key, entry)
	}

	it, ok := r.load(ctx, key)
	switch {
	case lock == nil || !ok || it.Lock == nil || r.expired(it.Lock):
		if lock != nil {
			r.logger().Warn("soft lock lost before commit, evicting", "region", r.name, "key", key)
		}
		r.remove(ctx, key)
		return false
	case it.Lock.unlocked():
		return false
	case it.Lock.Multiple:
		r.unlock(ctx, key, it)
		return false
	case entry == nil:
		r.remove(ctx, key)
		return false
	}
	return r.put(ctx, key, entry)
}

// afterNonstrictUpdate puts entry only over an empty key or an older
// version. A cached entry that cannot be ordered against entry is evicted,
// so a delayed callback never replaces a newer committed state.
func (r *Region) afterNonstrictUpdate(ctx context.Context, key string, entry *Entry) bool {
	it, ok := r.load(ctx, key)
	switch {
	case !ok:
	case it.Entry != nil && it.Entry.Version != nil && entry.Version != nil:
		if !entry.newer(it.Entry) {
			r.logger().Debug("skipping outdated nonstrict update", "region", r.name, "key", key)
			return false
		}
	default:
		r.remove(ctx, key)
		return false
	}
	return r.put(ctx, key, entry)
}

// unlock drops one holder of a contended lock. The remembered entry is
// outdated once any holder may have committed; the last holder stamps the
// unlock time.
func (r *Region) unlock(ctx context.Context, key string, it item) {
	it.Lock.Concurrent--
	it.Lock.Prior = nil
	if it.Lock.unlocked() {
		it.Lock.UnlockedAt = r.c.clock.Next()
		r.logger().Debug("contended soft lock unlocked", "region", r.name, "key", key)
	}
	r.store(ctx, key, it)
}

// Evict removes key from the region.
func (r *Region) Evict(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(ctx, key)
	r.logger().Debug("cache evict", "region", r.name, "key", key)
}

// EvictRegion removes every key of the region.
func (r *Region) EvictRegion(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.c.backend.DeleteByPrefix(ctx, cache.RegionPrefix(r.name)); err != nil {
		r.logger().Warn("cache region eviction failed", "region", r.name, "error", err)
	}
}
