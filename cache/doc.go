// Package cache provides the key-value backend and key serialization used by
// the second-level cache.
//
// # Overview
//
// The package exports two interfaces and their default implementations:
//
//   - CacheService: a key-value store with read-through GetOrFetch, prefix
//     eviction and key enumeration
//   - KeySerializer: builds stable keys from a region name and key parts
//
// NewCacheService returns a sturdyc backed CacheService. Concurrent
// GetOrFetch calls for the same missing key share one fetch.
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	serializer := cache.NewDefaultKeySerializer()
//	key := serializer.SerializeKey("Item", 42) // "Item::42"
//
// # Key Layout
//
// Every key starts with its region followed by KeySeparator, so a whole region
// can be dropped with DeleteByPrefix(RegionPrefix(region)). Region names never
// contain the separator: entity regions use the entity name, collection
// regions use the role ("Item.bids") and natural id regions append
// "##NaturalId".
//
// The default serializer normalizes identifiers so that values read back
// from different drivers map to the same key:
//
//   - Integers of any width and whole floats: decimal form
//   - Times: UTC RFC3339Nano
//   - Byte slices: hex with a "bytes:" prefix
//   - Identifier arrays implementing fmt.Stringer (uuid.UUID): String()
//   - Slices, maps and structs: recursive, maps sorted by key
//   - Anything else: JSON fallback
//
// # Typed Fetch
//
// GetOrFetch wraps CacheService.GetOrFetch with a type parameter:
//
//	id, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (int64, error) {
//		return resolveFromStore(ctx)
//	})
//
// A stored value of a different type yields ErrInvalidResultType.
package cache
