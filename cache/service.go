package cache

import (
	"context"
	"fmt"
)

// KeySerializer builds a cache key from a region name and key parts.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(region string, parts ...any) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the key-value backend behind every second-level cache
// region. Implementations may be in-process or remote; values handed to Set
// are immutable byte snapshots or scalars.
type CacheService interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any) error
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	InvalidateKeys(ctx context.Context, keys []string) error
	Keys(ctx context.Context) []string
}

// GetOrFetch is a type-safe wrapper function that provides generic support for CacheService.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T
	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: cached value for %q is %T", ErrInvalidResultType, key, result)
	}
	return typed, nil
}
