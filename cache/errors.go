package cache

import "github.com/goliatone/go-errors"

// ErrInvalidResultType is returned by GetOrFetch when the cached value does not
// have the requested type.
var ErrInvalidResultType = errors.New("cached value has an unexpected type", errors.CategoryInternal).
	WithTextCode("CACHE_INVALID_RESULT_TYPE")
