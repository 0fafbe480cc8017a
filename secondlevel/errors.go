package secondlevel

import "github.com/goliatone/go-errors"

// TextCodeReadOnlyUpdate marks an attempt to update an entry of a read-only region.
const TextCodeReadOnlyUpdate = "READ_ONLY_CACHE_UPDATE"

var errUnexpectedValue = errors.New("unexpected cache value type", errors.CategoryInternal).
	WithTextCode("CACHE_UNEXPECTED_VALUE")

// IsReadOnlyUpdate reports whether err rejects an update of a read-only region.
func IsReadOnlyUpdate(err error) bool {
	var perr *errors.Error
	return errors.As(err, &perr) && perr.TextCode == TextCodeReadOnlyUpdate
}

func readOnlyUpdate(region string, key string) error {
	return errors.New("cannot update an entry of a read-only cache region", errors.CategoryOperation).
		WithTextCode(TextCodeReadOnlyUpdate).
		WithMetadata(map[string]any{"region": region, "key": key})
}
