package cache

import (
	"time"

	"github.com/goliatone/go-persist/internal/cacheinfra"
)

// Config exposes the backend options for consumers of the cache package.
// Fields mirror cacheinfra.Config one to one.
type Config struct {
	// Capacity is the maximum number of entries across all regions.
	Capacity  int
	NumShards int
	// TTL bounds how long any region entry, including nonstrict entries that
	// may be stale, can be served.
	TTL                  time.Duration
	EvictionPercentage   int
	MissingRecordStorage bool
	EvictionInterval     time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return cacheinfra.Config(c).Validate()
}

// NewCacheService constructs the default sturdyc backed cache service.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cacheinfra.Config(cfg))
	if err != nil {
		return nil, err
	}
	return svc, nil
}
