package session

import (
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
)

// FlushMode controls when pending changes reach the store.
type FlushMode int

const (
	// FlushAuto flushes before queries over tables with pending changes and at commit.
	FlushAuto FlushMode = iota
	// FlushCommit flushes only at commit or on an explicit Flush.
	FlushCommit
)

// CacheMode controls how a session interacts with the second-level cache.
// Invalidation after writes happens in every mode.
type CacheMode int

const (
	// CacheNormal reads from and writes to the cache.
	CacheNormal CacheMode = iota
	// CacheGet reads from the cache but does not add loaded data.
	CacheGet
	// CachePut adds loaded data but never reads.
	CachePut
	// CacheIgnore neither reads nor adds loaded data.
	CacheIgnore
	// CacheRefresh never reads and overwrites entries with loaded data.
	CacheRefresh
)

func (m CacheMode) reads() bool { return m == CacheNormal || m == CacheGet }
func (m CacheMode) puts() bool  { return m == CacheNormal || m == CachePut || m == CacheRefresh }

// LockMode is the optimistic lock mode of a managed entity.
type LockMode int

const (
	LockNone LockMode = iota
	// LockOptimistic verifies at flush that the version did not change.
	LockOptimistic
	// LockOptimisticForceIncrement increments the version at flush even without changes.
	LockOptimisticForceIncrement
)

// DefaultBatchSize is the number of proxies or collections loaded per round trip.
const DefaultBatchSize = 16

// Config configures the sessions opened by a Factory.
type Config struct {
	// BatchSize bounds batched proxy and collection loads. Associations may override it.
	BatchSize int
	FlushMode FlushMode
	CacheMode CacheMode
	// MinimalPuts skips cache puts for keys that already hold an entry.
	MinimalPuts bool
	Logger      *slog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		FlushMode: FlushAuto,
		CacheMode: CacheNormal,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.FlushMode, validation.In(FlushAuto, FlushCommit)),
		validation.Field(&c.CacheMode, validation.In(CacheNormal, CacheGet, CachePut, CacheIgnore, CacheRefresh)),
	)
	if verr := errors.FromOzzoValidation(err, "invalid session configuration"); verr != nil {
		return verr.WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}
