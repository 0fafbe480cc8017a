package secondlevel

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-persist/cache"
)

// TextCodeInvalidConfig marks configuration validation failures.
const TextCodeInvalidConfig = "INVALID_CONFIG"

// DefaultSoftLockTimeout bounds how long a read-write soft lock may stay in place.
const DefaultSoftLockTimeout = 60 * time.Second

// Config configures the second-level cache.
type Config struct {
	// Enabled turns entity, collection and natural-id caching on.
	Enabled bool
	// QueryCacheEnabled turns the query result cache on. It requires Enabled.
	QueryCacheEnabled bool

	// SoftLockTimeout is the lifetime of soft locks and of pre-invalidated
	// update timestamps. A crashed writer cannot wedge a key longer than this.
	SoftLockTimeout time.Duration

	Logger *slog.Logger
	// Now is the clock source, time.Now when nil.
	Now func() time.Time
	// KeySerializer defaults to cache.NewDefaultKeySerializer.
	KeySerializer cache.KeySerializer
}

// DefaultConfig returns a Config with every cache enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		QueryCacheEnabled: true,
		SoftLockTimeout:   DefaultSoftLockTimeout,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SoftLockTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.QueryCacheEnabled,
			validation.When(!c.Enabled, validation.Empty.Error("requires the second-level cache to be enabled"))),
	)
	if verr := errors.FromOzzoValidation(err, "invalid second-level cache configuration"); verr != nil {
		return verr.WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.KeySerializer == nil {
		c.KeySerializer = cache.NewDefaultKeySerializer()
	}
	return c
}
