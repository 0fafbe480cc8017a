package di

import (
	"context"
	"io"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/internal/cacheinfra"
	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/metrics"
	"github.com/goliatone/go-persist/repository"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/session"
	"github.com/goliatone/go-persist/store"
	"github.com/goliatone/go-persist/store/bunstore"
	"github.com/goliatone/go-persist/store/memstore"
)

// TextCodeInvalidConfig marks configuration validation failures.
const TextCodeInvalidConfig = "INVALID_CONFIG"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects the backing store.
type StoreConfig struct {
	// Driver is one of DriverMemory, DriverSQLite or DriverPostgres.
	Driver string
	// DSN is required for SQL drivers.
	DSN string
	// SequenceTable overrides the table used for generated ids.
	SequenceTable string
}

// Config aggregates the configuration of every engine component.
type Config struct {
	Cache       cacheinfra.Config
	SecondLevel secondlevel.Config
	Session     session.Config
	Store       StoreConfig
}

// DefaultConfig returns an in-memory store with every cache enabled.
func DefaultConfig() Config {
	return Config{
		Cache:       cacheinfra.DefaultConfig(),
		SecondLevel: secondlevel.DefaultConfig(),
		Session:     session.DefaultConfig(),
		Store:       StoreConfig{Driver: DriverMemory},
	}
}

// Validate checks the store selection. Component configurations are
// validated by their constructors.
func (c StoreConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverMemory, DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.When(c.Driver != DriverMemory, validation.Required)),
	)
	if verr := errors.FromOzzoValidation(err, "invalid store configuration"); verr != nil {
		return verr.WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

// Container wires the cache backend, second-level cache, metadata registry,
// store and session factory. Components are created once and shared.
type Container struct {
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	config        Config

	registry *metadata.Registry
	store    store.Store
	l2       *secondlevel.Cache
	factory  *session.Factory
	closer   io.Closer
}

// NewContainer validates config, registers entities and builds every
// component. SQL stores are opened here and released by Close.
func NewContainer(config Config, entities ...*metadata.Entity) (*Container, error) {
	if err := config.Store.Validate(); err != nil {
		return nil, err
	}

	registry, err := metadata.NewRegistry(entities...)
	if err != nil {
		return nil, err
	}

	cacheService, err := cacheinfra.NewSturdycService(config.Cache)
	if err != nil {
		return nil, err
	}

	keySerializer := config.SecondLevel.KeySerializer
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
		config.SecondLevel.KeySerializer = keySerializer
	}
	if config.SecondLevel.Logger == nil {
		config.SecondLevel.Logger = config.Session.Logger
	}

	l2, err := secondlevel.New(cacheService, config.SecondLevel)
	if err != nil {
		return nil, err
	}

	st, closer, err := openStore(config.Store)
	if err != nil {
		return nil, err
	}

	factory, err := session.NewFactory(registry, st, l2, config.Session)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	return &Container{
		cacheService:  cacheService,
		keySerializer: keySerializer,
		config:        config,
		registry:      registry,
		store:         st,
		l2:            l2,
		factory:       factory,
		closer:        closer,
	}, nil
}

// NewContainerWithDefaults builds a container over an in-memory store using
// DefaultConfig.
func NewContainerWithDefaults(entities ...*metadata.Entity) (*Container, error) {
	return NewContainer(DefaultConfig(), entities...)
}

func openStore(cfg StoreConfig) (store.Store, io.Closer, error) {
	var opts []bunstore.Option
	if cfg.SequenceTable != "" {
		opts = append(opts, bunstore.WithSequenceTable(cfg.SequenceTable))
	}
	switch cfg.Driver {
	case DriverSQLite:
		st, err := bunstore.OpenSQLite(cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case DriverPostgres:
		st, err := bunstore.OpenPostgres(cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		return memstore.New(), nil, nil
	}
}

// CacheService returns the shared cache backend.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the key serializer used by every cache region.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

func (c *Container) Registry() *metadata.Registry     { return c.registry }
func (c *Container) Store() store.Store               { return c.store }
func (c *Container) SecondLevel() *secondlevel.Cache  { return c.l2 }
func (c *Container) SessionFactory() *session.Factory { return c.factory }

// Open starts a unit of work.
func (c *Container) Open(ctx context.Context) *session.Session {
	return c.factory.Open(ctx)
}

// Collector returns a Prometheus collector over the container statistics.
func (c *Container) Collector(namespace string) *metrics.Collector {
	return metrics.NewCollector(namespace, c.l2.Statistics(), c.factory.Statistics())
}

// Close releases the store connection, if any.
func (c *Container) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// NewRepository returns a typed repository for entity backed by the
// container's session factory.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[User](container, "User", userMapper)
func NewRepository[T any](c *Container, entity string, m repository.Mapper[T]) *repository.Repository[T] {
	return repository.New(c.factory, entity, m)
}
