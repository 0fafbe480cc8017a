package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/store"
)

// Factory opens sessions sharing one registry, store and second-level cache.
// A Factory is safe for concurrent use; the sessions it opens are not.
type Factory struct {
	registry *metadata.Registry
	store    store.Store
	cache    *secondlevel.Cache
	cfg      Config
	logger   *slog.Logger
	stats    *Statistics

	mu    sync.RWMutex
	hooks hooks
}

// NewFactory validates cfg and returns a Factory. A nil or disabled cache
// turns second-level caching off.
func NewFactory(registry *metadata.Registry, st store.Store, l2 *secondlevel.Cache, cfg Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{
		registry: registry,
		store:    st,
		cache:    l2,
		cfg:      cfg,
		logger:   cfg.Logger,
		stats:    &Statistics{},
	}, nil
}

// On registers a hook for every session opened afterwards. A non-empty
// entity restricts the hook to that entity type.
func (f *Factory) On(event Event, entity string, fn Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, registeredHook{event: event, entity: entity, fn: fn})
}

// Open starts a new unit of work.
func (f *Factory) Open(ctx context.Context) *Session {
	f.mu.RLock()
	h := make(hooks, len(f.hooks))
	copy(h, f.hooks)
	f.mu.RUnlock()

	s := &Session{
		f:         f,
		logger:    f.logger,
		hooks:     h,
		flushMode: f.cfg.FlushMode,
		cacheMode: f.cfg.CacheMode,
		entities:  make(map[entityKey]*Entity),
		proxies:   make(map[entityKey]*Proxy),
	}
	s.txStart = s.now()
	f.stats.sessionsOpened.Add(1)
	f.logger.Debug("session opened")
	return s
}

func (f *Factory) Registry() *metadata.Registry { return f.registry }
func (f *Factory) Store() store.Store           { return f.store }
func (f *Factory) Cache() *secondlevel.Cache    { return f.cache }
func (f *Factory) Statistics() *Statistics      { return f.stats }
func (f *Factory) Config() Config               { return f.cfg }
