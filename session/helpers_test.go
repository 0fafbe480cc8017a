package session

import (
	"context"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/metadata"
	"github.com/goliatone/go-persist/pkg/testsupport"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/store/memstore"
)

type harness struct {
	reg     *metadata.Registry
	st      *memstore.Store
	backend cache.CacheService
	l2      *secondlevel.Cache
	f       *Factory
}

type harnessOption func(*Config, *secondlevel.Config)

func withBatchSize(n int) harnessOption {
	return func(c *Config, _ *secondlevel.Config) { c.BatchSize = n }
}

func withoutCache() harnessOption {
	return func(_ *Config, l2 *secondlevel.Config) { l2.Enabled = false; l2.QueryCacheEnabled = false }
}

// newHarness wires a Factory over a fresh memstore and an in-memory
// second-level cache.
func newHarness(t *testing.T, entities []*metadata.Entity, opts ...harnessOption) *harness {
	t.Helper()

	reg, err := metadata.NewRegistry(entities...)
	require.NoError(t, err)

	cfg := DefaultConfig()
	l2cfg := secondlevel.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg, &l2cfg)
	}

	backend, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	l2, err := secondlevel.New(backend, l2cfg)
	require.NoError(t, err)

	st := memstore.New()
	f, err := NewFactory(reg, st, l2, cfg)
	require.NoError(t, err)

	return &harness{reg: reg, st: st, backend: backend, l2: l2, f: f}
}

func newAuctionHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	return newHarness(t, testsupport.AuctionEntities(), opts...)
}

func (h *harness) open(t *testing.T) *Session {
	t.Helper()
	s := h.f.Open(context.Background())
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// auction holds the ids written by createAuction.
type auction struct {
	seller any
	item   any
	bids   []any
}

// createAuction inserts a seller, an item and n bids in one unit of work.
func (h *harness) createAuction(t *testing.T, n int) auction {
	t.Helper()
	ctx := context.Background()
	s := h.open(t)

	seller := mustNew(t, s, "User", map[string]any{"username": "johndoe", "email": "john@example.com"})
	item := mustNew(t, s, "Item", map[string]any{"name": "Camera", "initial_price": 99.5})
	require.NoError(t, item.SetRef("seller", seller))

	bids, err := item.Collection("bids")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		bid := mustNew(t, s, "Bid", map[string]any{"amount": 100.0 + float64(i)})
		require.NoError(t, bids.Add(ctx, bid))
	}

	require.NoError(t, s.Persist(ctx, seller))
	require.NoError(t, s.Persist(ctx, item))
	require.NoError(t, s.Commit(ctx))

	out := auction{seller: seller.ID(), item: item.ID()}
	elements, err := bids.Elements(ctx)
	require.NoError(t, err)
	for _, b := range elements {
		out.bids = append(out.bids, b.ID())
	}
	require.NoError(t, s.Close(ctx))
	return out
}

func mustNew(t *testing.T, s *Session, name string, values map[string]any) *Entity {
	t.Helper()
	e, err := s.New(name)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, e.Set(k, v))
	}
	return e
}

func textCode(err error) string {
	var perr *errors.Error
	if errors.As(err, &perr) {
		return perr.TextCode
	}
	return ""
}
