package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-persist/cache"
	"github.com/goliatone/go-persist/pkg/testsupport"
	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/session"
	"github.com/goliatone/go-persist/store/memstore"
)

func newFactory(t *testing.T) (*session.Factory, *secondlevel.Cache, *memstore.Store) {
	t.Helper()
	backend, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	l2, err := secondlevel.New(backend, secondlevel.DefaultConfig())
	require.NoError(t, err)

	st := memstore.New()
	testsupport.SeedAuction(st, 2, 1)
	f, err := session.NewFactory(testsupport.AuctionRegistry(t), st, l2, session.DefaultConfig())
	require.NoError(t, err)
	return f, l2, st
}

func TestCollector_EngineCounters(t *testing.T) {
	ctx := context.Background()
	f, l2, _ := newFactory(t)
	c := NewCollector("persist", l2.Statistics(), f.Statistics())

	s := f.Open(ctx)
	_, err := s.Find(ctx, "Item", 1)
	require.NoError(t, err)
	_, err = s.Find(ctx, "Item", 1)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	expected := `
# HELP persist_sessions_opened_total Sessions opened.
# TYPE persist_sessions_opened_total counter
persist_sessions_opened_total 1
# HELP persist_entity_fetches_total Store reads issued to load entities.
# TYPE persist_entity_fetches_total counter
persist_entity_fetches_total 1
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"persist_sessions_opened_total", "persist_entity_fetches_total")
	assert.NoError(t, err)
}

func TestCollector_RegionCounters(t *testing.T) {
	ctx := context.Background()
	f, l2, _ := newFactory(t)
	c := NewCollector("persist", l2.Statistics(), f.Statistics())

	for i := 0; i < 2; i++ {
		s := f.Open(ctx)
		_, err := s.Find(ctx, "Item", 1)
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))
	}

	expected := `
# HELP persist_cache_region_hits_total Entity and collection region lookups answered from the cache.
# TYPE persist_cache_region_hits_total counter
persist_cache_region_hits_total{region="Item"} 1
# HELP persist_cache_region_misses_total Entity and collection region lookups not answered from the cache.
# TYPE persist_cache_region_misses_total counter
persist_cache_region_misses_total{region="Item"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"persist_cache_region_hits_total", "persist_cache_region_misses_total")
	assert.NoError(t, err)
}

func TestCollector_QueryAndNaturalIDCounters(t *testing.T) {
	ctx := context.Background()
	f, l2, _ := newFactory(t)
	c := NewCollector("persist", l2.Statistics(), nil)

	s := f.Open(ctx)
	_, err := s.FindByNaturalID(ctx, "User", testsupport.UserName(1))
	require.NoError(t, err)
	_, err = s.Query(ctx, session.QuerySpec{Name: "allItems", Entity: "Item", Cacheable: true})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(singleMetric(t, c, "persist_cache_query_executions_total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(singleMetric(t, c, "persist_cache_natural_id_misses_total")))
}

func TestCollector_NilSources(t *testing.T) {
	c := NewCollector("persist", nil, nil)
	assert.Zero(t, testutil.CollectAndCount(c))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("persist", nil, nil)

	require.NoError(t, Register(reg, c))
	err := Register(reg, c)
	var perr *errors.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TextCodeAlreadyRegistered, perr.TextCode)
}

// singleMetric returns a collector yielding only the named metric family.
func singleMetric(t *testing.T, c prometheus.Collector, name string) prometheus.Collector {
	t.Helper()
	return filtered{c: c, name: name}
}

type filtered struct {
	c    prometheus.Collector
	name string
}

func (f filtered) Describe(ch chan<- *prometheus.Desc) { prometheus.DescribeByCollect(f, ch) }

func (f filtered) Collect(ch chan<- prometheus.Metric) {
	all := make(chan prometheus.Metric)
	go func() {
		f.c.Collect(all)
		close(all)
	}()
	for m := range all {
		if strings.Contains(m.Desc().String(), `fqName: "`+f.name+`"`) {
			ch <- m
		}
	}
}
