package secondlevel

import (
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// RegionStats is a snapshot of the counters of one region.
type RegionStats struct {
	Region string
	Hits   int64
	Misses int64
	Puts   int64
}

// NaturalIDStats is a snapshot of the counters of one natural-id region.
type NaturalIDStats struct {
	Region     string
	Hits       int64
	Misses     int64
	Executions int64
	Puts       int64
}

// QueryStats is a snapshot of the counters of one named query.
type QueryStats struct {
	Query      string
	Hits       int64
	Misses     int64
	Puts       int64
	Executions int64
}

type counters struct {
	hits       atomic.Int64
	misses     atomic.Int64
	puts       atomic.Int64
	executions atomic.Int64
}

// Statistics holds the cache counters. The engine only increments them.
type Statistics struct {
	regions    *xsync.MapOf[string, *counters]
	naturalIDs *xsync.MapOf[string, *counters]
	queries    *xsync.MapOf[string, *counters]
}

func newStatistics() *Statistics {
	return &Statistics{
		regions:    xsync.NewMapOf[string, *counters](),
		naturalIDs: xsync.NewMapOf[string, *counters](),
		queries:    xsync.NewMapOf[string, *counters](),
	}
}

func counterFor(m *xsync.MapOf[string, *counters], name string) *counters {
	c, _ := m.LoadOrCompute(name, func() *counters { return &counters{} })
	return c
}

func (s *Statistics) region(name string) *counters    { return counterFor(s.regions, name) }
func (s *Statistics) naturalID(name string) *counters { return counterFor(s.naturalIDs, name) }
func (s *Statistics) query(name string) *counters     { return counterFor(s.queries, name) }

// Region returns the counters of a region, zero when never touched.
func (s *Statistics) Region(name string) RegionStats {
	c, ok := s.regions.Load(name)
	if !ok {
		return RegionStats{Region: name}
	}
	return RegionStats{Region: name, Hits: c.hits.Load(), Misses: c.misses.Load(), Puts: c.puts.Load()}
}

// Regions returns the counters of every touched region sorted by name.
func (s *Statistics) Regions() []RegionStats {
	var out []RegionStats
	s.regions.Range(func(name string, _ *counters) bool {
		out = append(out, s.Region(name))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// NaturalID returns the counters of a natural-id region.
func (s *Statistics) NaturalID(region string) NaturalIDStats {
	c, ok := s.naturalIDs.Load(region)
	if !ok {
		return NaturalIDStats{Region: region}
	}
	return NaturalIDStats{
		Region:     region,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Executions: c.executions.Load(),
		Puts:       c.puts.Load(),
	}
}

func (s *Statistics) NaturalIDs() []NaturalIDStats {
	var out []NaturalIDStats
	s.naturalIDs.Range(func(name string, _ *counters) bool {
		out = append(out, s.NaturalID(name))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Query returns the counters of a named query.
func (s *Statistics) Query(name string) QueryStats {
	c, ok := s.queries.Load(name)
	if !ok {
		return QueryStats{Query: name}
	}
	return QueryStats{
		Query:      name,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Puts:       c.puts.Load(),
		Executions: c.executions.Load(),
	}
}

func (s *Statistics) Queries() []QueryStats {
	var out []QueryStats
	s.queries.Range(func(name string, _ *counters) bool {
		out = append(out, s.Query(name))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Query < out[j].Query })
	return out
}

// Clear resets every counter.
func (s *Statistics) Clear() {
	s.regions.Clear()
	s.naturalIDs.Clear()
	s.queries.Clear()
}
