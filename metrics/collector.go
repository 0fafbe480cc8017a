package metrics

import (
	stderrors "errors"

	"github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-persist/secondlevel"
	"github.com/goliatone/go-persist/session"
)

// TextCodeAlreadyRegistered marks a second registration of the collector.
const TextCodeAlreadyRegistered = "METRICS_ALREADY_REGISTERED"

type labeledDescs struct {
	hits, misses, puts, executions *prometheus.Desc
}

func newLabeledDescs(namespace, subsystem, label, what string) labeledDescs {
	name := func(n string) string { return prometheus.BuildFQName(namespace, subsystem, n) }
	return labeledDescs{
		hits:       prometheus.NewDesc(name("hits_total"), what+" lookups answered from the cache.", []string{label}, nil),
		misses:     prometheus.NewDesc(name("misses_total"), what+" lookups not answered from the cache.", []string{label}, nil),
		puts:       prometheus.NewDesc(name("puts_total"), what+" entries written to the cache.", []string{label}, nil),
		executions: prometheus.NewDesc(name("executions_total"), what+" loaders run against the store.", []string{label}, nil),
	}
}

type engineMetric struct {
	desc  *prometheus.Desc
	value func(session.StatisticsSnapshot) int64
}

// Collector implements prometheus.Collector over the cache and engine
// statistics. Either source may be nil.
type Collector struct {
	cache  *secondlevel.Statistics
	engine *session.Statistics

	regions    labeledDescs
	naturalIDs labeledDescs
	queries    labeledDescs
	counters   []engineMetric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector whose metric names start with namespace.
func NewCollector(namespace string, cache *secondlevel.Statistics, engine *session.Statistics) *Collector {
	c := &Collector{
		cache:      cache,
		engine:     engine,
		regions:    newLabeledDescs(namespace, "cache_region", "region", "Entity and collection region"),
		naturalIDs: newLabeledDescs(namespace, "cache_natural_id", "region", "Natural id"),
		queries:    newLabeledDescs(namespace, "cache_query", "query", "Query result"),
	}

	engineCounter := func(name, help string, value func(session.StatisticsSnapshot) int64) {
		c.counters = append(c.counters, engineMetric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
			value: value,
		})
	}
	engineCounter("sessions_opened_total", "Sessions opened.", func(s session.StatisticsSnapshot) int64 { return s.SessionsOpened })
	engineCounter("sessions_closed_total", "Sessions closed.", func(s session.StatisticsSnapshot) int64 { return s.SessionsClosed })
	engineCounter("entity_loads_total", "Entities materialized into an identity map.", func(s session.StatisticsSnapshot) int64 { return s.EntityLoads })
	engineCounter("entity_fetches_total", "Store reads issued to load entities.", func(s session.StatisticsSnapshot) int64 { return s.EntityFetches })
	engineCounter("entity_inserts_total", "Rows inserted.", func(s session.StatisticsSnapshot) int64 { return s.EntityInserts })
	engineCounter("entity_updates_total", "Rows updated.", func(s session.StatisticsSnapshot) int64 { return s.EntityUpdates })
	engineCounter("entity_deletes_total", "Rows deleted.", func(s session.StatisticsSnapshot) int64 { return s.EntityDeletes })
	engineCounter("collection_loads_total", "Collections initialized.", func(s session.StatisticsSnapshot) int64 { return s.CollectionLoads })
	engineCounter("collection_fetches_total", "Store reads issued to load collections.", func(s session.StatisticsSnapshot) int64 { return s.CollectionFetches })
	engineCounter("flushes_total", "Flushes executed.", func(s session.StatisticsSnapshot) int64 { return s.Flushes })
	engineCounter("transactions_total", "Store transactions started.", func(s session.StatisticsSnapshot) int64 { return s.Transactions })
	engineCounter("commits_total", "Store transactions committed.", func(s session.StatisticsSnapshot) int64 { return s.Commits })
	engineCounter("optimistic_failures_total", "Units of work ended by a stale state conflict.", func(s session.StatisticsSnapshot) int64 { return s.OptimisticFailures })
	engineCounter("query_executions_total", "Queries run through a session.", func(s session.StatisticsSnapshot) int64 { return s.QueryExecutions })
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []labeledDescs{c.regions, c.naturalIDs, c.queries} {
		ch <- d.hits
		ch <- d.misses
		ch <- d.puts
		ch <- d.executions
	}
	for _, m := range c.counters {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	if c.cache != nil {
		for _, r := range c.cache.Regions() {
			counter(c.regions.hits, r.Hits, r.Region)
			counter(c.regions.misses, r.Misses, r.Region)
			counter(c.regions.puts, r.Puts, r.Region)
		}
		for _, n := range c.cache.NaturalIDs() {
			counter(c.naturalIDs.hits, n.Hits, n.Region)
			counter(c.naturalIDs.misses, n.Misses, n.Region)
			counter(c.naturalIDs.puts, n.Puts, n.Region)
			counter(c.naturalIDs.executions, n.Executions, n.Region)
		}
		for _, q := range c.cache.Queries() {
			counter(c.queries.hits, q.Hits, q.Query)
			counter(c.queries.misses, q.Misses, q.Query)
			counter(c.queries.puts, q.Puts, q.Query)
			counter(c.queries.executions, q.Executions, q.Query)
		}
	}

	if c.engine != nil {
		snap := c.engine.Snapshot()
		for _, m := range c.counters {
			counter(m.desc, m.value(snap))
		}
	}
}

// Register adds c to reg. Registering the same collector twice fails with
// TextCodeAlreadyRegistered.
func Register(reg prometheus.Registerer, c *Collector) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if stderrors.As(err, &already) {
		return errors.Wrap(err, errors.CategoryConflict, "persist metrics are already registered").
			WithTextCode(TextCodeAlreadyRegistered)
	}
	return errors.Wrap(err, errors.CategoryInternal, "failed to register persist metrics")
}
