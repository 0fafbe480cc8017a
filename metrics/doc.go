// Package metrics exposes second-level cache and session engine statistics
// as Prometheus metrics.
//
// The collector reads the live counters on every scrape, so it holds no
// state of its own:
//
//	c := metrics.NewCollector("persist", l2.Statistics(), factory.Statistics())
//	if err := metrics.Register(prometheus.DefaultRegisterer, c); err != nil {
//		return err
//	}
package metrics
