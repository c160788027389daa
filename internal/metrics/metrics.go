// Package metrics exposes Prometheus instrumentation for crawls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Crawl holds the per-run crawl metrics. A nil *Crawl is a valid no-op
// receiver so the crawler can run uninstrumented.
type Crawl struct {
	filesVisited    prometheus.Counter
	filesMatched    prometheus.Counter
	filesSkipped    prometheus.Counter
	recordsTotal    *prometheus.CounterVec
	extractDuration *prometheus.HistogramVec
}

// NewCrawl registers the crawl metric set on reg.
func NewCrawl(reg prometheus.Registerer) *Crawl {
	factory := promauto.With(reg)
	return &Crawl{
		filesVisited: factory.NewCounter(prometheus.CounterOpts{
			Name: "spawn_crawl_files_visited_total",
			Help: "Files seen during traversal, eligible or not.",
		}),
		filesMatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "spawn_crawl_files_matched_total",
			Help: "Files passing include/exclude filtering.",
		}),
		filesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "spawn_crawl_files_skipped_total",
			Help: "Files rejected by include/exclude filtering.",
		}),
		recordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spawn_crawl_records_total",
			Help: "Metadata records produced, labeled by plugin and status.",
		}, []string{"plugin", "status"}),
		extractDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spawn_crawl_extract_duration_seconds",
			Help:    "Per-plugin extraction duration.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"plugin"}),
	}
}

func (c *Crawl) FileVisited() {
	if c != nil {
		c.filesVisited.Inc()
	}
}

func (c *Crawl) FileMatched() {
	if c != nil {
		c.filesMatched.Inc()
	}
}

func (c *Crawl) FileSkipped() {
	if c != nil {
		c.filesSkipped.Inc()
	}
}

func (c *Crawl) Record(plugin, status string) {
	if c != nil {
		c.recordsTotal.WithLabelValues(plugin, status).Inc()
	}
}

func (c *Crawl) ObserveExtract(plugin string, seconds float64) {
	if c != nil {
		c.extractDuration.WithLabelValues(plugin).Observe(seconds)
	}
}
