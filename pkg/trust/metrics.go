package trust

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes trust records as prometheus metrics, read from a store
// snapshot at scrape time.
type Collector struct {
	store *Store

	score      *prometheus.Desc
	executions *prometheus.Desc
	violations *prometheus.Desc
	graduated  *prometheus.Desc
}

// NewCollector builds a collector over the given store. Register it on the
// serving prometheus registry.
func NewCollector(store *Store) *Collector {
	return &Collector{
		store: store,
		score: prometheus.NewDesc(
			"steward_trust_score",
			"Current incremental trust score per worker.",
			[]string{"worker_id"}, nil,
		),
		executions: prometheus.NewDesc(
			"steward_trust_executions_total",
			"Executions observed per worker.",
			[]string{"worker_id"}, nil,
		),
		violations: prometheus.NewDesc(
			"steward_trust_violations_total",
			"Governance violations recorded per worker.",
			[]string{"worker_id"}, nil,
		),
		graduated: prometheus.NewDesc(
			"steward_trust_graduated",
			"1 when the worker has crossed the graduation threshold.",
			[]string{"worker_id"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.score
	ch <- c.executions
	ch <- c.violations
	ch <- c.graduated
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, rec := range c.store.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, rec.Score, rec.WorkerID)
		ch <- prometheus.MustNewConstMetric(c.executions, prometheus.CounterValue, float64(rec.Executions), rec.WorkerID)
		ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(rec.Violations), rec.WorkerID)
		graduated := 0.0
		if rec.Graduated() {
			graduated = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.graduated, prometheus.GaugeValue, graduated, rec.WorkerID)
	}
}
