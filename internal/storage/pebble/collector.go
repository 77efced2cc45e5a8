package pebblestore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a subset of Pebble's internal metrics to Prometheus,
// labelled by the store's role (metadata, index).
type Collector struct {
	db *DB

	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
	memtableSize    *prometheus.Desc
	compactionCount *prometheus.Desc
	estimatedDebt   *prometheus.Desc
}

// NewCollector builds a Collector for one store.
func NewCollector(db *DB, role string) *Collector {
	labels := prometheus.Labels{"role": role}
	return &Collector{
		db: db,
		walSize: prometheus.NewDesc(
			"artio_store_wal_size_bytes",
			"Current size of the store's WAL",
			nil, labels,
		),
		walBytesWritten: prometheus.NewDesc(
			"artio_store_wal_bytes_written_total",
			"Total bytes written to the store's WAL",
			nil, labels,
		),
		memtableSize: prometheus.NewDesc(
			"artio_store_memtable_size_bytes",
			"Current memtable size",
			nil, labels,
		),
		compactionCount: prometheus.NewDesc(
			"artio_store_compaction_count_total",
			"Total number of compactions performed",
			nil, labels,
		),
		estimatedDebt: prometheus.NewDesc(
			"artio_store_compaction_estimated_debt_bytes",
			"Estimated bytes to compact to reach a stable state",
			nil, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.walSize
	ch <- c.walBytesWritten
	ch <- c.memtableSize
	ch <- c.compactionCount
	ch <- c.estimatedDebt
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.db.Metrics()
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.estimatedDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
}
