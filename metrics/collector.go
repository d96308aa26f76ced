// Package metrics exposes this module's prometheus surface: a
// pebble.Metrics collector, plus package-level counters/histograms for
// index-maintenance work and KNN search, covering this module's per-write
// secondary-index maintenance and per-query search paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drpcorg/secidx/kv"
)

// SecondaryWrites counts index-maintaining mutate() calls, one per
// ObserveMutation call, labeled by index name and outcome so a dashboard
// can separate successful writes from failures.
var SecondaryWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "secidx",
	Subsystem: "mixin",
	Name:      "secondary_writes_total",
}, []string{"index", "outcome"})

// MutationDuration times one full mutate() call (lock, old-entry removal,
// primary write, new-entry insertion), labeled by primary column family.
var MutationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "secidx",
	Subsystem: "mixin",
	Name:      "mutation_duration_seconds",
	Buckets:   prometheus.DefBuckets,
}, []string{"primary_cf"})

// KNNSearches counts FindKNN calls, labeled by outcome.
var KNNSearches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "secidx",
	Subsystem: "ivf",
	Name:      "knn_searches_total",
}, []string{"index", "outcome"})

// KNNSearchDuration times one FindKNN call across every probed cluster.
var KNNSearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "secidx",
	Subsystem: "ivf",
	Name:      "knn_search_duration_seconds",
	Buckets:   prometheus.DefBuckets,
}, []string{"index"})

// KNNCandidatesScanned records how many inverted-list entries one FindKNN
// call visited across all its probed clusters, a proxy for how well nprobe
// is tuned relative to the working set.
var KNNCandidatesScanned = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "secidx",
	Subsystem: "ivf",
	Name:      "knn_candidates_scanned",
	Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
}, []string{"index"})

func init() {
	prometheus.MustRegister(SecondaryWrites, MutationDuration, KNNSearches, KNNSearchDuration, KNNCandidatesScanned)
}

// ObserveMutation records one mutate() call's outcome and latency.
// secidx.Txn's write path passes the primary column family's name as both
// indexName and primaryCF, and "ok" or "failed" as outcome.
func ObserveMutation(indexName, primaryCF, outcome string, start time.Time) {
	SecondaryWrites.WithLabelValues(indexName, outcome).Inc()
	MutationDuration.WithLabelValues(primaryCF).Observe(time.Since(start).Seconds())
}

// ObserveKNNSearch records one FindKNN call's outcome, latency, and how
// many candidates it scanned.
func ObserveKNNSearch(indexName, outcome string, start time.Time, candidatesScanned int) {
	KNNSearches.WithLabelValues(indexName, outcome).Inc()
	KNNSearchDuration.WithLabelValues(indexName).Observe(time.Since(start).Seconds())
	KNNCandidatesScanned.WithLabelValues(indexName).Observe(float64(candidatesScanned))
}

// PebbleCollector adapts kv.DB's underlying pebble.Metrics snapshot into a
// prometheus.Collector. It reports only the handful of store-wide numbers
// actionable for this module's operators (compaction backlog, memtable and
// WAL size), plus a per-column-family disk usage breakdown: with several
// indices sharing one store, knowing which index's primary or secondary
// keyspace is actually growing matters more than pebble's global counters.
type PebbleCollector struct {
	db *kv.DB

	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc
	memtableSize            *prometheus.Desc
	walSize                 *prometheus.Desc
	columnFamilyDiskUsage   *prometheus.Desc
}

// NewPebbleCollector wraps db. Register it with a prometheus.Registry to
// expose pebble's own internal metrics alongside SecondaryWrites/KNNSearches.
func NewPebbleCollector(db *kv.DB) *PebbleCollector {
	return &PebbleCollector{
		db: db,

		compactionEstimatedDebt: prometheus.NewDesc(
			"secidx_pebble_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		compactionInProgress: prometheus.NewDesc(
			"secidx_pebble_compaction_in_progress_bytes",
			"Number of bytes being compacted currently",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"secidx_pebble_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"secidx_pebble_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		columnFamilyDiskUsage: prometheus.NewDesc(
			"secidx_column_family_disk_usage_bytes",
			"Estimated on-disk size of one column family's keyspace, primary or secondary",
			[]string{"column_family"}, nil,
		),
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionEstimatedDebt
	ch <- pc.compactionInProgress
	ch <- pc.memtableSize
	ch <- pc.walSize
	ch <- pc.columnFamilyDiskUsage
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.db.Metrics()
	ch <- prometheus.MustNewConstMetric(pc.compactionEstimatedDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(pc.compactionInProgress, prometheus.GaugeValue, float64(m.Compact.InProgressBytes))
	ch <- prometheus.MustNewConstMetric(pc.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(pc.walSize, prometheus.GaugeValue, float64(m.WAL.Size))

	for _, cf := range pc.db.ColumnFamilies() {
		usage, err := pc.db.ColumnFamilyDiskUsage(cf)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(pc.columnFamilyDiskUsage, prometheus.GaugeValue, float64(usage), cf.Name())
	}
}
