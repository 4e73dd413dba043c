// Package telemetry registers Prometheus collectors for the engine's
// internal operation, adapted from the teacher's pkg/metrics: the same
// package-level-collector-plus-init()-registration shape, rescoped from
// cluster/orchestration gauges to write/WAL/snapshot/dataflow/HNSW ones.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Persist layer
	WriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inputlayer_write_latency_seconds",
			Help:    "Latency of a write call by durability mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"durability"},
	)

	WALFsyncLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inputlayer_wal_fsync_latency_seconds",
			Help:    "Latency of a WAL fsync",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALBytesPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inputlayer_wal_bytes_pending",
			Help: "Bytes written to the WAL but not yet absorbed by a batch",
		},
		[]string{"kg", "relation"},
	)

	BatchesFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inputlayer_batches_flushed_total",
			Help: "Total number of batch files flushed",
		},
		[]string{"kg", "relation"},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inputlayer_compactions_total",
			Help: "Total number of compactions run",
		},
		[]string{"kg", "relation"},
	)

	// Snapshot manager
	SnapshotsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inputlayer_snapshots_published_total",
			Help: "Total number of snapshots published",
		},
		[]string{"kg"},
	)

	SnapshotAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inputlayer_snapshot_logical_time",
			Help: "Logical time of the most recently published snapshot",
		},
		[]string{"kg"},
	)

	// Dataflow engine
	DataflowIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inputlayer_dataflow_iterations",
			Help:    "Number of semi-naive iterations to reach a fixpoint",
			Buckets: prometheus.LinearBuckets(1, 5, 20),
		},
		[]string{"kg", "stratum"},
	)

	StratumEvalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inputlayer_stratum_eval_duration_seconds",
			Help:    "Time spent evaluating one stratum to a fixpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kg", "stratum"},
	)

	// Query executor
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inputlayer_query_duration_seconds",
			Help:    "Ad-hoc query execution time",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueriesTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inputlayer_queries_timed_out_total",
			Help: "Total number of queries that exceeded their deadline",
		},
	)

	// Rule lifecycle
	RuleRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inputlayer_rule_rebuilds_total",
			Help: "Total number of dataflow rebuilds triggered by a clause change",
		},
		[]string{"kg"},
	)

	RuleRebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inputlayer_rule_rebuild_duration_seconds",
			Help:    "Time to tear down, rebuild, and re-feed after a clause change",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kg"},
	)

	// HNSW vector index
	HNSWSearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inputlayer_hnsw_search_latency_seconds",
			Help:    "HNSW search latency by metric",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kg", "metric"},
	)

	HNSWRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inputlayer_hnsw_rebuilds_total",
			Help: "Total number of HNSW index rebuilds",
		},
		[]string{"kg", "index"},
	)

	HNSWTombstoneFraction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inputlayer_hnsw_tombstone_fraction",
			Help: "Fraction of indexed ids currently tombstoned",
		},
		[]string{"kg", "index"},
	)
)

func init() {
	prometheus.MustRegister(
		WriteLatency,
		WALFsyncLatency,
		WALBytesPending,
		BatchesFlushed,
		CompactionsTotal,
		SnapshotsPublished,
		SnapshotAge,
		DataflowIterations,
		StratumEvalDuration,
		QueryDuration,
		QueriesTimedOut,
		RuleRebuildsTotal,
		RuleRebuildDuration,
		HNSWSearchLatency,
		HNSWRebuildsTotal,
		HNSWTombstoneFraction,
	)
}
