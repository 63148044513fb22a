// Package metrics holds the Prometheus registry exposed by the ops
// server, adapted from a KV store's read/write/compaction metrics to the
// Writer's own write path: tiles and bytes written, filter and storage
// latency, fragment counts, and worker pool saturation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the Writer records.
type Metrics struct {
	WritesTotal       prometheus.CounterVec
	WriteDuration     prometheus.HistogramVec
	WriteBytesTotal   prometheus.CounterVec
	CellsWrittenTotal prometheus.Counter
	DuplicatesTotal   prometheus.Counter

	TilesWrittenTotal   prometheus.Counter
	TileBytesTotal      prometheus.Counter
	FilterDuration      prometheus.HistogramVec
	StorageWriteDuration prometheus.Histogram

	FragmentsCommittedTotal prometheus.Counter
	FragmentsAbortedTotal   prometheus.Counter
	FragmentSizeBytes       prometheus.Histogram

	WorkerQueueDepth     prometheus.Gauge
	WorkerActiveWorkers  prometheus.Gauge
	WriterState          prometheus.Gauge
}

// NewMetrics creates and registers every Writer metric, const-labeled with
// nodeID the way the teacher's NewMetrics const-labels by node_id.
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		WritesTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "writer",
			Name:        "writes_total",
			Help:        "Total number of write() calls by mode and outcome",
			ConstLabels: labels,
		}, []string{"mode", "outcome"}),
		WriteDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "arraydb",
			Subsystem:   "writer",
			Name:        "write_duration_seconds",
			Help:        "Histogram of write() call durations by mode",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"mode"}),
		WriteBytesTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "writer",
			Name:        "write_bytes_total",
			Help:        "Total bytes bound across all buffers per write() call",
			ConstLabels: labels,
		}, []string{"mode"}),
		CellsWrittenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "writer",
			Name:        "cells_written_total",
			Help:        "Total number of cells written across all fragments",
			ConstLabels: labels,
		}),
		DuplicatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "writer",
			Name:        "duplicate_cells_total",
			Help:        "Total number of duplicate coordinates detected or deduplicated",
			ConstLabels: labels,
		}),

		TilesWrittenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "tile",
			Name:        "written_total",
			Help:        "Total number of tiles flushed to storage",
			ConstLabels: labels,
		}),
		TileBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "tile",
			Name:        "bytes_total",
			Help:        "Total bytes of filtered tile data flushed to storage",
			ConstLabels: labels,
		}),
		FilterDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "arraydb",
			Subsystem:   "tile",
			Name:        "filter_duration_seconds",
			Help:        "Histogram of per-tile filter pipeline durations by stage",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"stage"}),
		StorageWriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "arraydb",
			Subsystem:   "tile",
			Name:        "storage_write_duration_seconds",
			Help:        "Histogram of per-tile storage backend write durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		FragmentsCommittedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "fragment",
			Name:        "committed_total",
			Help:        "Total number of fragments committed",
			ConstLabels: labels,
		}),
		FragmentsAbortedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "arraydb",
			Subsystem:   "fragment",
			Name:        "aborted_total",
			Help:        "Total number of fragments aborted and cleaned up after a failure",
			ConstLabels: labels,
		}),
		FragmentSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "arraydb",
			Subsystem:   "fragment",
			Name:        "size_bytes",
			Help:        "Histogram of committed fragment sizes in bytes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(4096, 4, 10),
		}),

		WorkerQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "arraydb",
			Subsystem:   "worker",
			Name:        "queue_depth",
			Help:        "Current number of queued tile preparation/filter/write tasks",
			ConstLabels: labels,
		}),
		WorkerActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "arraydb",
			Subsystem:   "worker",
			Name:        "active_workers",
			Help:        "Current number of busy worker pool goroutines",
			ConstLabels: labels,
		}),
		WriterState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "arraydb",
			Subsystem:   "writer",
			Name:        "state",
			Help:        "Current Writer lifecycle state (0=uninit,1=ready,2=global_open,3=committed,4=failed)",
			ConstLabels: labels,
		}),
	}
}

// RecordWrite records one completed write() call.
func (m *Metrics) RecordWrite(mode, outcome string, duration float64, bytes int) {
	m.WritesTotal.WithLabelValues(mode, outcome).Inc()
	m.WriteDuration.WithLabelValues(mode).Observe(duration)
	m.WriteBytesTotal.WithLabelValues(mode).Add(float64(bytes))
}

// RecordTile records one tile flushed to storage.
func (m *Metrics) RecordTile(bytes int, storageDuration float64) {
	m.TilesWrittenTotal.Inc()
	m.TileBytesTotal.Add(float64(bytes))
	m.StorageWriteDuration.Observe(storageDuration)
}

// RecordFilterStage records one filter pipeline stage's duration.
func (m *Metrics) RecordFilterStage(stage string, duration float64) {
	m.FilterDuration.WithLabelValues(stage).Observe(duration)
}

// RecordFragmentCommitted records a successfully committed fragment.
func (m *Metrics) RecordFragmentCommitted(sizeBytes int64) {
	m.FragmentsCommittedTotal.Inc()
	m.FragmentSizeBytes.Observe(float64(sizeBytes))
}

// RecordFragmentAborted records a fragment that was nuked after a failure.
func (m *Metrics) RecordFragmentAborted() {
	m.FragmentsAbortedTotal.Inc()
}

// SetWorkerStats updates worker pool saturation gauges.
func (m *Metrics) SetWorkerStats(queueDepth, activeWorkers int) {
	m.WorkerQueueDepth.Set(float64(queueDepth))
	m.WorkerActiveWorkers.Set(float64(activeWorkers))
}

// SetState records the Writer's current lifecycle state.
func (m *Metrics) SetState(state int) {
	m.WriterState.Set(float64(state))
}
