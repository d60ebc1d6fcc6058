package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Version lifecycle metrics
	VersionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockvault_versions_total",
			Help: "Total number of versions by status (incomplete, valid, invalid)",
		},
		[]string{"status"},
	)

	BackupsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockvault_backups_started_total",
			Help: "Total number of backups started by volume",
		},
		[]string{"volume"},
	)

	BackupsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockvault_backups_completed_total",
			Help: "Total number of backups completed by outcome (valid, failed)",
		},
		[]string{"outcome"},
	)

	BackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockvault_backup_duration_seconds",
			Help:    "Backup duration in seconds by volume",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400},
		},
		[]string{"volume"},
	)

	// Block-level counters, updated as versions finalize
	BytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_bytes_read_total",
			Help: "Total plaintext bytes read from IO sources",
		},
	)

	BytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_bytes_written_total",
			Help: "Total ciphertext bytes written to storage backends",
		},
	)

	BytesDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_bytes_deduplicated_total",
			Help: "Total plaintext bytes skipped because their block uid already existed",
		},
	)

	BytesSparse = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_bytes_sparse_total",
			Help: "Total plaintext bytes reported sparse by an IOSource and never stored",
		},
	)

	// Restore metrics
	RestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockvault_restores_total",
			Help: "Total number of restores by outcome (complete, failed)",
		},
		[]string{"outcome"},
	)

	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockvault_restore_duration_seconds",
			Help:    "Restore duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400},
		},
	)

	// Scrub metrics
	ScrubsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockvault_scrubs_total",
			Help: "Total number of scrubs by depth (metadata, deep) and outcome (ok, failed)",
		},
		[]string{"depth", "outcome"},
	)

	ScrubMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_scrub_mismatches_total",
			Help: "Total number of block mismatches found while scrubbing",
		},
	)

	// GC metrics
	GCSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_gc_sweeps_total",
			Help: "Total number of cleanup sweeps run",
		},
	)

	GCBlocksDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_gc_blocks_deleted_total",
			Help: "Total number of blocks physically removed from storage by GC",
		},
	)

	GCBlocksRetainedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockvault_gc_blocks_retained_total",
			Help: "Total number of deleted_blocks queue rows dropped because the uid gained a new reference",
		},
	)

	// Storage backend metrics
	StorageOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockvault_storage_ops_total",
			Help: "Total number of storage backend operations by storage, op, and outcome",
		},
		[]string{"storage", "op", "outcome"},
	)

	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockvault_storage_op_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"storage", "op"},
	)
)

func init() {
	prometheus.MustRegister(VersionsTotal)
	prometheus.MustRegister(BackupsStartedTotal)
	prometheus.MustRegister(BackupsCompletedTotal)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(BytesRead)
	prometheus.MustRegister(BytesWritten)
	prometheus.MustRegister(BytesDeduplicated)
	prometheus.MustRegister(BytesSparse)
	prometheus.MustRegister(RestoresTotal)
	prometheus.MustRegister(RestoreDuration)
	prometheus.MustRegister(ScrubsTotal)
	prometheus.MustRegister(ScrubMismatchesTotal)
	prometheus.MustRegister(GCSweepsTotal)
	prometheus.MustRegister(GCBlocksDeletedTotal)
	prometheus.MustRegister(GCBlocksRetainedTotal)
	prometheus.MustRegister(StorageOpsTotal)
	prometheus.MustRegister(StorageOpDuration)
}

// Handler returns the Prometheus HTTP handler for a pull-based /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
