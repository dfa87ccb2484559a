package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scan metrics
	ScansRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_scans_running",
			Help: "Number of scan workers currently live",
		},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	ScansStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_scans_started_total",
			Help: "Total number of scan workers launched by start mode",
		},
		[]string{"mode"},
	)

	ScansFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_scans_finished_total",
			Help: "Total number of scan workers finished by outcome",
		},
		[]string{"outcome"},
	)

	// Queue metrics
	ScanQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_scan_queue_length",
			Help: "Number of scans waiting for an admission slot",
		},
	)

	ScanQueueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_scan_queue_wait_seconds",
			Help:    "Time scans spent queued before admission in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
	)

	// Report metrics
	ResultsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_results_ingested_total",
			Help: "Total number of scan results written to reports",
		},
	)

	ReportsImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_reports_imported_total",
			Help: "Total number of reports processed to completion",
		},
	)

	ReportImportFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_report_import_failures_total",
			Help: "Total number of report imports that failed",
		},
	)

	// Scheduler metrics
	ScheduledActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_scheduled_actions_total",
			Help: "Total number of schedule-driven actions by kind",
		},
		[]string{"action"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_tick_duration_seconds",
			Help:    "Main loop tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Feed metrics
	FeedSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_feed_syncs_total",
			Help: "Total number of feed sync attempts by feed and result",
		},
		[]string{"feed", "result"},
	)

	FeedSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_feed_sync_duration_seconds",
			Help:    "Feed sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"feed"},
	)

	VTCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_vt_cache_size",
			Help: "Number of VTs in the metadata cache",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ScansRunning)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ScansStartedTotal)
	prometheus.MustRegister(ScansFinishedTotal)
	prometheus.MustRegister(ScanQueueLength)
	prometheus.MustRegister(ScanQueueWait)
	prometheus.MustRegister(ResultsIngested)
	prometheus.MustRegister(ReportsImported)
	prometheus.MustRegister(ReportImportFailures)
	prometheus.MustRegister(ScheduledActions)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(FeedSyncsTotal)
	prometheus.MustRegister(FeedSyncDuration)
	prometheus.MustRegister(VTCacheSize)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
