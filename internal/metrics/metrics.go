// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serverInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestd_server_info",
		Help: "Static server information.",
	}, []string{"version"})

	// Scheduler
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_ticks_total",
		Help: "Scheduler ticks executed.",
	})
	TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_ticks_skipped_total",
		Help: "Tick invocations that were no-ops because a tick was already running.",
	})
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_scans_total",
		Help: "Full source rescans performed.",
	})
	JobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_jobs_dispatched_total",
		Help: "Jobs handed to execution units.",
	})
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_jobs_completed_total",
		Help: "Jobs that finished successfully.",
	})
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestd_jobs_failed_total",
		Help: "Job failures by reason.",
	}, []string{"reason"})
	JobsQuarantined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_jobs_quarantined_total",
		Help: "Jobs marked processed after exhausting their failure budget.",
	})
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestd_queue_depth",
		Help: "Pending jobs per source.",
	}, []string{"source"})
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestd_jobs_in_flight",
		Help: "Jobs currently dispatched.",
	})

	// Resource pool
	PoolEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestd_pool_entries",
		Help: "Connection entries currently in the pool.",
	})
	PoolBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestd_pool_busy",
		Help: "Connection entries currently leased.",
	})
	Handshakes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_pool_handshakes_total",
		Help: "Successful FTP handshakes.",
	})
	TransientFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_pool_transient_faults_total",
		Help: "Transient operation faults that invalidated a connection.",
	})
	IdleReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_pool_idle_reclaims_total",
		Help: "Idle connections proactively closed.",
	})
	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_pool_breaker_trips_total",
		Help: "Refusals that opened or extended the global breaker.",
	})
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestd_pool_breaker_open",
		Help: "Whether the connect breaker is currently open.",
	})

	// Events
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_events_published_total",
		Help: "Job events published to the broker.",
	})
	ChangeTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_change_triggers_total",
		Help: "Scans triggered by remote change notifications.",
	})
)

// Init records static build information.
func Init(version string) {
	serverInfo.WithLabelValues(version).Set(1)
}
