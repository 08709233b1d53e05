package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served at /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SyncRuns counts finished sync operations by connector, sync type and outcome.
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "syncgate_sync_runs_total", Help: "Sync operations by connector, type and outcome."},
		[]string{"connector", "sync_type", "outcome"},
	)
	// SyncRecords counts records by what happened to them.
	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "syncgate_sync_records_total", Help: "Synced records by type and result."},
		[]string{"sync_type", "result"},
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "syncgate_sync_duration_ms", Help: "Sync duration in ms.", Buckets: []float64{50, 100, 500, 1000, 5000, 15000, 60000, 300000}},
		[]string{"connector", "sync_type"},
	)

	// QueueJobs counts job outcomes per queue: completed, cached, retried, failed.
	QueueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "syncgate_queue_jobs_total", Help: "Queue job outcomes."},
		[]string{"queue", "outcome"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "syncgate_queue_jobs", Help: "Jobs per queue and state."},
		[]string{"queue", "state"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "syncgate_job_duration_seconds", Help: "Job handler duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"queue"},
	)

	// WebhookEvents counts inbound webhook events by connector and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "syncgate_webhook_events_total", Help: "Inbound webhook events by connector and outcome."},
		[]string{"connector", "outcome"},
	)
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "syncgate_alerts_total", Help: "Integration health alerts by kind."},
		[]string{"kind"},
	)
)

// RegisterDefault registers every collector on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(SyncRuns, SyncRecords, SyncDuration)
		Registry.MustRegister(QueueJobs, QueueDepth, JobDuration)
		Registry.MustRegister(WebhookEvents, Alerts)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
