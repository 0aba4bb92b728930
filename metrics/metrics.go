// Package metrics provides Prometheus metrics for the job pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxnotes"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Job metrics
	JobsSubmitted prometheus.Counter
	JobsRejected  *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	NotificationsFailed prometheus.Counter

	// Queue metrics
	QueueDepth  prometheus.Gauge
	WorkersBusy prometheus.Gauge

	// Event publish metrics
	EventsPublished     *prometheus.CounterVec
	EventsPublishErrors *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted for processing",
		}),
		JobsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Total number of uploads rejected before scheduling",
		}, []string{"reason"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		}, []string{"outcome"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Total number of pipeline stage failures",
		}, []string{"stage"}),

		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of notification emails that could not be sent",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of jobs waiting for a worker",
		}),
		WorkersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Number of workers currently running a pipeline",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of job outcome events published",
		}, []string{"event_type"}),
		EventsPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_errors_total",
			Help:      "Total number of job outcome events that failed to publish",
		}, []string{"event_type"}),
	}
}

// RecordSubmitted records an accepted upload.
func (m *Metrics) RecordSubmitted() {
	m.JobsSubmitted.Inc()
}

// RecordRejected records an upload refused before scheduling.
func (m *Metrics) RecordRejected(reason string) {
	m.JobsRejected.WithLabelValues(reason).Inc()
}

// RecordFinished records a job reaching its terminal state.
func (m *Metrics) RecordFinished(outcome string) {
	m.JobsFinished.WithLabelValues(outcome).Inc()
}

// RecordStage records one stage invocation.
func (m *Metrics) RecordStage(stage string, err error, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordNotificationFailed records a mail that could not be delivered.
func (m *Metrics) RecordNotificationFailed() {
	m.NotificationsFailed.Inc()
}

// SetQueueDepth sets the number of pending jobs.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// WorkerBusy marks a worker as running a job.
func (m *Metrics) WorkerBusy() {
	m.WorkersBusy.Inc()
}

// WorkerIdle marks a worker as idle again.
func (m *Metrics) WorkerIdle() {
	m.WorkersBusy.Dec()
}

// RecordEventPublish records an outcome event publish attempt.
func (m *Metrics) RecordEventPublish(eventType string, err error) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
	if err != nil {
		m.EventsPublishErrors.WithLabelValues(eventType).Inc()
	}
}
