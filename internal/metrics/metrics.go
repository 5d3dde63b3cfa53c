// Package metrics exposes Prometheus collectors for the task queue, the
// generation executor, the upscaler and the pipeline stages. A Metrics value
// implements the recorder interfaces of each of those packages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	tasksStarted  *prometheus.CounterVec
	tasksRetried  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDepth    prometheus.Gauge

	generationJobs     *prometheus.CounterVec
	generationAttempts prometheus.Histogram
	generationDuration *prometheus.HistogramVec
	batchSuccessRatio  prometheus.Histogram

	upscaleArtifacts *prometheus.CounterVec
	upscaleDuration  prometheus.Histogram

	stageDuration *prometheus.HistogramVec
}

// New registers all collectors, plus Go runtime and process collectors,
// on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		tasksStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookbook_tasks_started_total",
			Help: "Total number of task executions started, retries included",
		}, []string{"kind"}),
		tasksRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookbook_tasks_retried_total",
			Help: "Total number of tasks re-enqueued after a failure",
		}, []string{"kind"}),
		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookbook_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status",
		}, []string{"kind", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lookbook_task_duration_seconds",
			Help:    "Time from first start to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lookbook_queue_depth",
			Help: "Number of tasks waiting for a worker",
		}),

		generationJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookbook_generation_jobs_total",
			Help: "Total number of generation jobs by outcome",
		}, []string{"outcome"}),
		generationAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookbook_generation_job_attempts",
			Help:    "Attempts made per generation job",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lookbook_generation_job_duration_seconds",
			Help:    "Time spent on one generation job, retries included",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"outcome"}),
		batchSuccessRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookbook_generation_batch_success_ratio",
			Help:    "Fraction of jobs in a batch that produced an artifact",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		upscaleArtifacts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookbook_upscale_artifacts_total",
			Help: "Total number of artifacts processed by the upscaler by outcome",
		}, []string{"outcome"}),
		upscaleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookbook_upscale_duration_seconds",
			Help:    "Time spent upscaling one artifact",
			Buckets: prometheus.DefBuckets,
		}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lookbook_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"stage", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TaskStarted implements task.Observer
func (m *Metrics) TaskStarted(kind string) {
	m.tasksStarted.WithLabelValues(kind).Inc()
}

// TaskRetried implements task.Observer
func (m *Metrics) TaskRetried(kind string) {
	m.tasksRetried.WithLabelValues(kind).Inc()
}

// TaskFinished implements task.Observer
func (m *Metrics) TaskFinished(kind, status string, elapsed time.Duration) {
	m.tasksFinished.WithLabelValues(kind, status).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// QueueDepth implements task.Observer
func (m *Metrics) QueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// JobFinished implements generation.Recorder
func (m *Metrics) JobFinished(outcome string, attempts int, elapsed time.Duration) {
	m.generationJobs.WithLabelValues(outcome).Inc()
	m.generationAttempts.Observe(float64(attempts))
	m.generationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// BatchFinished implements generation.Recorder
func (m *Metrics) BatchFinished(requested, succeeded int) {
	if requested == 0 {
		return
	}
	m.batchSuccessRatio.Observe(float64(succeeded) / float64(requested))
}

// ArtifactUpscaled implements upscale.Recorder
func (m *Metrics) ArtifactUpscaled(outcome string, elapsed time.Duration) {
	m.upscaleArtifacts.WithLabelValues(outcome).Inc()
	m.upscaleDuration.Observe(elapsed.Seconds())
}

// StageFinished implements pipeline.StageRecorder
func (m *Metrics) StageFinished(stage, outcome string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}
