package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

// Metrics contains all Prometheus metrics for the memo service
type Metrics struct {
	registry *prometheus.Registry

	// Recording metrics
	RecordingSessions *prometheus.CounterVec
	ActiveRecordings  prometheus.Gauge
	RecordingDuration prometheus.Histogram

	// Pipeline metrics
	StageTransitions *prometheus.CounterVec
	JobsFinished     *prometheus.CounterVec
	JobDuration      prometheus.Histogram

	// Provider metrics
	ProviderAttempts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Queue metrics
	QueueSize   prometheus.Gauge
	BusyWorkers prometheus.Gauge
}

// NewMetrics creates all metrics and registers them on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecordingSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_recording_sessions_total",
			Help: "Recording sessions by final state",
		}, []string{"state"}),
		ActiveRecordings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memo_active_recordings",
			Help: "Current number of recording sessions in progress",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_recording_duration_seconds",
			Help:    "Length of completed recordings",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_pipeline_stage_total",
			Help: "Pipeline stage transitions",
		}, []string{"stage"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_pipeline_jobs_total",
			Help: "Finished pipeline jobs by outcome",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_pipeline_job_duration_seconds",
			Help:    "Time from submission to terminal stage",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),

		ProviderAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_transcription_attempts_total",
			Help: "Transcription provider attempts by outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memo_transcription_duration_seconds",
			Help:    "Transcription provider latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),

		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memo_job_queue_size",
			Help: "Jobs waiting for a worker",
		}),
		BusyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memo_busy_workers",
			Help: "Workers currently running a job",
		}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// StageEntered implements memo.Observer.
func (m *Metrics) StageEntered(stage types.Stage) {
	m.StageTransitions.WithLabelValues(string(stage)).Inc()
}

// JobFinished implements memo.Observer.
func (m *Metrics) JobFinished(outcome string, elapsed time.Duration) {
	m.JobsFinished.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(elapsed.Seconds())
}

// ProviderAttempt implements transcription.Observer.
func (m *Metrics) ProviderAttempt(provider, outcome string, elapsed time.Duration) {
	m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// QueueDepth implements queue.Observer.
func (m *Metrics) QueueDepth(n int) {
	m.QueueSize.Set(float64(n))
}

// WorkerBusy implements queue.Observer.
func (m *Metrics) WorkerBusy(delta int) {
	m.BusyWorkers.Add(float64(delta))
}

// RecordingStarted counts a session entering recording.
func (m *Metrics) RecordingStarted() {
	m.ActiveRecordings.Inc()
}

// RecordingEnded counts a session leaving recording with its final state.
func (m *Metrics) RecordingEnded(state string, seconds float64) {
	m.ActiveRecordings.Dec()
	m.RecordingSessions.WithLabelValues(state).Inc()
	if seconds > 0 {
		m.RecordingDuration.Observe(seconds)
	}
}
