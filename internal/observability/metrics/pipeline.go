package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// PipelineMetrics observes tasks and stages of the processing pipeline.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	taskTotal     *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskInFlight  prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	fileOutcomes  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	riskScores    prometheus.Histogram
	requestLag    prometheus.Histogram
	requestsRecvd prometheus.Counter
}

func NewPipelineMetrics(service string, registry *prometheus.Registry) *PipelineMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	constLabels := prometheus.Labels{"service": service}

	m := &PipelineMetrics{
		registry: registry,
		service:  service,
		taskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "tasks_total",
			Help:        "Total finished tasks by terminal status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "task_duration_seconds",
			Help:        "Task duration in seconds by terminal status.",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			ConstLabels: constLabels,
		}, []string{"status"}),
		taskInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "tasks_in_flight",
			Help:        "Number of running tasks.",
			ConstLabels: constLabels,
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Stage duration in seconds by stage and outcome.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"stage", "status"}),
		fileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "extraction_files_total",
			Help:        "Text extraction outcomes per source file.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "classification_cache_lookups_total",
			Help:        "Structural classification cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "risk_score",
			Help:        "Distribution of fraud probabilities.",
			Buckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
			ConstLabels: constLabels,
		}),
		requestLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "request_lag_seconds",
			Help:        "Delay between file upload and processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}),
		requestsRecvd: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "process_requests_total",
			Help:        "Process requests received from the queue.",
			ConstLabels: constLabels,
		}),
	}
	registry.MustRegister(
		m.taskTotal, m.taskDuration, m.taskInFlight, m.stageDuration,
		m.fileOutcomes, m.cacheLookups, m.riskScores, m.requestLag, m.requestsRecvd,
	)
	return m
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) TaskStarted() {
	m.taskInFlight.Inc()
}

func (m *PipelineMetrics) TaskFinished(phase domain.TaskPhase, duration time.Duration) {
	m.taskInFlight.Dec()
	m.taskTotal.WithLabelValues(string(phase)).Inc()
	m.taskDuration.WithLabelValues(string(phase)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) StageFinished(stage string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) FileOutcome(result domain.OutcomeResult) {
	m.fileOutcomes.WithLabelValues(string(result)).Inc()
}

func (m *PipelineMetrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) RiskScore(p float64) {
	m.riskScores.Observe(p)
}

// ObserveRequest records a queued process request and how long the file waited.
func (m *PipelineMetrics) ObserveRequest(uploadedAt time.Time) {
	m.requestsRecvd.Inc()
	if uploadedAt.IsZero() {
		return
	}
	if lag := time.Since(uploadedAt); lag >= 0 {
		m.requestLag.Observe(lag.Seconds())
	}
}
