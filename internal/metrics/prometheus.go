package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Webhook/job intake metrics
	JobsSubmitted prometheus.Counter
	JobsRejected  prometheus.Counter
	QueueSize     prometheus.Gauge

	// Pipeline metrics
	JobsCompleted prometheus.Counter
	JobsFailed    *prometheus.CounterVec // labelled by failing stage
	StageDuration *prometheus.HistogramVec
	FetchRetries  prometheus.Counter

	// Inference metrics
	TranscriptionDuration prometheus.Histogram
	TranscriptLength      prometheus.Histogram

	// Delivery metrics
	RepliesDelivered prometheus.Counter
	RepliesDropped   prometheus.Counter
	DeliveryRetries  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_jobs_submitted_total",
			Help: "Total number of transcription jobs accepted into the queue",
		}),
		JobsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_jobs_rejected_total",
			Help: "Total number of submissions rejected because the queue was full",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gastos_job_queue_size",
			Help: "Current number of jobs waiting in the queue",
		}),

		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_jobs_completed_total",
			Help: "Total number of jobs that reached the done state",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gastos_jobs_failed_total",
			Help: "Total number of jobs that reached the failed state",
		}, []string{"stage", "kind"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gastos_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~3.4 minutes
		}, []string{"stage"}),
		FetchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_fetch_retries_total",
			Help: "Total number of audio fetch retry attempts",
		}),

		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gastos_transcription_duration_seconds",
			Help:    "Duration of speech-to-text inference calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~100s
		}),
		TranscriptLength: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gastos_transcript_length_chars",
			Help:    "Length of produced transcripts in characters",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10), // 8 to ~4k chars
		}),

		RepliesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_replies_delivered_total",
			Help: "Total number of replies posted back to the originating chat",
		}),
		RepliesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_replies_dropped_total",
			Help: "Total number of replies abandoned after delivery retries were exhausted",
		}),
		DeliveryRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gastos_delivery_retries_total",
			Help: "Total number of reply delivery retry attempts",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gastos_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gastos_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gastos_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobSubmitted increments the accepted jobs counter
func (m *Metrics) RecordJobSubmitted() {
	m.JobsSubmitted.Inc()
}

// RecordJobRejected increments the capacity rejections counter
func (m *Metrics) RecordJobRejected() {
	m.JobsRejected.Inc()
}

// SetQueueSize sets the current queue depth
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordJobCompleted increments the completed jobs counter
func (m *Metrics) RecordJobCompleted() {
	m.JobsCompleted.Inc()
}

// RecordJobFailed records a terminal failure with its stage and kind
func (m *Metrics) RecordJobFailed(stage, kind string) {
	m.JobsFailed.WithLabelValues(stage, kind).Inc()
}

// RecordStageDuration records how long one pipeline stage took
func (m *Metrics) RecordStageDuration(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordFetchRetry increments the fetch retry counter
func (m *Metrics) RecordFetchRetry() {
	m.FetchRetries.Inc()
}

// RecordTranscription records an inference call and its output size
func (m *Metrics) RecordTranscription(seconds float64, transcriptChars int) {
	m.TranscriptionDuration.Observe(seconds)
	m.TranscriptLength.Observe(float64(transcriptChars))
}

// RecordReplyDelivered increments the delivered replies counter
func (m *Metrics) RecordReplyDelivered() {
	m.RepliesDelivered.Inc()
}

// RecordReplyDropped increments the abandoned replies counter
func (m *Metrics) RecordReplyDropped() {
	m.RepliesDropped.Inc()
}

// RecordDeliveryRetry increments the delivery retry counter
func (m *Metrics) RecordDeliveryRetry() {
	m.DeliveryRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
