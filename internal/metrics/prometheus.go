package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Ingest metrics
	FragmentsReceived prometheus.Counter
	FragmentsDropped  prometheus.Counter
	FragmentBytes     prometheus.Counter
	BufferOverflows   prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsCancelled prometheus.Counter
	SessionsRecovered prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Stitch metrics
	StitchAttempts  *prometheus.CounterVec
	StitchFailures  prometheus.Counter
	StitchSkips     *prometheus.CounterVec
	StitchDuration  prometheus.Histogram
	StitchInputSize prometheus.Histogram

	// Transcription metrics
	ChunksTranscribed     prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionRetries  prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	ChunkConfidence       prometheus.Histogram

	// Fan-out metrics
	EventsPublished prometheus.Counter
	WSConnections   prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FragmentsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_fragments_received_total",
			Help: "Total number of audio fragments received",
		}),
		FragmentsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_fragments_dropped_total",
			Help: "Total number of fragments dropped below the size gate",
		}),
		FragmentBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_fragment_bytes_total",
			Help: "Total bytes of accepted audio fragments",
		}),
		BufferOverflows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_buffer_overflows_total",
			Help: "Total number of ingest calls rejected by the session byte cap",
		}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of live recording sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_completed_total",
			Help: "Total number of sessions finalized successfully",
		}),
		SessionsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_cancelled_total",
			Help: "Total number of sessions cancelled",
		}),
		SessionsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_recovered_total",
			Help: "Total number of sessions re-attached after restart",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4 hours
		}),

		StitchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_stitch_attempts_total",
			Help: "Total number of stitch operations by strategy",
		}, []string{"strategy"}),
		StitchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_stitch_failures_total",
			Help: "Total number of batches where every stitch strategy failed",
		}),
		StitchSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_stitch_skips_total",
			Help: "Total number of skipped batches by gate",
		}, []string{"reason"}),
		StitchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_stitch_duration_seconds",
			Help:    "Duration of stitch operations",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		StitchInputSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_stitch_input_bytes",
			Help:    "Combined input size of stitch batches in bytes",
			Buckets: prometheus.ExponentialBuckets(10240, 2, 12), // 10KB to ~20MB
		}),

		ChunksTranscribed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunks_transcribed_total",
			Help: "Total number of chunk rows persisted",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_failures_total",
			Help: "Total number of chunks abandoned after transcription retries",
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_retries_total",
			Help: "Total number of transcription retry attempts",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_transcription_duration_seconds",
			Help:    "Duration of transcription calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ChunkConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_chunk_confidence",
			Help:    "Average-energy confidence of persisted chunks",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_events_published_total",
			Help: "Total number of live events published to subscribers",
		}),
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_ws_connections",
			Help: "Current number of websocket client connections",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFragmentAccepted records an accepted ingest fragment
func (m *Metrics) RecordFragmentAccepted(sizeBytes int) {
	m.FragmentsReceived.Inc()
	m.FragmentBytes.Add(float64(sizeBytes))
}

// RecordFragmentDropped increments the small-fragment drop counter
func (m *Metrics) RecordFragmentDropped() {
	m.FragmentsReceived.Inc()
	m.FragmentsDropped.Inc()
}

// RecordBufferOverflow increments the cap rejection counter
func (m *Metrics) RecordBufferOverflow() {
	m.BufferOverflows.Inc()
}

// SetActiveSessions sets the live session gauge
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionCompleted records a finalized session and its duration
func (m *Metrics) RecordSessionCompleted(durationSeconds float64) {
	m.SessionsCompleted.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionCancelled increments the cancelled counter
func (m *Metrics) RecordSessionCancelled() {
	m.SessionsCancelled.Inc()
}

// RecordSessionRecovered increments the recovery counter
func (m *Metrics) RecordSessionRecovered() {
	m.SessionsRecovered.Inc()
}

// RecordStitch records one stitch operation
func (m *Metrics) RecordStitch(strategy string, durationSeconds float64, inputBytes int) {
	m.StitchAttempts.WithLabelValues(strategy).Inc()
	m.StitchDuration.Observe(durationSeconds)
	m.StitchInputSize.Observe(float64(inputBytes))
}

// RecordStitchFailure increments the stitch failure counter
func (m *Metrics) RecordStitchFailure() {
	m.StitchFailures.Inc()
}

// RecordStitchSkip records a gated (skipped) batch
func (m *Metrics) RecordStitchSkip(reason string) {
	m.StitchSkips.WithLabelValues(reason).Inc()
}

// RecordChunkTranscribed records a persisted chunk
func (m *Metrics) RecordChunkTranscribed(durationSeconds, confidence float64) {
	m.ChunksTranscribed.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.ChunkConfidence.Observe(confidence)
}

// RecordTranscriptionFailure increments the abandoned-chunk counter
func (m *Metrics) RecordTranscriptionFailure() {
	m.TranscriptionFailures.Inc()
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordEventPublished increments the fan-out counter
func (m *Metrics) RecordEventPublished() {
	m.EventsPublished.Inc()
}

// SetWSConnections sets the websocket connection gauge
func (m *Metrics) SetWSConnections(count int) {
	m.WSConnections.Set(float64(count))
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
