package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. All record
// helpers are nil-safe so components can run without a collector.
type Metrics struct {
	// AI Completion Metrics
	aiRequestsTotal   *prometheus.CounterVec
	aiRequestDuration *prometheus.HistogramVec
	aiStreamFragments *prometheus.HistogramVec
	intentsExtracted  *prometheus.CounterVec

	// Transfer Pipeline Metrics
	transferStepDuration *prometheus.HistogramVec
	transfersTotal       *prometheus.CounterVec

	// Chat Metrics
	chatRoundTrips *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// AI Completion Metrics
		aiRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_requests_total",
				Help: "Total number of upstream AI completion calls by mode and status",
			},
			[]string{"mode", "status"},
		),
		aiRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ai_request_duration_seconds",
				Help:    "Duration of upstream AI completion calls in seconds",
				Buckets: []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"mode"},
		),
		aiStreamFragments: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ai_stream_fragments_per_response",
				Help:    "Number of text fragments received per streamed AI response",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
			[]string{"model"},
		),
		intentsExtracted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intents_extracted_total",
				Help: "Total number of intents extracted by type",
			},
			[]string{"type"},
		),

		// Transfer Pipeline Metrics
		transferStepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_step_duration_seconds",
				Help:    "Duration of each transfer pipeline step in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"step"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Total number of transfer pipeline runs by outcome",
			},
			[]string{"token", "outcome"},
		),

		// Chat Metrics
		chatRoundTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_round_trips_total",
				Help: "Total number of chat round trips by outcome",
			},
			[]string{"outcome"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"endpoint"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"endpoint", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// AI metric helpers

// RecordAIRequest records an upstream AI completion call with duration.
func (m *Metrics) RecordAIRequest(mode, status string, duration float64) {
	if m == nil {
		return
	}
	m.aiRequestsTotal.WithLabelValues(mode, status).Inc()
	m.aiRequestDuration.WithLabelValues(mode).Observe(duration)
}

// RecordStreamFragments records how many fragments a streamed response produced.
func (m *Metrics) RecordStreamFragments(model string, count int) {
	if m == nil {
		return
	}
	m.aiStreamFragments.WithLabelValues(model).Observe(float64(count))
}

// RecordIntentExtracted records an extracted intent by type.
func (m *Metrics) RecordIntentExtracted(intentType string) {
	if m == nil {
		return
	}
	m.intentsExtracted.WithLabelValues(intentType).Inc()
}

// Transfer metric helpers

// RecordTransferStep records the duration of one pipeline step.
func (m *Metrics) RecordTransferStep(step string, duration float64) {
	if m == nil {
		return
	}
	m.transferStepDuration.WithLabelValues(step).Observe(duration)
}

// RecordTransferOutcome records a completed pipeline run.
func (m *Metrics) RecordTransferOutcome(token, outcome string) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(token, outcome).Inc()
}

// Chat metric helpers

// RecordChatRoundTrip records a chat round trip by outcome.
func (m *Metrics) RecordChatRoundTrip(outcome string) {
	if m == nil {
		return
	}
	m.chatRoundTrips.WithLabelValues(outcome).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(endpoint string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(endpoint).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(endpoint, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(endpoint, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
