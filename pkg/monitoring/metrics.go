package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code", "service"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	// Contract lifecycle metrics
	contractTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_transitions_total",
			Help: "Total number of contract state transitions",
		},
		[]string{"operation", "status", "service"},
	)

	// Consent metrics
	consentWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consent_writes_total",
			Help: "Total number of consent writes",
		},
		[]string{"kind", "status", "service"},
	)

	accessTokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
		[]string{"access", "service"},
	)

	// Audit metrics
	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events appended",
		},
		[]string{"event_type", "service"},
	)

	auditQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_queries_total",
			Help: "Total number of audit log queries",
		},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		contractTransitionsTotal,
		consentWritesTotal,
		accessTokensIssuedTotal,
		auditEventsTotal,
		auditQueriesTotal,
	)
}

// MetricsCollector provides methods to record metrics
type MetricsCollector struct {
	serviceName string
}

// NewMetricsCollector creates a new metrics collector for a service
func NewMetricsCollector(serviceName string) *MetricsCollector {
	return &MetricsCollector{
		serviceName: serviceName,
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordContractTransition records a contract lifecycle operation
func (m *MetricsCollector) RecordContractTransition(operation, status string) {
	contractTransitionsTotal.WithLabelValues(operation, status, m.serviceName).Inc()
}

// RecordConsentWrite records a consent write
func (m *MetricsCollector) RecordConsentWrite(kind, status string) {
	consentWritesTotal.WithLabelValues(kind, status, m.serviceName).Inc()
}

// RecordTokenIssued records an access token issuance
func (m *MetricsCollector) RecordTokenIssued(access string) {
	accessTokensIssuedTotal.WithLabelValues(access, m.serviceName).Inc()
}

// RecordAuditEvent records an appended audit event
func (m *MetricsCollector) RecordAuditEvent(eventType string) {
	auditEventsTotal.WithLabelValues(eventType, m.serviceName).Inc()
}

// RecordAuditQuery records an audit log query
func (m *MetricsCollector) RecordAuditQuery() {
	auditQueriesTotal.WithLabelValues(m.serviceName).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware provides HTTP metrics middleware
func (m *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		m.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode), duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status codes
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
