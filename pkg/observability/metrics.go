package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	PolicyDecisionsTotal *prometheus.CounterVec

	// Invitation metrics
	InvitationOperationsTotal *prometheus.CounterVec
	InvitationsExpiredTotal   prometheus.Counter

	// Seat metrics
	SeatRejectionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal   *prometheus.CounterVec
	AuditWriteDuration prometheus.Histogram

	// Store metrics
	TxDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PolicyDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_policy_decisions_total",
				Help: "Total number of policy decisions",
			},
			[]string{"action", "allowed", "reason"},
		),

		InvitationOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_invitation_operations_total",
				Help: "Total number of invitation operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		InvitationsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backoffice_invitations_expired_total",
				Help: "Total number of invitations materialized as expired by the sweeper",
			},
		),

		SeatRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_seat_rejections_total",
				Help: "Total number of operations rejected because the tenant has no free seat",
			},
			[]string{"operation"},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_audit_writes_total",
				Help: "Total number of audit entries written",
			},
			[]string{"action", "status"},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backoffice_audit_write_duration_seconds",
				Help:    "Audit append duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		TxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_store_tx_duration_seconds",
				Help:    "Store transaction duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PolicyDecisionsTotal,
		m.InvitationOperationsTotal,
		m.InvitationsExpiredTotal,
		m.SeatRejectionsTotal,
		m.AuditWritesTotal,
		m.AuditWriteDuration,
		m.TxDuration,
	)

	return m
}

// RecordDecision counts a policy decision. Safe on a nil receiver.
func (m *Metrics) RecordDecision(action string, allowed bool, reason string) {
	if m == nil {
		return
	}
	m.PolicyDecisionsTotal.WithLabelValues(action, strconv.FormatBool(allowed), reason).Inc()
}

// RecordInvitation counts an invitation operation. Safe on a nil receiver.
func (m *Metrics) RecordInvitation(operation, outcome string) {
	if m == nil {
		return
	}
	m.InvitationOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordInvitationsExpired counts invitations materialized as expired. Safe on a nil receiver.
func (m *Metrics) RecordInvitationsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InvitationsExpiredTotal.Add(float64(n))
}

// RecordSeatRejection counts a seat-limit rejection. Safe on a nil receiver.
func (m *Metrics) RecordSeatRejection(operation string) {
	if m == nil {
		return
	}
	m.SeatRejectionsTotal.WithLabelValues(operation).Inc()
}

// RecordAuditWrite counts an audit append. Safe on a nil receiver.
func (m *Metrics) RecordAuditWrite(action string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.AuditWritesTotal.WithLabelValues(action, status).Inc()
	m.AuditWriteDuration.Observe(d.Seconds())
}

// RecordTx observes a store transaction. Safe on a nil receiver.
func (m *Metrics) RecordTx(backend string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "commit"
	if err != nil {
		status = "rollback"
	}
	m.TxDuration.WithLabelValues(backend, status).Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality route label.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
