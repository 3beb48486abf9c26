package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	assert.Panics(t, func() { NewMetrics(registry) }, "duplicate registration must panic")
}

func TestMetrics_Recorders(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordDecision("update_role", false, "insufficient_rank")
	metrics.RecordDecision("update_role", false, "insufficient_rank")
	assert.Equal(t, float64(2), testutil.ToFloat64(
		metrics.PolicyDecisionsTotal.WithLabelValues("update_role", "false", "insufficient_rank")))

	metrics.RecordInvitation("resend", "cooldown_active")
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.InvitationOperationsTotal.WithLabelValues("resend", "cooldown_active")))

	metrics.RecordSeatRejection("accept")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SeatRejectionsTotal.WithLabelValues("accept")))

	metrics.RecordAuditWrite("user.role_changed", nil, time.Millisecond)
	metrics.RecordAuditWrite("user.role_changed", errors.New("boom"), time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWritesTotal.WithLabelValues("user.role_changed", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWritesTotal.WithLabelValues("user.role_changed", "error")))

	metrics.RecordTx("memory", nil, time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.TxDuration))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordDecision("view", true, "same_tenant_read")
		metrics.RecordInvitation("create", "ok")
		metrics.RecordSeatRejection("create_user")
		metrics.RecordAuditWrite("tenant.created", nil, 0)
		metrics.RecordTx("postgres", nil, 0)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(metrics, func(*http.Request) string { return "/invitations/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/invitations/12/resend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/invitations/{id}", "409")))

	srv := httptest.NewServer(MetricsHandler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "backoffice_http_requests_total"))
}
