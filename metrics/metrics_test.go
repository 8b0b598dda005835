package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CheckoutSession("created")
	m.CheckoutSession("created")
	m.SecurityEvent("rate_limit_exceeded", "medium")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkoutSessions.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.securityEvents.WithLabelValues("rate_limit_exceeded", "medium")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CheckoutSession("created")
		m.WebhookEvent("checkout.session.completed", "processed")
		m.RateLimitRejected("payment")
	})
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RateLimitRejected("payment")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `portal_ratelimit_rejections_total{action="payment"} 1`)
}
