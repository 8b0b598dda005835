// Package metrics exposes the service's Prometheus instrumentation. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

type Metrics struct {
	checkoutSessions    *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	verifications       *prometheus.CounterVec
	regressionsBlocked  *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec
	securityEvents      *prometheus.CounterVec
	uploads             *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "checkout_sessions_total",
			Help:      "Checkout session creation attempts by result.",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Stripe webhook deliveries by event type and result.",
		}, []string{"event_type", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Client-triggered payment verifications by observed status.",
		}, []string{"payment_status"}),
		regressionsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "status_regressions_blocked_total",
			Help:      "Payment status writes skipped because the submission was already paid.",
		}, []string{"source"}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by the action rate limiter.",
		}, []string{"action"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "events_total",
			Help:      "Security events by type and severity.",
		}, []string{"event", "severity"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "documents_total",
			Help:      "Document uploads by result.",
		}, []string{"result"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.checkoutSessions,
		m.webhookEvents,
		m.verifications,
		m.regressionsBlocked,
		m.rateLimitRejections,
		m.securityEvents,
		m.uploads,
	)
	return m
}

func (m *Metrics) CheckoutSession(result string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) Verification(paymentStatus string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(paymentStatus).Inc()
}

func (m *Metrics) RegressionBlocked(source string) {
	if m == nil {
		return
	}
	m.regressionsBlocked.WithLabelValues(source).Inc()
}

func (m *Metrics) RateLimitRejected(action string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(action).Inc()
}

func (m *Metrics) SecurityEvent(event, severity string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(event, severity).Inc()
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
