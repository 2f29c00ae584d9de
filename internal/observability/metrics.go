package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes application-level instruments. All methods tolerate a nil
// receiver so callers never need to guard.
type Metrics struct {
	ordersSubmitted        *prometheus.CounterVec
	ordersDenied           *prometheus.CounterVec
	callbacksAccepted      *prometheus.CounterVec
	callbacksRejected      *prometheus.CounterVec
	notificationsDelivered prometheus.Counter
	notificationsFailed    prometheus.Counter
	httpRequests           *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paybridge_orders_submitted_total",
			Help: "Orders accepted for processing.",
		}, []string{"provider", "direction"}),
		ordersDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paybridge_orders_denied_total",
			Help: "Orders denied before reaching a provider.",
		}, []string{"reason"}),
		callbacksAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paybridge_callbacks_accepted_total",
			Help: "Provider callbacks that verified and applied.",
		}, []string{"provider"}),
		callbacksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paybridge_callbacks_rejected_total",
			Help: "Provider callbacks dropped before touching order state.",
		}, []string{"provider", "reason"}),
		notificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paybridge_notifications_delivered_total",
			Help: "Merchant webhooks acknowledged with a 2xx.",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paybridge_notifications_failed_total",
			Help: "Merchant webhooks that exhausted every attempt.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paybridge_http_requests_total",
			Help: "Inbound HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		m.ordersSubmitted,
		m.ordersDenied,
		m.callbacksAccepted,
		m.callbacksRejected,
		m.notificationsDelivered,
		m.notificationsFailed,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) RecordOrderSubmitted(provider, direction string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(strings.TrimSpace(provider), strings.TrimSpace(direction)).Inc()
}

func (m *Metrics) RecordOrderDenied(reason string) {
	if m == nil {
		return
	}
	m.ordersDenied.WithLabelValues(strings.TrimSpace(reason)).Inc()
}

func (m *Metrics) RecordCallbackAccepted(provider string) {
	if m == nil {
		return
	}
	m.callbacksAccepted.WithLabelValues(strings.TrimSpace(provider)).Inc()
}

func (m *Metrics) RecordCallbackRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.callbacksRejected.WithLabelValues(strings.TrimSpace(provider), strings.TrimSpace(reason)).Inc()
}

func (m *Metrics) RecordNotificationDelivered() {
	if m == nil {
		return
	}
	m.notificationsDelivered.Inc()
}

func (m *Metrics) RecordNotificationFailed() {
	if m == nil {
		return
	}
	m.notificationsFailed.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
