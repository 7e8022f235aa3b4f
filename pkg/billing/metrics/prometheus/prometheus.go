package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	reconcileTotal            *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
	tokenRefreshesTotal       *prometheus.CounterVec
	circuitBreakerChanges     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the sync service.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of push messages received from the commerce platform.",
		}, []string{"event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of push message processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of push message processing errors.",
		}, []string{"error_type"}),

		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reconcile_operations_total",
			Help:      "Total number of reconciliation decisions per remote entity.",
		}, []string{"entity", "action", "status"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to the billing platform.",
		}, []string{"operation", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to the billing platform in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		tokenRefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "token_refreshes_total",
			Help:      "Total number of OAuth2 token exchanges.",
		}, []string{"status"}),

		circuitBreakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state transitions.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(errorType string) {
	m.webhookErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordReconcile(entity, action, status string) {
	m.reconcileTotal.WithLabelValues(entity, action, status).Inc()
}

func (m *Metrics) RecordAPICall(operation, status string) {
	m.apiCallsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(operation string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordTokenRefresh(status string) {
	m.tokenRefreshesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
