package billing

import "time"

// Metrics defines the interface for tracking sync operations.
// All methods are optional - components fall back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a push message received from the commerce platform.
	// eventType: the resource type ("product", "customer", "order")
	// status: "success", "skipped", "rejected", "duplicate" or "error"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a push message.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "invalid_payload", "wrong_project", "fetch_failed", "processing_error"
	RecordWebhookError(errorType string)

	// RecordReconcile records one reconciliation decision.
	// entity: "product", "plan", "price", "account", "order"
	// action: "create", "update", "delete", "reuse", "skip"
	// status: "success" or "error"
	RecordReconcile(entity, action, status string)

	// RecordAPICall records an API call to the billing platform.
	// operation: the client operation (e.g. "CreateProduct")
	// status: HTTP status code as string, or "error" when no response arrived
	RecordAPICall(operation, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(operation string, duration time.Duration)

	// RecordTokenRefresh records an OAuth2 token exchange ("success" or "error").
	RecordTokenRefresh(status string)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordReconcile(_, _, _ string)                            {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordTokenRefresh(_ string)                               {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)                  {}
