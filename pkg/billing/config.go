package billing

import (
	"net/http"
	"time"
)

// Config defines the settings shared by billing platform clients.
type Config struct {
	// BaseURL is the platform API root, e.g. "https://rest.apisandbox.zuora.com".
	BaseURL string

	// ClientID and ClientSecret are the OAuth2 client-credentials pair.
	ClientID     string
	ClientSecret string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Logger is an optional structured logger. Defaults to NoopLogger.
	Logger Logger

	// Metrics is an optional metrics collector.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// CircuitBreaker guards outbound calls. If nil, a DefaultCircuitBreaker
	// with threshold 5 and a 30s reset timeout is used.
	CircuitBreaker CircuitBreaker

	// Now overrides the clock, for tests.
	Now func() time.Time
}
