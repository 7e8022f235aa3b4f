// Package zuora implements billing.API against the Zuora REST and
// object-query endpoints.
package zuora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

const (
	defaultHTTPTimeout    = 10 * time.Second
	maxResponseBodyLength = 1 << 20
	errorBodySnippet      = 512
)

// Client is an authenticated billing platform client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenSource
	breaker    billing.CircuitBreaker
	metrics    billing.Metrics
	logger     billing.Logger
	now        func() time.Time
}

var _ billing.API = (*Client)(nil)

// New creates a client. BaseURL, ClientID and ClientSecret are required.
func New(config billing.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" || strings.TrimSpace(config.ClientID) == "" || strings.TrimSpace(config.ClientSecret) == "" {
		return nil, billing.ConfigError("zuora.New", billing.ErrNotConfigured)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	breaker := config.CircuitBreaker
	if breaker == nil {
		breaker = billing.NewDefaultCircuitBreaker(0, 0, func(state billing.CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("billing circuit breaker state changed", billing.F("state", string(state)))
		})
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     newTokenSource(baseURL, config.ClientID, config.ClientSecret, httpClient, now, metrics, logger),
		breaker:    breaker,
		metrics:    metrics,
		logger:     logger,
		now:        now,
	}, nil
}

// envelope captures the failure markers the platform may put in a 2xx body.
// Field matching is case-insensitive, so it covers both the object API
// ("Success", "Errors") and the REST API ("success", "reasons").
type envelope struct {
	Success *bool           `json:"success"`
	Errors  []envelopeError `json:"errors"`
	Reasons []envelopeError `json:"reasons"`
}

type envelopeError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

func (e envelope) failure() error {
	var msgs []string
	for _, item := range append(append([]envelopeError{}, e.Errors...), e.Reasons...) {
		code := strings.Trim(string(item.Code), `"`)
		switch {
		case code != "" && item.Message != "":
			msgs = append(msgs, code+": "+item.Message)
		case item.Message != "":
			msgs = append(msgs, item.Message)
		case code != "":
			msgs = append(msgs, code)
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%w: %s", billing.ErrRemote, strings.Join(msgs, "; "))
	}
	if e.Success != nil && !*e.Success {
		return fmt.Errorf("%w: request reported success=false", billing.ErrRemote)
	}
	return nil
}

// do runs one authenticated call through the circuit breaker and decodes
// the response into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	err := c.breaker.Execute(ctx, func() error {
		return c.roundTrip(ctx, op, method, path, in, out)
	})
	if errors.Is(err, billing.ErrCircuitOpen) {
		c.metrics.RecordAPICall(op, "circuit_open")
		return billing.RemoteError(op, 0, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return billing.ValidationError(op, fmt.Errorf("failed to encode request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return billing.ConfigError(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPICall(op, "error")
		c.logger.Warn("billing request failed", billing.F("operation", op), billing.F("error", err))
		return billing.RemoteError(op, 0, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodyLength))
	c.metrics.RecordAPICall(op, strconv.Itoa(res.StatusCode))
	c.metrics.RecordAPICallDuration(op, c.now().Sub(start))
	if err != nil {
		return billing.RemoteError(op, 0, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug("billing request",
		billing.F("operation", op),
		billing.F("method", method),
		billing.F("path", path),
		billing.F("status", res.StatusCode))

	if res.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return &billing.Error{
			Kind:   billing.KindAuth,
			Op:     op,
			Status: res.StatusCode,
			Err:    fmt.Errorf("%w: %s", billing.ErrUnauthorized, snippet(body)),
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return billing.RemoteError(op, res.StatusCode, fmt.Errorf("%w: %s", billing.ErrRemote, snippet(body)))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	// Object-query responses are plain objects; the envelope check must not
	// fail on bodies that do not look like an envelope at all.
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		if err := env.failure(); err != nil {
			return billing.RemoteError(op, res.StatusCode, err)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return billing.RemoteError(op, res.StatusCode, fmt.Errorf("%w: %v", billing.ErrInvalidPayload, err))
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorBodySnippet {
		return s[:errorBodySnippet] + "..."
	}
	return s
}
