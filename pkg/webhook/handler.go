// Package webhook receives commerce change notifications through a Pub/Sub
// push subscription and hands them to the reconciler.
//
// The response code is the acknowledgement. A 2xx response settles the
// message, a 5xx response asks Pub/Sub to redeliver it. Requests that do not
// carry a usable message get a 400. A message claimed by a delivery that is
// still running gets a 409, which Pub/Sub redelivers like any other nack.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
	"github.com/mihaimyh/billingsync/pkg/internal"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

const (
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 600
	defaultClaimLease        = 2 * time.Minute
)

// Fetcher loads the entity a notification refers to. It returns (nil, nil)
// when the entity does not exist.
type Fetcher interface {
	FetchEvent(ctx context.Context, ref commerce.ResourceIdentifier) (*commerce.Event, error)
}

// Reconciler syncs one domain event into the billing platform.
type Reconciler interface {
	Handle(ctx context.Context, ev commerce.Event) (*reconcile.Result, error)
}

// Config configures the push handler.
type Config struct {
	// ProjectKey is the commerce project whose notifications are accepted.
	ProjectKey string

	Fetcher    Fetcher
	Reconciler Reconciler
	Store      reconcile.Store

	Logger  billing.Logger
	Metrics billing.Metrics

	// OnProcessed is called after a message's outcome has been recorded.
	OnProcessed func(billing.SyncEvent)

	// MaxBodyBytes limits the request body. Default: 256KB.
	MaxBodyBytes int64

	// RateLimitRequests per RateLimitWindow and client IP. Default: 600/min.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// ClaimLease is how long a delivery owns its message. A redelivery that
	// arrives earlier is answered 409 so Pub/Sub retries it later.
	// Default: 2 minutes.
	ClaimLease time.Duration

	Now func() time.Time
}

// Handler is the Pub/Sub push endpoint.
type Handler struct {
	projectKey   string
	fetcher      Fetcher
	reconciler   Reconciler
	store        reconcile.Store
	logger       billing.Logger
	metrics      billing.Metrics
	onProcessed  func(billing.SyncEvent)
	maxBodyBytes int64
	claimLease   time.Duration
	now          func() time.Time
	handler      http.Handler
}

// NewHandler validates cfg and builds the push handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.ProjectKey == "" || cfg.Fetcher == nil || cfg.Reconciler == nil || cfg.Store == nil {
		return nil, billing.ConfigError("webhook.NewHandler",
			fmt.Errorf("%w: project key, fetcher, reconciler and store are required", billing.ErrNotConfigured))
	}

	h := &Handler{
		projectKey:   cfg.ProjectKey,
		fetcher:      cfg.Fetcher,
		reconciler:   cfg.Reconciler,
		store:        cfg.Store,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		onProcessed:  cfg.OnProcessed,
		maxBodyBytes: cfg.MaxBodyBytes,
		claimLease:   cfg.ClaimLease,
		now:          cfg.Now,
	}
	if h.logger == nil {
		h.logger = &billing.NoopLogger{}
	}
	if h.metrics == nil {
		h.metrics = &billing.NoopMetrics{}
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}
	if h.claimLease <= 0 {
		h.claimLease = defaultClaimLease
	}
	if h.now == nil {
		h.now = time.Now
	}

	limit, window := cfg.RateLimitRequests, cfg.RateLimitWindow
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	h.handler = internal.NewRateLimiter(limit, window).Middleware(http.HandlerFunc(h.handlePush))
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// pushResponse is the body of an acknowledged push.
type pushResponse struct {
	MessageID string           `json:"messageId"`
	Status    reconcile.Status `json:"status"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes, h.logger)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.metrics.RecordWebhookError("payload_too_large")
			internal.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.reject(w, "invalid_payload", err)
		return
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		h.reject(w, "invalid_payload", err)
		return
	}
	messageID := env.Message.ID()

	msg, err := commerce.DecodeMessage(env.Message.Data)
	if err != nil {
		h.reject(w, "invalid_message", fmt.Errorf("message %s: %w", messageID, err))
		return
	}
	if msg.ProjectKey != h.projectKey {
		h.reject(w, "wrong_project", fmt.Errorf("message %s: project key %q is not %q", messageID, msg.ProjectKey, h.projectKey))
		return
	}

	rec, duplicate, err := h.process(r.Context(), messageID, msg)
	resourceType := string(msg.Resource.TypeID)
	h.metrics.RecordWebhookProcessingDuration(resourceType, h.now().Sub(start))
	if err != nil {
		// The message could not be claimed, so nothing was attempted.
		h.metrics.RecordWebhookEvent(resourceType, "error")
		h.metrics.RecordWebhookError("ledger_error")
		h.logger.Error("event ledger unavailable", billing.F("message_id", messageID), billing.F("error", err))
		internal.WriteError(w, http.StatusServiceUnavailable, "event ledger unavailable")
		return
	}

	if duplicate && !rec.Status.Terminal() {
		h.metrics.RecordWebhookEvent(resourceType, "in_progress")
		h.logger.Info("message is being processed by another delivery",
			billing.F("message_id", messageID),
			billing.F("lease_until", rec.LeaseUntil))
		internal.WriteError(w, http.StatusConflict, "message is being processed, retry later")
		return
	}
	if duplicate {
		h.metrics.RecordWebhookEvent(resourceType, "duplicate")
		h.logger.Info("duplicate message acknowledged",
			billing.F("message_id", messageID),
			billing.F("status", string(rec.Status)))
		_ = internal.WriteJSON(w, http.StatusOK, pushResponse{MessageID: messageID, Status: rec.Status, Duplicate: true})
		return
	}

	h.metrics.RecordWebhookEvent(resourceType, metricStatus(rec.Status))
	if rec.Status == reconcile.StatusFailed {
		h.metrics.RecordWebhookError("processing_error")
		internal.WriteError(w, http.StatusInternalServerError, "processing failed, retry")
		return
	}
	_ = internal.WriteJSON(w, http.StatusOK, pushResponse{MessageID: messageID, Status: rec.Status})
}

// reject answers 400 for a request that will never become processable.
func (h *Handler) reject(w http.ResponseWriter, errorType string, err error) {
	h.metrics.RecordWebhookError(errorType)
	h.logger.Warn("push rejected", billing.F("error_type", errorType), billing.F("error", err))
	internal.WriteError(w, http.StatusBadRequest, err.Error())
}

// process claims the message in the ledger, runs it through fetch and
// reconciler and records the outcome. When the message cannot be claimed
// it returns the current record with duplicate set: a terminal record, or
// the live lease of another delivery. The returned error is only set when
// the claim could not be made.
func (h *Handler) process(ctx context.Context, messageID string, msg *commerce.Message) (*reconcile.EventRecord, bool, error) {
	start := h.now()

	claimedAt := start.UTC()
	rec, claimed, err := h.store.ClaimEventRecord(ctx, &reconcile.EventRecord{
		MessageID:    messageID,
		ResourceType: string(msg.Resource.TypeID),
		ResourceID:   msg.Resource.ID,
		ProcessedAt:  claimedAt,
		LeaseUntil:   claimedAt.Add(h.claimLease),
	})
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		if rec == nil {
			// The record vanished between the claim and the read back.
			rec = &reconcile.EventRecord{MessageID: messageID, Status: reconcile.StatusInProgress}
		}
		return rec, true, nil
	}

	logger := billing.With(h.logger,
		billing.F("message_id", messageID),
		billing.F("resource_type", rec.ResourceType),
		billing.F("resource_id", rec.ResourceID),
		billing.F("attempt", rec.Attempts))

	status, procErr := h.reconcile(ctx, msg)
	rec.Status = status
	rec.LeaseUntil = time.Time{}
	if procErr != nil {
		rec.Error = procErr.Error()
	}
	rec.ProcessedAt = h.now().UTC()

	switch status {
	case reconcile.StatusFailed:
		logger.Error("message processing failed, requesting redelivery", billing.F("error", procErr))
	case reconcile.StatusRejected:
		logger.Warn("message rejected", billing.F("error", procErr), billing.F("kind", string(billing.KindOf(procErr))))
	default:
		logger.Info("message processed", billing.F("status", string(status)))
	}

	if err := h.store.SaveEventRecord(ctx, rec); err != nil {
		// The outcome stands. The claim is held until its lease lapses, then
		// a redelivery runs again against the remote get-or-create checks.
		h.metrics.RecordWebhookError("ledger_error")
		logger.Error("failed to record message outcome", billing.F("error", err))
	}

	if h.onProcessed != nil {
		h.onProcessed(billing.SyncEvent{
			MessageID:    messageID,
			ResourceType: rec.ResourceType,
			ResourceID:   rec.ResourceID,
			Status:       string(rec.Status),
			Err:          procErr,
			Retry:        status == reconcile.StatusFailed,
			Duration:     h.now().Sub(start),
			ProcessedAt:  rec.ProcessedAt,
		})
	}
	return rec, false, nil
}

// reconcile resolves the event and runs it, mapping the outcome to a ledger
// status. Entities that no longer exist are skipped.
func (h *Handler) reconcile(ctx context.Context, msg *commerce.Message) (reconcile.Status, error) {
	ev := msg.Event
	if ev == nil {
		fetched, err := h.fetcher.FetchEvent(ctx, msg.Resource)
		if err != nil {
			h.metrics.RecordWebhookError("fetch_failed")
			return outcome(err), err
		}
		if fetched == nil {
			return reconcile.StatusSkipped, nil
		}
		ev = fetched
	}

	res, err := h.reconciler.Handle(ctx, *ev)
	if err != nil {
		return outcome(err), err
	}
	if res == nil {
		return reconcile.StatusSucceeded, nil
	}
	return res.Status, nil
}

func outcome(err error) reconcile.Status {
	if billing.IsRetryable(err) {
		return reconcile.StatusFailed
	}
	return reconcile.StatusRejected
}

func metricStatus(s reconcile.Status) string {
	switch s {
	case reconcile.StatusSucceeded:
		return "success"
	case reconcile.StatusFailed:
		return "error"
	default:
		return string(s)
	}
}
