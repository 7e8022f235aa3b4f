package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
	"github.com/mihaimyh/billingsync/storage/memory"
)

type fakeFetcher struct {
	mu     sync.Mutex
	events map[string]*commerce.Event
	err    error
	calls  int
}

func (f *fakeFetcher) FetchEvent(_ context.Context, ref commerce.ResourceIdentifier) (*commerce.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events[string(ref.TypeID)+"/"+ref.ID], nil
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []commerce.Event
	errs  []error // returned in order, nil once exhausted
	res   *reconcile.Result

	// started and release, when set, hold Handle open until the test lets go.
	started chan struct{}
	release chan struct{}
}

func (f *fakeReconciler) Handle(_ context.Context, ev commerce.Event) (*reconcile.Result, error) {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ev)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return &reconcile.Result{Status: reconcile.StatusSucceeded}, err
		}
	}
	if f.res != nil {
		return f.res, nil
	}
	return &reconcile.Result{Status: reconcile.StatusSucceeded}, nil
}

func (f *fakeReconciler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingMetrics struct {
	billing.NoopMetrics
	mu     sync.Mutex
	events []string
	errors []string
}

func (m *recordingMetrics) RecordWebhookEvent(eventType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType+":"+status)
}

func (m *recordingMetrics) RecordWebhookError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorType)
}

type fixture struct {
	handler    *Handler
	fetcher    *fakeFetcher
	reconciler *fakeReconciler
	store      *memory.Storage
	metrics    *recordingMetrics
	processed  []billing.SyncEvent
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		fetcher: &fakeFetcher{events: map[string]*commerce.Event{
			"product/prod-1":  eventPtr(commerce.ProductPublished(&commerce.ProductProjection{ID: "prod-1"})),
			"customer/cust-1": eventPtr(commerce.CustomerCreated(&commerce.Customer{ID: "cust-1"})),
			"order/order-1":   eventPtr(commerce.OrderCreated(&commerce.Order{ID: "order-1"})),
		}},
		reconciler: &fakeReconciler{},
		store:      memory.New(),
		metrics:    &recordingMetrics{},
	}
	cfg := Config{
		ProjectKey: "shop",
		Fetcher:    f.fetcher,
		Reconciler: f.reconciler,
		Store:      f.store,
		Metrics:    f.metrics,
		OnProcessed: func(ev billing.SyncEvent) {
			f.processed = append(f.processed, ev)
		},
		Now: func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h, err := NewHandler(cfg)
	require.NoError(t, err)
	f.handler = h
	return f
}

func eventPtr(ev commerce.Event) *commerce.Event { return &ev }

func envelope(t *testing.T, messageID string, data interface{}) []byte {
	t.Helper()
	raw, ok := data.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(data)
		require.NoError(t, err)
	}
	body, err := json.Marshal(PushEnvelope{
		Message:      PushMessage{Data: raw, MessageID: messageID},
		Subscription: "projects/p/subscriptions/billing-sync",
	})
	require.NoError(t, err)
	return body
}

func notification(typeID, id, notificationType string) map[string]interface{} {
	return map[string]interface{}{
		"notificationType": notificationType,
		"projectKey":       "shop",
		"resource":         map[string]string{"typeId": typeID, "id": id},
	}
}

func (f *fixture) push(body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) record(t *testing.T, messageID string) *reconcile.EventRecord {
	t.Helper()
	rec, err := f.store.GetEventRecord(context.Background(), messageID)
	require.NoError(t, err)
	return rec
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) pushResponse {
	t.Helper()
	var resp pushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Config{ProjectKey: "shop"})
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrNotConfigured)
	assert.Equal(t, billing.KindConfig, billing.KindOf(err))
}

func TestHandler_ProcessesProductNotification(t *testing.T) {
	f := newFixture(t)

	w := f.push(envelope(t, "msg-1", notification("product", "prod-1", "ResourceUpdated")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, pushResponse{MessageID: "msg-1", Status: reconcile.StatusSucceeded}, decodeResponse(t, w))

	require.Equal(t, 1, f.reconciler.count())
	assert.Equal(t, commerce.EventProductPublished, f.reconciler.calls[0].Kind)

	rec := f.record(t, "msg-1")
	require.NotNil(t, rec)
	assert.Equal(t, reconcile.StatusSucceeded, rec.Status)
	assert.Equal(t, "product", rec.ResourceType)
	assert.Equal(t, "prod-1", rec.ResourceID)
	assert.Equal(t, 1, rec.Attempts)

	require.Len(t, f.processed, 1)
	assert.Equal(t, "succeeded", f.processed[0].Status)
	assert.False(t, f.processed[0].Retry)
	assert.Equal(t, []string{"product:success"}, f.metrics.events)
}

func TestHandler_RedeliveredMessageIsAcknowledgedWithoutReconciling(t *testing.T) {
	f := newFixture(t)
	body := envelope(t, "msg-1", notification("customer", "cust-1", "ResourceCreated"))

	require.Equal(t, http.StatusOK, f.push(body).Code)
	w := f.push(body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Duplicate)
	assert.Equal(t, 1, f.reconciler.count())
	assert.Equal(t, 1, f.fetcher.calls)
	assert.Len(t, f.processed, 1)
	assert.Equal(t, []string{"customer:success", "customer:duplicate"}, f.metrics.events)
}

func TestHandler_RedeliveryDuringProcessingIsNotReconciled(t *testing.T) {
	f := newFixture(t)
	f.reconciler.started = make(chan struct{}, 1)
	f.reconciler.release = make(chan struct{})
	body := envelope(t, "msg-1", notification("customer", "cust-1", "ResourceCreated"))

	first := make(chan int, 1)
	go func() { first <- f.push(body).Code }()
	<-f.reconciler.started

	w := f.push(body)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, reconcile.StatusInProgress, f.record(t, "msg-1").Status)

	close(f.reconciler.release)
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, 1, f.reconciler.count())

	rec := f.record(t, "msg-1")
	assert.Equal(t, reconcile.StatusSucceeded, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.True(t, rec.LeaseUntil.IsZero())

	w = f.push(body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Duplicate)
	assert.Equal(t, 1, f.reconciler.count())
	assert.Equal(t, []string{"customer:in_progress", "customer:success", "customer:duplicate"}, f.metrics.events)
}

func TestHandler_ExpiredClaimIsTakenOver(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, func(c *Config) { c.ClaimLease = time.Minute })
	body := envelope(t, "msg-1", notification("customer", "cust-1", "ResourceCreated"))

	// A delivery that claimed the message and never finished.
	_, claimed, err := f.store.ClaimEventRecord(context.Background(), &reconcile.EventRecord{
		MessageID:   "msg-1",
		ProcessedAt: now.Add(-2 * time.Minute),
		LeaseUntil:  now.Add(-time.Minute),
	})
	require.NoError(t, err)
	require.True(t, claimed)

	w := f.push(body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := f.record(t, "msg-1")
	assert.Equal(t, reconcile.StatusSucceeded, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, 1, f.reconciler.count())
}

func TestHandler_LiveClaimIsRetriedLater(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	f := newFixture(t)

	_, _, err := f.store.ClaimEventRecord(context.Background(), &reconcile.EventRecord{
		MessageID:   "msg-1",
		ProcessedAt: now.Add(-time.Second),
		LeaseUntil:  now.Add(time.Minute),
	})
	require.NoError(t, err)

	w := f.push(envelope(t, "msg-1", notification("order", "order-1", "ResourceCreated")))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, f.fetcher.calls)
	assert.Zero(t, f.reconciler.count())
	assert.Empty(t, f.processed)
}

func TestHandler_RetryableFailureRequestsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.reconciler.errs = []error{billing.RemoteError("CreateOrder", 503, billing.ErrRemote)}
	body := envelope(t, "msg-1", notification("order", "order-1", "ResourceCreated"))

	w := f.push(body)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	rec := f.record(t, "msg-1")
	assert.Equal(t, reconcile.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.Error, "status 503")
	require.Len(t, f.processed, 1)
	assert.True(t, f.processed[0].Retry)

	w = f.push(body)
	require.Equal(t, http.StatusOK, w.Code)
	rec = f.record(t, "msg-1")
	assert.Equal(t, reconcile.StatusSucceeded, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Empty(t, rec.Error)

	require.Equal(t, http.StatusOK, f.push(body).Code)
	assert.Equal(t, 2, f.reconciler.count())
}

func TestHandler_NonRetryableFailureIsAcknowledged(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", billing.ValidationError("reconcile.customer", billing.ErrInvalidEntity)},
		{"not found", billing.NotFoundError("reconcile.order", billing.ErrNotFound)},
		{"bad request", billing.RemoteError("CreateAccount", 400, billing.ErrRemote)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.reconciler.errs = []error{tt.err}
			body := envelope(t, "msg-1", notification("customer", "cust-1", "ResourceCreated"))

			w := f.push(body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, reconcile.StatusRejected, decodeResponse(t, w).Status)
			assert.Equal(t, reconcile.StatusRejected, f.record(t, "msg-1").Status)

			require.Equal(t, http.StatusOK, f.push(body).Code)
			assert.Equal(t, 1, f.reconciler.count())
		})
	}
}

func TestHandler_SkippedProduct(t *testing.T) {
	f := newFixture(t)
	f.reconciler.res = &reconcile.Result{Status: reconcile.StatusSkipped}

	w := f.push(envelope(t, "msg-1", notification("product", "prod-1", "ResourceCreated")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reconcile.StatusSkipped, f.record(t, "msg-1").Status)
	assert.Equal(t, []string{"product:skipped"}, f.metrics.events)
}

func TestHandler_MissingEntityIsSkipped(t *testing.T) {
	f := newFixture(t)

	w := f.push(envelope(t, "msg-1", notification("order", "deleted-order", "ResourceCreated")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reconcile.StatusSkipped, f.record(t, "msg-1").Status)
	assert.Zero(t, f.reconciler.count())
}

func TestHandler_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = billing.RemoteError("commerce.GetOrder", 502, billing.ErrRemote)

	w := f.push(envelope(t, "msg-1", notification("order", "order-1", "ResourceCreated")))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, reconcile.StatusFailed, f.record(t, "msg-1").Status)
	assert.Contains(t, f.metrics.errors, "fetch_failed")
	assert.Zero(t, f.reconciler.count())
}

func TestHandler_EmbeddedEventSkipsFetch(t *testing.T) {
	f := newFixture(t)

	data := map[string]interface{}{
		"type":       "CustomerCreated",
		"projectKey": "shop",
		"customer":   map[string]string{"id": "cust-9", "email": "a@example.com"},
	}
	w := f.push(envelope(t, "msg-1", data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Zero(t, f.fetcher.calls)
	require.Equal(t, 1, f.reconciler.count())
	assert.Equal(t, "cust-9", f.reconciler.calls[0].Customer.ID)
	assert.Equal(t, "cust-9", f.record(t, "msg-1").ResourceID)
}

func TestHandler_RejectsUnusableRequests(t *testing.T) {
	wrongProject := notification("product", "prod-1", "ResourceCreated")
	wrongProject["projectKey"] = "other-shop"

	tests := []struct {
		name      string
		body      []byte
		errorType string
	}{
		{"not json", []byte("{not json"), "invalid_payload"},
		{"no message id", []byte(`{"message":{"data":"e30="}}`), "invalid_payload"},
		{"no data", []byte(`{"message":{"messageId":"1"}}`), "invalid_payload"},
		{"bad base64", []byte(`{"message":{"messageId":"1","data":"!!"}}`), "invalid_payload"},
		{"data not json", envelope(t, "msg-1", []byte("plain text")), "invalid_message"},
		{"unknown resource", envelope(t, "msg-1", notification("cart", "c-1", "ResourceCreated")), "invalid_message"},
		{"customer update", envelope(t, "msg-1", notification("customer", "cust-1", "ResourceUpdated")), "invalid_message"},
		{"unknown event type", envelope(t, "msg-1", map[string]string{"type": "CartCreated", "projectKey": "shop"}), "invalid_message"},
		{"wrong project", envelope(t, "msg-1", wrongProject), "wrong_project"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.push(tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, []string{tt.errorType}, f.metrics.errors)
			assert.Zero(t, f.fetcher.calls)
			assert.Zero(t, f.reconciler.count())
			assert.Zero(t, f.store.Len())
		})
	}
}

func TestHandler_AcceptsSnakeCaseMessageID(t *testing.T) {
	f := newFixture(t)
	data, err := json.Marshal(notification("product", "prod-1", "ResourceCreated"))
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{"data": data, "message_id": "42"},
	})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, f.push(body).Code)
	assert.NotNil(t, f.record(t, "42"))
}

type brokenStore struct{ *memory.Storage }

func (brokenStore) ClaimEventRecord(context.Context, *reconcile.EventRecord) (*reconcile.EventRecord, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestHandler_LedgerUnavailable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Store = brokenStore{memory.New()} })

	w := f.push(envelope(t, "msg-1", notification("product", "prod-1", "ResourceCreated")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, f.reconciler.count())
}

func TestHandler_MethodAndSize(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxBodyBytes = 64 })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = f.push([]byte(`{"message":{"messageId":"1","data":"` + strings.Repeat("A", 100) + `"}}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, []string{"payload_too_large"}, f.metrics.errors)
}

func TestHandler_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RateLimitRequests = 1 })
	body := envelope(t, "msg-1", notification("product", "prod-1", "ResourceCreated"))

	assert.Equal(t, http.StatusOK, f.push(body).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.push(body).Code)
}
