// Package reconcile decides, for each commerce entity, which billing
// platform calls bring the remote state in line, and issues them.
package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
)

const (
	DefaultLocale      = "en-US"
	DefaultCurrency    = "USD"
	DefaultConcurrency = 4

	dateLayout = "2006-01-02"
)

// Config configures a Reconciler.
type Config struct {
	// Locale selects the localized product name and description.
	Locale string
	// Currency is the billing account currency.
	Currency string
	// Concurrency bounds how many variants of one product sync at once.
	Concurrency int

	Logger  billing.Logger
	Metrics billing.Metrics
	// Now overrides the clock used for "today" in payloads.
	Now func() time.Time
}

// Reconciler syncs commerce entities into the billing platform.
type Reconciler struct {
	api         billing.API
	locale      string
	currency    string
	concurrency int
	logger      billing.Logger
	metrics     billing.Metrics
	now         func() time.Time
}

// New creates a Reconciler issuing calls through api.
func New(api billing.API, cfg Config) *Reconciler {
	r := &Reconciler{
		api:         api,
		locale:      cfg.Locale,
		currency:    cfg.Currency,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
	if r.locale == "" {
		r.locale = DefaultLocale
	}
	if r.currency == "" {
		r.currency = DefaultCurrency
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	if r.logger == nil {
		r.logger = &billing.NoopLogger{}
	}
	if r.metrics == nil {
		r.metrics = &billing.NoopMetrics{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Result summarizes what Handle did for one event.
type Result struct {
	Status  Status
	Product *ProductResult
	Account *billing.SignupResponse
	Order   *billing.OrderResponse
}

// Handle dispatches ev to the reconciler for its kind. Skipped products
// yield StatusSkipped; any returned error is classified for the caller's
// retry decision with billing.IsRetryable.
func (r *Reconciler) Handle(ctx context.Context, ev commerce.Event) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, billing.ValidationError("reconcile.Handle", err)
	}

	switch ev.Kind {
	case commerce.EventProductPublished:
		pr, err := r.ReconcileProduct(ctx, ev.Product)
		res := &Result{Status: StatusSucceeded, Product: pr}
		if pr != nil && pr.Skipped {
			res.Status = StatusSkipped
		}
		return res, err

	case commerce.EventCustomerCreated:
		acct, err := r.ReconcileCustomer(ctx, ev.Customer)
		return &Result{Status: StatusSucceeded, Account: acct}, err

	case commerce.EventOrderCreated:
		order, err := r.ReconcileOrder(ctx, ev.Order)
		return &Result{Status: StatusSucceeded, Order: order}, err
	}
	return nil, billing.ValidationError("reconcile.Handle", fmt.Errorf("%w: %q", commerce.ErrUnknownEvent, ev.Kind))
}

func (r *Reconciler) today() string {
	return r.now().UTC().Format(dateLayout)
}

func (r *Reconciler) record(entity, action string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordReconcile(entity, action, status)
}

// sixMonthTerms is the fixed term of every subscription this service creates:
// six months, not auto-renewed, renewable for another six months.
func sixMonthTerms(startDate string) billing.Terms {
	return billing.Terms{
		AutoRenew: false,
		InitialTerm: billing.InitialTerm{
			Period:     6,
			PeriodType: billing.PeriodTypeMonth,
			StartDate:  startDate,
			TermType:   billing.TermTypeTermed,
		},
		RenewalSetting: billing.RenewalSettingSpecificTerm,
		RenewalTerms: []billing.RenewalTerm{
			{Period: 6, PeriodType: billing.PeriodTypeMonth},
		},
	}
}

// requireID fails a create call that reported success without an id, since
// nothing downstream can reference the entity.
func requireID(op, id string) error {
	if id == "" {
		return billing.RemoteError(op, http.StatusOK, fmt.Errorf("%w: response carries no id", billing.ErrInvalidPayload))
	}
	return nil
}
