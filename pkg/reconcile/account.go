package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
)

const (
	defaultContactCountry = "US"
	defaultContactState   = "CA"
	accountBillCycleDay   = 1
)

// ReconcileCustomer signs up a billing account for c, keyed by the customer
// id, with an initial six-month subscription shell and no rate plans.
//
// There is no existence check: a second "customer created" notification for
// the same customer issues a second signup.
func (r *Reconciler) ReconcileCustomer(ctx context.Context, c *commerce.Customer) (*billing.SignupResponse, error) {
	if !commerce.ValidCustomer(c) {
		id := ""
		if c != nil {
			id = c.ID
		}
		return nil, billing.ValidationError("reconcile.customer",
			fmt.Errorf("%w: customer %q needs an email, first and last name", billing.ErrInvalidEntity, id))
	}

	res, err := r.api.CreateAccount(ctx, r.signupRequest(c))
	r.record("account", ActionCreated, err)
	if err != nil {
		return nil, err
	}
	r.logger.Info("created account",
		billing.F("customer_id", c.ID),
		billing.F("account_id", res.AccountID),
		billing.F("account_number", res.AccountNumber))
	return res, nil
}

func (r *Reconciler) signupRequest(c *commerce.Customer) billing.SignupRequest {
	today := r.today()

	country, state := defaultContactCountry, defaultContactState
	if len(c.Addresses) > 0 {
		if a := strings.TrimSpace(c.Addresses[0].Country); a != "" {
			country = a
		}
		if s := strings.TrimSpace(c.Addresses[0].State); s != "" {
			state = s
		}
	}

	return billing.SignupRequest{
		AccountData: billing.SignupAccount{
			AccountNumber: c.ID,
			Name:          c.Email,
			Currency:      r.currency,
			BillCycleDay:  accountBillCycleDay,
			AutoPay:       false,
			BillToContact: billing.Contact{
				FirstName:     c.FirstName,
				LastName:      c.LastName,
				PersonalEmail: c.Email,
				Country:       country,
				State:         state,
			},
		},
		Options: billing.SignupOptions{
			BillingTargetDate:          today,
			CollectPayment:             true,
			MaxSubscriptionsPerAccount: 0,
			RunBilling:                 true,
		},
		SubscriptionData: billing.SignupSubscription{
			InvoiceSeparately: false,
			StartDate:         today,
			Terms:             sixMonthTerms(today),
		},
	}
}
