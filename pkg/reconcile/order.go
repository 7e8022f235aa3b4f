package reconcile

import (
	"context"
	"fmt"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
)

// ReconcileOrder submits one billing order for o with one create-subscription
// action per line item. Line items are resolved in order; if any SKU has no
// remote product, plan or price the whole order fails with a not-found error
// and nothing is submitted.
func (r *Reconciler) ReconcileOrder(ctx context.Context, o *commerce.Order) (*billing.OrderResponse, error) {
	if !commerce.ValidOrder(o) {
		id := ""
		if o != nil {
			id = o.ID
		}
		return nil, billing.ValidationError("reconcile.order",
			fmt.Errorf("%w: order %q needs a customer and line items with SKUs", billing.ErrInvalidEntity, id))
	}

	today := r.today()
	subscriptions := make([]billing.OrderSubscription, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		rp, err := r.resolveLineItem(ctx, li)
		if err != nil {
			r.logger.Warn("order line item unresolved",
				billing.F("order_id", o.ID),
				billing.F("line_item_id", li.ID),
				billing.F("sku", li.Variant.SKU),
				billing.F("error", err))
			return nil, err
		}
		subscriptions = append(subscriptions, billing.OrderSubscription{
			OrderActions: []billing.OrderAction{{
				Type: billing.OrderActionCreateSubscription,
				CreateSubscription: &billing.CreateSubscription{
					Terms:                sixMonthTerms(today),
					SubscribeToRatePlans: []billing.RatePlanSubscription{rp},
				},
				TriggerDates: []billing.TriggerDate{
					{Name: billing.TriggerDateInitialTerm, TriggerDate: today},
				},
			}},
		})
	}

	res, err := r.api.CreateOrder(ctx, billing.OrderRequest{
		OrderNumber:           o.ID,
		Description:           o.ID,
		ExistingAccountNumber: o.CustomerID,
		OrderDate:             today,
		Subscriptions:         subscriptions,
	})
	r.record("order", ActionCreated, err)
	if err != nil {
		return nil, err
	}
	r.logger.Info("created order",
		billing.F("order_id", o.ID),
		billing.F("order_number", res.OrderNumber),
		billing.F("subscriptions", len(subscriptions)))
	return res, nil
}

// resolveLineItem maps a line item's SKU to its remote rate plan and price.
func (r *Reconciler) resolveLineItem(ctx context.Context, li commerce.LineItem) (billing.RatePlanSubscription, error) {
	sku := li.Variant.SKU
	notFound := func(what string) error {
		return billing.NotFoundError("reconcile.order",
			fmt.Errorf("%w: no remote %s for SKU %q", billing.ErrNotFound, what, sku))
	}

	product, err := r.api.GetProductBySKU(ctx, sku)
	if err != nil {
		return billing.RatePlanSubscription{}, err
	}
	if product == nil {
		return billing.RatePlanSubscription{}, notFound("product")
	}

	plan, err := r.api.GetPlanByProductID(ctx, product.ID)
	if err != nil {
		return billing.RatePlanSubscription{}, err
	}
	if plan == nil {
		return billing.RatePlanSubscription{}, notFound("rate plan")
	}

	price, err := r.api.GetPriceByPlanID(ctx, plan.ID)
	if err != nil {
		return billing.RatePlanSubscription{}, err
	}
	if price == nil {
		return billing.RatePlanSubscription{}, notFound("price")
	}

	return billing.RatePlanSubscription{
		ProductRatePlanID: plan.ID,
		ChargeOverrides: []billing.ChargeOverride{
			{ProductRatePlanChargeID: price.ID},
		},
	}, nil
}
