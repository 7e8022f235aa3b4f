package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
)

// Actions recorded per remote entity.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
	ActionReused    = "reused"
	ActionReplaced  = "replaced"
	ActionDeleted   = "deleted"
	ActionSkipped   = "skipped"
)

// VariantResult is the outcome of syncing one variant.
type VariantResult struct {
	SKU           string
	ProductID     string
	ProductAction string
	PlanID        string
	PlanAction    string
	PriceID       string
	PriceAction   string
	Err           error
}

// ProductResult summarizes a product sync. Skipped is set when the product
// was not eligible and no remote call was made.
type ProductResult struct {
	ProductID string
	Skipped   bool
	Variants  []VariantResult
}

// Failed returns the variants that did not sync.
func (p *ProductResult) Failed() []VariantResult {
	var failed []VariantResult
	for _, v := range p.Variants {
		if v.Err != nil {
			failed = append(failed, v)
		}
	}
	return failed
}

// ReconcileProduct syncs every SKU-bearing variant of p as its own remote
// product with one rate plan and one price. Variants run concurrently and
// a failing variant never stops its siblings; the returned error joins the
// errors of all failed variants.
func (r *Reconciler) ReconcileProduct(ctx context.Context, p *commerce.ProductProjection) (*ProductResult, error) {
	if !commerce.ValidProduct(p, r.locale) {
		id := ""
		if p != nil {
			id = p.ID
		}
		r.logger.Info("product not eligible for sync, skipping", billing.F("product_id", id))
		r.metrics.RecordReconcile("product", ActionSkipped, "success")
		return &ProductResult{ProductID: id, Skipped: true}, nil
	}

	// One remote product per SKU: a SKU repeated across the master and the
	// explicit variants is synced once, from its first occurrence.
	var variants []commerce.ProductVariant
	seen := make(map[string]bool)
	for _, v := range p.AllVariants() {
		if strings.TrimSpace(v.SKU) == "" || seen[v.SKU] {
			continue
		}
		seen[v.SKU] = true
		variants = append(variants, v)
	}

	result := &ProductResult{
		ProductID: p.ID,
		Variants:  make([]VariantResult, len(variants)),
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			vr := r.reconcileVariant(ctx, p, v)
			if vr.Err != nil {
				r.logger.Error("variant sync failed",
					billing.F("product_id", p.ID),
					billing.F("sku", v.SKU),
					billing.F("error", vr.Err))
			}
			result.Variants[i] = vr
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, vr := range result.Failed() {
		errs = append(errs, fmt.Errorf("variant %s: %w", vr.SKU, vr.Err))
	}
	return result, errors.Join(errs...)
}

func (r *Reconciler) reconcileVariant(ctx context.Context, p *commerce.ProductProjection, v commerce.ProductVariant) VariantResult {
	vr := VariantResult{SKU: v.SKU}

	productID, action, err := r.upsertProduct(ctx, p, v)
	vr.ProductAction = action
	if err != nil {
		vr.Err = err
		return vr
	}
	vr.ProductID = productID

	plan, action, err := r.ensurePlan(ctx, v, productID)
	vr.PlanAction = action
	if err != nil {
		vr.Err = err
		return vr
	}
	vr.PlanID = plan.ID

	priceID, action, err := r.replacePrice(ctx, v, plan)
	vr.PriceAction = action
	vr.PriceID = priceID
	vr.Err = err
	return vr
}

// upsertProduct creates the remote product for v's SKU, or updates it when
// its name or description drifted.
func (r *Reconciler) upsertProduct(ctx context.Context, p *commerce.ProductProjection, v commerce.ProductVariant) (string, string, error) {
	name := p.Name.Get(r.locale)
	description := p.Description.Get(r.locale)

	existing, err := r.api.GetProductBySKU(ctx, v.SKU)
	if err != nil {
		return "", "", err
	}

	if existing == nil {
		res, err := r.api.CreateProduct(ctx, billing.ProductPayload{
			Name:               name,
			Description:        description,
			SKU:                v.SKU,
			EffectiveStartDate: billing.ProductEffectiveStartDate,
			EffectiveEndDate:   billing.ProductEffectiveEndDate,
		})
		if err == nil {
			err = requireID("CreateProduct", res.ID)
		}
		r.record("product", ActionCreated, err)
		if err != nil {
			return "", ActionCreated, err
		}
		r.logger.Info("created product", billing.F("sku", v.SKU), billing.F("remote_id", res.ID))
		return res.ID, ActionCreated, nil
	}

	if existing.Name == name && existing.Description == description {
		r.record("product", ActionUnchanged, nil)
		return existing.ID, ActionUnchanged, nil
	}

	_, err = r.api.UpdateProductByID(ctx, existing.ID, billing.ProductPayload{
		ID:          existing.ID,
		Name:        name,
		Description: description,
		SKU:         v.SKU,
	})
	r.record("product", ActionUpdated, err)
	if err != nil {
		return "", ActionUpdated, err
	}
	r.logger.Info("updated product", billing.F("sku", v.SKU), billing.F("remote_id", existing.ID))
	return existing.ID, ActionUpdated, nil
}

// ensurePlan returns the rate plan of a remote product, creating it when
// missing. Existing plans are never modified.
func (r *Reconciler) ensurePlan(ctx context.Context, v commerce.ProductVariant, productID string) (*billing.RatePlan, string, error) {
	plan, err := r.api.GetPlanByProductID(ctx, productID)
	if err != nil {
		return nil, "", err
	}
	if plan != nil {
		r.record("plan", ActionReused, nil)
		return plan, ActionReused, nil
	}

	name, ok := r.offeringName(v)
	if !ok {
		err := billing.ValidationError("reconcile.plan",
			fmt.Errorf("%w: variant %s has no %s attribute", billing.ErrInvalidEntity, v.SKU, commerce.OfferingNameAttribute))
		r.record("plan", ActionCreated, err)
		return nil, ActionCreated, err
	}

	res, err := r.api.CreatePlan(ctx, billing.RatePlanPayload{
		Name:      name,
		ProductID: productID,
	})
	if err == nil {
		err = requireID("CreatePlan", res.ID)
	}
	r.record("plan", ActionCreated, err)
	if err != nil {
		return nil, ActionCreated, err
	}
	r.logger.Info("created plan", billing.F("sku", v.SKU), billing.F("plan_id", res.ID))
	return &billing.RatePlan{ID: res.ID, Name: name, ProductID: productID}, ActionCreated, nil
}

// replacePrice deletes the plan's current price, if any, and creates a new
// one from v's prices. Variants without prices are left alone.
func (r *Reconciler) replacePrice(ctx context.Context, v commerce.ProductVariant, plan *billing.RatePlan) (string, string, error) {
	if len(v.Prices) == 0 {
		r.record("price", ActionSkipped, nil)
		return "", ActionSkipped, nil
	}

	existing, err := r.api.GetPriceByPlanID(ctx, plan.ID)
	if err != nil {
		return "", "", err
	}

	action := ActionCreated
	if existing != nil {
		err := r.api.DeletePrice(ctx, existing.ID)
		r.record("price", ActionDeleted, err)
		if err != nil {
			return "", ActionReplaced, err
		}
		action = ActionReplaced
	}

	name, ok := r.offeringName(v)
	if !ok {
		name = plan.Name
	}
	if name == "" {
		name = v.SKU
	}

	res, err := r.api.CreatePrice(ctx, billing.PricePayload{
		ProductRatePlanID:                 plan.ID,
		Name:                              name,
		BillCycleType:                     billing.BillCycleTypeDefaultFromCustomer,
		BillingPeriod:                     billing.BillingPeriodMonth,
		ChargeModel:                       billing.ChargeModelFlatFee,
		ChargeType:                        billing.ChargeTypeRecurring,
		TriggerEvent:                      billing.TriggerEventContractEffective,
		UOM:                               billing.UOMEach,
		UseDiscountSpecificAccountingCode: false,
		ProductRatePlanChargeTierData: billing.PriceTierData{
			ProductRatePlanChargeTier: priceTiers(v.Prices),
		},
	})
	if err == nil {
		err = requireID("CreatePrice", res.ID)
	}
	r.record("price", action, err)
	if err != nil {
		return "", action, err
	}
	r.logger.Info("created price", billing.F("sku", v.SKU), billing.F("price_id", res.ID), billing.F("action", action))
	return res.ID, action, nil
}

func (r *Reconciler) offeringName(v commerce.ProductVariant) (string, bool) {
	attr, ok := v.Attribute(commerce.OfferingNameAttribute)
	if !ok {
		return "", false
	}
	return attr.Text(r.locale)
}

// priceTiers converts variant prices to one tier per currency. The first
// price of a currency wins; the platform rejects repeated currencies.
func priceTiers(prices []commerce.Price) []billing.PriceTier {
	seen := make(map[string]bool, len(prices))
	tiers := make([]billing.PriceTier, 0, len(prices))
	for _, p := range prices {
		currency := p.Value.CurrencyCode
		if seen[currency] {
			continue
		}
		seen[currency] = true
		tiers = append(tiers, billing.PriceTier{
			Currency: currency,
			Price:    p.Value.Decimal(),
		})
	}
	return tiers
}
