package billing

import "context"

// API is the contract of the billing platform client. Every method is a
// single authenticated remote call.
//
// Lookup methods (GetProductBySKU, GetPlanByProductID, GetPriceByPlanID)
// return (nil, nil) when nothing matches, so callers can tell "not found"
// apart from a failed request.
type API interface {
	CreateProduct(ctx context.Context, product ProductPayload) (*CrudResponse, error)
	UpdateProductByID(ctx context.Context, id string, product ProductPayload) (*CrudResponse, error)
	GetProductBySKU(ctx context.Context, sku string) (*Product, error)

	CreatePlan(ctx context.Context, plan RatePlanPayload) (*CrudResponse, error)
	GetPlanByProductID(ctx context.Context, productID string) (*RatePlan, error)

	CreatePrice(ctx context.Context, price PricePayload) (*CrudResponse, error)
	UpdatePrice(ctx context.Context, id string, price PricePayload) (*CrudResponse, error)
	DeletePrice(ctx context.Context, id string) error
	GetPriceByPlanID(ctx context.Context, planID string) (*Price, error)

	CreateAccount(ctx context.Context, signup SignupRequest) (*SignupResponse, error)
	CreateOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error)
}
