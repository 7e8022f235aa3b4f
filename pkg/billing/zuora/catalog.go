package zuora

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// queryResponse is the list shape of the object-query endpoints.
type queryResponse[T any] struct {
	Data []T `json:"data"`
}

func queryPath(collection, field, value string) string {
	q := url.Values{}
	q.Set("filter[]", field+".EQ:"+value)
	return "/object-query/" + collection + "?" + q.Encode()
}

func objectPath(object, id string) string {
	return "/v1/object/" + object + "/" + url.PathEscape(id)
}

// first returns the first query match, or nil when there is none.
func first[T any](ctx context.Context, c *Client, op, path string) (*T, error) {
	var res queryResponse[T]
	if err := c.do(ctx, op, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return &res.Data[0], nil
}

func (c *Client) CreateProduct(ctx context.Context, product billing.ProductPayload) (*billing.CrudResponse, error) {
	product.ID = ""
	var res billing.CrudResponse
	if err := c.do(ctx, "CreateProduct", http.MethodPost, "/v1/object/product", product, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) UpdateProductByID(ctx context.Context, id string, product billing.ProductPayload) (*billing.CrudResponse, error) {
	var res billing.CrudResponse
	if err := c.do(ctx, "UpdateProductByID", http.MethodPut, objectPath("product", id), product, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetProductBySKU returns the first remote product with the given SKU.
func (c *Client) GetProductBySKU(ctx context.Context, sku string) (*billing.Product, error) {
	return first[billing.Product](ctx, c, "GetProductBySKU", queryPath("products", "SKU", sku))
}

func (c *Client) CreatePlan(ctx context.Context, plan billing.RatePlanPayload) (*billing.CrudResponse, error) {
	var res billing.CrudResponse
	if err := c.do(ctx, "CreatePlan", http.MethodPost, "/v1/object/product-rate-plan", plan, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPlanByProductID returns the first rate plan of a remote product.
func (c *Client) GetPlanByProductID(ctx context.Context, productID string) (*billing.RatePlan, error) {
	return first[billing.RatePlan](ctx, c, "GetPlanByProductID", queryPath("product-rate-plans", "ProductId", productID))
}

func (c *Client) CreatePrice(ctx context.Context, price billing.PricePayload) (*billing.CrudResponse, error) {
	var res billing.CrudResponse
	if err := c.do(ctx, "CreatePrice", http.MethodPost, "/v1/object/product-rate-plan-charge", price, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) UpdatePrice(ctx context.Context, id string, price billing.PricePayload) (*billing.CrudResponse, error) {
	var res billing.CrudResponse
	if err := c.do(ctx, "UpdatePrice", http.MethodPut, objectPath("product-rate-plan-charge", id), price, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeletePrice(ctx context.Context, id string) error {
	return c.do(ctx, "DeletePrice", http.MethodDelete, objectPath("product-rate-plan-charge", id), nil, nil)
}

// GetPriceByPlanID returns the first charge of a rate plan.
func (c *Client) GetPriceByPlanID(ctx context.Context, planID string) (*billing.Price, error) {
	return first[billing.Price](ctx, c, "GetPriceByPlanID", queryPath("product-rate-plan-charges", "productRatePlanId", planID))
}
