package zuora

import (
	"context"
	"net/http"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// CreateAccount signs up a billing account with its initial subscription shell.
func (c *Client) CreateAccount(ctx context.Context, signup billing.SignupRequest) (*billing.SignupResponse, error) {
	var res billing.SignupResponse
	if err := c.do(ctx, "CreateAccount", http.MethodPost, "/v1/sign-up", signup, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateOrder submits an order against an existing account.
func (c *Client) CreateOrder(ctx context.Context, order billing.OrderRequest) (*billing.OrderResponse, error) {
	var res billing.OrderResponse
	if err := c.do(ctx, "CreateOrder", http.MethodPost, "/v1/orders", order, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
