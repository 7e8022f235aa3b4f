package api

import (
	"time"

	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// EventResponse is the ledger record of one push message
type EventResponse struct {
	MessageID    string           `json:"message_id"`
	ResourceType string           `json:"resource_type"`
	ResourceID   string           `json:"resource_id"`
	Status       reconcile.Status `json:"status"`
	Attempts     int              `json:"attempts"`
	Error        string           `json:"error,omitempty"`
	ProcessedAt  time.Time        `json:"processed_at"`

	// LeaseUntil is set while a delivery is processing the message
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

// ResyncResponse reports the outcome of a manual resync
type ResyncResponse struct {
	Kind      string           `json:"kind"`
	ID        string           `json:"id"`
	Status    reconcile.Status `json:"status"`
	Error     string           `json:"error,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`

	// Variants is the per-variant outcome of a product resync
	Variants []VariantOutcome `json:"variants,omitempty"`
	// AccountNumber is set by a customer resync
	AccountNumber string `json:"account_number,omitempty"`
	// OrderNumber is set by an order resync
	OrderNumber string `json:"order_number,omitempty"`
}

// VariantOutcome is the result of syncing one product variant
type VariantOutcome struct {
	SKU       string `json:"sku"`
	ProductID string `json:"product_id,omitempty"`
	PlanID    string `json:"plan_id,omitempty"`
	PriceID   string `json:"price_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
