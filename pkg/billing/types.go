package billing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Fixed values of the remote catalog schema.
const (
	ProductEffectiveStartDate = "2020-01-01"
	ProductEffectiveEndDate   = "2060-12-31"

	BillCycleTypeDefaultFromCustomer = "DefaultFromCustomer"
	BillingPeriodMonth               = "Month"
	ChargeModelFlatFee               = "Flat Fee Pricing"
	ChargeTypeRecurring              = "Recurring"
	TriggerEventContractEffective    = "ContractEffective"
	UOMEach                          = "each"

	PeriodTypeMonth               = "Month"
	TermTypeTermed                = "TERMED"
	RenewalSettingSpecificTerm    = "RENEW_WITH_SPECIFIC_TERM"
	OrderActionCreateSubscription = "CreateSubscription"
	TriggerDateInitialTerm        = "InitialTerm"
)

// CrudResponse is the body returned by object create/update calls.
type CrudResponse struct {
	ID      string `json:"Id"`
	Success bool   `json:"Success"`
}

// Product is a remote product as returned by the object-query endpoint.
type Product struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	SKU                string `json:"sku"`
	ProductNumber      string `json:"productNumber,omitempty"`
	EffectiveStartDate string `json:"effectiveStartDate,omitempty"`
	EffectiveEndDate   string `json:"effectiveEndDate,omitempty"`
}

// ProductPayload creates or updates a remote product.
type ProductPayload struct {
	ID                 string `json:"Id,omitempty"`
	Name               string `json:"Name"`
	Description        string `json:"Description"`
	SKU                string `json:"SKU"`
	EffectiveStartDate string `json:"EffectiveStartDate,omitempty"`
	EffectiveEndDate   string `json:"EffectiveEndDate,omitempty"`
}

// RatePlan is a remote product rate plan.
type RatePlan struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ProductID string `json:"productId,omitempty"`
}

// RatePlanPayload creates a remote rate plan.
type RatePlanPayload struct {
	Name               string `json:"Name"`
	ProductID          string `json:"ProductId"`
	Description        string `json:"Description,omitempty"`
	EffectiveStartDate string `json:"EffectiveStartDate,omitempty"`
	EffectiveEndDate   string `json:"EffectiveEndDate,omitempty"`
}

// Price is a remote rate-plan charge.
type Price struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	ProductRatePlanID string `json:"productRatePlanId,omitempty"`
}

// PriceTier is one currency amount of a flat-fee charge.
type PriceTier struct {
	Currency string
	Price    decimal.Decimal
}

// MarshalJSON writes Price as a JSON number, which the platform requires.
func (t PriceTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Currency string      `json:"Currency"`
		Price    json.Number `json:"Price"`
	}{
		Currency: t.Currency,
		Price:    json.Number(t.Price.String()),
	})
}

// UnmarshalJSON accepts Price as a number or a string.
func (t *PriceTier) UnmarshalJSON(data []byte) error {
	var raw struct {
		Currency string          `json:"Currency"`
		Price    decimal.Decimal `json:"Price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Currency = raw.Currency
	t.Price = raw.Price
	return nil
}

// PriceTierData wraps the tier list the way the object API expects it.
type PriceTierData struct {
	ProductRatePlanChargeTier []PriceTier `json:"ProductRatePlanChargeTier"`
}

// PricePayload creates or replaces a remote rate-plan charge.
type PricePayload struct {
	ProductRatePlanID                 string        `json:"ProductRatePlanId"`
	Name                              string        `json:"Name"`
	BillCycleType                     string        `json:"BillCycleType"`
	BillingPeriod                     string        `json:"BillingPeriod"`
	ChargeModel                       string        `json:"ChargeModel"`
	ChargeType                        string        `json:"ChargeType"`
	TriggerEvent                      string        `json:"TriggerEvent"`
	UOM                               string        `json:"UOM,omitempty"`
	UseDiscountSpecificAccountingCode bool          `json:"UseDiscountSpecificAccountingCode"`
	ProductRatePlanChargeTierData     PriceTierData `json:"ProductRatePlanChargeTierData"`
}

// Contact is the bill-to contact of a signup.
type Contact struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	PersonalEmail string `json:"personalEmail"`
	Country       string `json:"country"`
	State         string `json:"state"`
}

// SignupAccount is the account block of a signup.
type SignupAccount struct {
	AccountNumber string  `json:"accountNumber"`
	Name          string  `json:"name"`
	Currency      string  `json:"currency"`
	BillCycleDay  int     `json:"billCycleDay"`
	AutoPay       bool    `json:"autoPay"`
	BillToContact Contact `json:"billToContact"`
}

// SignupOptions controls billing and collection at signup.
type SignupOptions struct {
	BillingTargetDate          string `json:"billingTargetDate"`
	CollectPayment             bool   `json:"collectPayment"`
	MaxSubscriptionsPerAccount int    `json:"maxSubscriptionsPerAccount"`
	RunBilling                 bool   `json:"runBilling"`
}

// InitialTerm is the first term of a subscription.
type InitialTerm struct {
	Period     int    `json:"period"`
	PeriodType string `json:"periodType"`
	StartDate  string `json:"startDate"`
	TermType   string `json:"termType"`
}

// RenewalTerm is a renewal period of a subscription.
type RenewalTerm struct {
	Period     int    `json:"period"`
	PeriodType string `json:"periodType"`
}

// Terms describes the term and renewal behavior of a subscription.
type Terms struct {
	AutoRenew      bool          `json:"autoRenew"`
	InitialTerm    InitialTerm   `json:"initialTerm"`
	RenewalSetting string        `json:"renewalSetting"`
	RenewalTerms   []RenewalTerm `json:"renewalTerms"`
}

// SignupSubscription is the subscription shell created with an account.
type SignupSubscription struct {
	InvoiceSeparately bool   `json:"invoiceSeparately"`
	StartDate         string `json:"startDate"`
	Terms             Terms  `json:"terms"`
}

// SignupRequest creates an account together with its initial subscription shell.
type SignupRequest struct {
	AccountData      SignupAccount      `json:"accountData"`
	Options          SignupOptions      `json:"options"`
	SubscriptionData SignupSubscription `json:"subscriptionData"`
}

// SignupResponse is the result of a signup call.
type SignupResponse struct {
	Success            bool   `json:"success"`
	AccountID          string `json:"accountId"`
	AccountNumber      string `json:"accountNumber"`
	SubscriptionID     string `json:"subscriptionId,omitempty"`
	SubscriptionNumber string `json:"subscriptionNumber,omitempty"`
	OrderNumber        string `json:"orderNumber,omitempty"`
}

// ChargeOverride pins a rate-plan charge inside a subscribed rate plan.
type ChargeOverride struct {
	ProductRatePlanChargeID string `json:"productRatePlanChargeId"`
}

// RatePlanSubscription subscribes to one product rate plan.
type RatePlanSubscription struct {
	ProductRatePlanID string           `json:"productRatePlanId"`
	ChargeOverrides   []ChargeOverride `json:"chargeOverrides,omitempty"`
}

// CreateSubscription is the payload of a CreateSubscription order action.
type CreateSubscription struct {
	Terms                Terms                  `json:"terms"`
	SubscribeToRatePlans []RatePlanSubscription `json:"subscribeToRatePlans"`
}

// TriggerDate sets when an order action takes effect.
type TriggerDate struct {
	Name        string `json:"name"`
	TriggerDate string `json:"triggerDate"`
}

// OrderAction is a single subscription instruction within an order.
type OrderAction struct {
	Type               string              `json:"type"`
	CreateSubscription *CreateSubscription `json:"createSubscription,omitempty"`
	TriggerDates       []TriggerDate       `json:"triggerDates"`
}

// OrderSubscription groups the actions applied to one subscription.
type OrderSubscription struct {
	OrderActions []OrderAction `json:"orderActions"`
}

// OrderRequest creates an order against an existing account.
type OrderRequest struct {
	OrderNumber           string              `json:"orderNumber"`
	Description           string              `json:"description"`
	ExistingAccountNumber string              `json:"existingAccountNumber"`
	OrderDate             string              `json:"orderDate"`
	Subscriptions         []OrderSubscription `json:"subscriptions"`
}

// OrderResponse is the result of an order call.
type OrderResponse struct {
	Success             bool     `json:"success"`
	OrderNumber         string   `json:"orderNumber"`
	AccountNumber       string   `json:"accountNumber,omitempty"`
	Status              string   `json:"status,omitempty"`
	SubscriptionNumbers []string `json:"subscriptionNumbers,omitempty"`
}
