// Package commerce models the commerce platform entities that are synced
// into billing, the messages announcing them, and a client to fetch them.
package commerce

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// LocalizedString maps a locale (e.g. "en-US") to a value.
type LocalizedString map[string]string

// Get returns the value for locale, or "" when absent.
func (l LocalizedString) Get(locale string) string {
	if l == nil {
		return ""
	}
	return l[locale]
}

// Money is an amount in the smallest currency unit.
type Money struct {
	Type           string `json:"type,omitempty"`
	CurrencyCode   string `json:"currencyCode"`
	CentAmount     int64  `json:"centAmount"`
	FractionDigits int32  `json:"fractionDigits"`
}

// Decimal converts the cent amount to a decimal using FractionDigits,
// e.g. 999 with 2 fraction digits is 9.99.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.CentAmount, -m.FractionDigits)
}

// Price is one price of a variant.
type Price struct {
	ID      string `json:"id"`
	Value   Money  `json:"value"`
	Country string `json:"country,omitempty"`
}

// Attribute is a named product attribute. Value is kept raw because its
// shape depends on the attribute type.
type Attribute struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Text returns the attribute value as text. Plain strings are returned as
// is, localized strings are resolved with locale, and enum values yield
// their label.
func (a Attribute) Text(locale string) (string, bool) {
	if len(a.Value) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(a.Value, &s); err == nil {
		return s, strings.TrimSpace(s) != ""
	}

	var enum struct {
		Key   string          `json:"key"`
		Label json.RawMessage `json:"label"`
	}
	if err := json.Unmarshal(a.Value, &enum); err == nil && len(enum.Label) > 0 {
		if err := json.Unmarshal(enum.Label, &s); err == nil {
			return s, s != ""
		}
		var ls LocalizedString
		if err := json.Unmarshal(enum.Label, &ls); err == nil {
			s = ls.Get(locale)
			return s, s != ""
		}
	}

	var ls LocalizedString
	if err := json.Unmarshal(a.Value, &ls); err == nil {
		s = ls.Get(locale)
		return s, s != ""
	}
	return "", false
}

// ProductVariant is a purchasable variant of a product.
type ProductVariant struct {
	ID         int         `json:"id"`
	SKU        string      `json:"sku,omitempty"`
	Key        string      `json:"key,omitempty"`
	Prices     []Price     `json:"prices,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attribute returns the attribute with the given name.
func (v ProductVariant) Attribute(name string) (Attribute, bool) {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// ProductProjection is the published view of a product.
type ProductProjection struct {
	ID            string           `json:"id"`
	Version       int64            `json:"version,omitempty"`
	Key           string           `json:"key,omitempty"`
	Name          LocalizedString  `json:"name"`
	Description   LocalizedString  `json:"description,omitempty"`
	Slug          LocalizedString  `json:"slug,omitempty"`
	MasterVariant ProductVariant   `json:"masterVariant"`
	Variants      []ProductVariant `json:"variants"`
	Published     bool             `json:"published,omitempty"`
}

// AllVariants returns the explicit variants followed by the master variant.
func (p ProductProjection) AllVariants() []ProductVariant {
	all := make([]ProductVariant, 0, len(p.Variants)+1)
	all = append(all, p.Variants...)
	return append(all, p.MasterVariant)
}

// Address is a postal address of a customer.
type Address struct {
	ID         string `json:"id,omitempty"`
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Customer is a registered shop customer.
type Customer struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version,omitempty"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Addresses []Address `json:"addresses,omitempty"`
}

// LineItem is one product line of an order.
type LineItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Name      LocalizedString `json:"name,omitempty"`
	Variant   ProductVariant  `json:"variant"`
	Quantity  int64           `json:"quantity"`
}

// Order is a placed order.
type Order struct {
	ID          string     `json:"id"`
	Version     int64      `json:"version,omitempty"`
	OrderNumber string     `json:"orderNumber,omitempty"`
	CustomerID  string     `json:"customerId,omitempty"`
	LineItems   []LineItem `json:"lineItems"`
}
