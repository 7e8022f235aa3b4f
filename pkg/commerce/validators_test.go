package commerce

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const testLocale = "en-US"

func validProduct() *ProductProjection {
	return &ProductProjection{
		ID:          "prod-1",
		Name:        LocalizedString{testLocale: "Widget"},
		Description: LocalizedString{testLocale: "A widget"},
		MasterVariant: ProductVariant{
			ID:  1,
			SKU: "ABC",
		},
	}
}

func TestValidProduct(t *testing.T) {
	assert.True(t, ValidProduct(validProduct(), testLocale))

	tests := map[string]func(p *ProductProjection){
		"missing id":           func(p *ProductProjection) { p.ID = "" },
		"missing name":         func(p *ProductProjection) { p.Name = nil },
		"name in other locale": func(p *ProductProjection) { p.Name = LocalizedString{"de-DE": "Ding"} },
		"blank description":    func(p *ProductProjection) { p.Description[testLocale] = "  " },
		"no sku":               func(p *ProductProjection) { p.MasterVariant.SKU = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := validProduct()
			mutate(p)
			assert.False(t, ValidProduct(p, testLocale))
		})
	}

	assert.False(t, ValidProduct(nil, testLocale))
}

func TestValidProduct_SKUOnVariantOnly(t *testing.T) {
	p := validProduct()
	p.MasterVariant.SKU = ""
	p.Variants = []ProductVariant{{ID: 2, SKU: "DEF"}}
	assert.True(t, ValidProduct(p, testLocale))
}

func TestValidCustomer(t *testing.T) {
	c := &Customer{ID: "c-1", Email: "a@example.com", FirstName: "Ada", LastName: "Lovelace"}
	assert.True(t, ValidCustomer(c))

	noEmail := *c
	noEmail.Email = ""
	assert.False(t, ValidCustomer(&noEmail))

	noLast := *c
	noLast.LastName = ""
	assert.False(t, ValidCustomer(&noLast))

	assert.False(t, ValidCustomer(nil))
}

func TestValidOrder(t *testing.T) {
	o := &Order{
		ID:         "o-1",
		CustomerID: "c-1",
		LineItems: []LineItem{
			{ID: "li-1", Variant: ProductVariant{SKU: "ABC"}},
		},
	}
	assert.True(t, ValidOrder(o))

	noItems := *o
	noItems.LineItems = nil
	assert.False(t, ValidOrder(&noItems))

	noCustomer := *o
	noCustomer.CustomerID = ""
	assert.False(t, ValidOrder(&noCustomer))

	noSKU := *o
	noSKU.LineItems = []LineItem{{ID: "li-1"}}
	assert.False(t, ValidOrder(&noSKU))
}

func TestProductProjection_AllVariants(t *testing.T) {
	p := validProduct()
	p.Variants = []ProductVariant{{ID: 2, SKU: "DEF"}, {ID: 3, SKU: "GHI"}}

	all := p.AllVariants()
	assert.Len(t, all, 3)
	assert.Equal(t, "ABC", all[2].SKU)
}

func TestMoney_Decimal(t *testing.T) {
	assert.True(t, decimal.RequireFromString("9.99").Equal(Money{CentAmount: 999, FractionDigits: 2}.Decimal()))
	assert.True(t, decimal.NewFromInt(500).Equal(Money{CentAmount: 500, FractionDigits: 0}.Decimal()))
	assert.Equal(t, "12.345", Money{CentAmount: 12345, FractionDigits: 3}.Decimal().String())
}

func TestAttribute_Text(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"Pro"`, "Pro", true},
		{`{"en-US":"Pro","de-DE":"Profi"}`, "Pro", true},
		{`{"key":"pro","label":"Pro plan"}`, "Pro plan", true},
		{`{"key":"pro","label":{"en-US":"Pro"}}`, "Pro", true},
		{`""`, "", false},
		{`42`, "", false},
	}
	for _, tt := range tests {
		got, ok := Attribute{Name: OfferingNameAttribute, Value: json.RawMessage(tt.raw)}.Text(testLocale)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
