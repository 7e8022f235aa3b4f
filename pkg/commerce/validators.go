package commerce

import "strings"

// OfferingNameAttribute names the variant attribute used as the remote
// rate plan and price name.
const OfferingNameAttribute = "offeringName"

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ValidProduct reports whether p can be synced: it needs an id, a name and
// description in locale, and at least one variant with a SKU.
func ValidProduct(p *ProductProjection, locale string) bool {
	if p == nil || blank(p.ID) {
		return false
	}
	if blank(p.Name.Get(locale)) || blank(p.Description.Get(locale)) {
		return false
	}
	for _, v := range p.AllVariants() {
		if !blank(v.SKU) {
			return true
		}
	}
	return false
}

// ValidCustomer reports whether c can be signed up as a billing account.
func ValidCustomer(c *Customer) bool {
	if c == nil {
		return false
	}
	return !blank(c.ID) && !blank(c.Email) && !blank(c.FirstName) && !blank(c.LastName)
}

// ValidOrder reports whether o can be submitted as a billing order: it needs
// an id, a customer and at least one line item, each with a variant SKU.
func ValidOrder(o *Order) bool {
	if o == nil || blank(o.ID) || blank(o.CustomerID) || len(o.LineItems) == 0 {
		return false
	}
	for _, li := range o.LineItems {
		if blank(li.Variant.SKU) {
			return false
		}
	}
	return true
}
