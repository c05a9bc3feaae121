package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/money"
)

const (
	DefaultDeliveryFee = 150
	DefaultTaxRate     = 0.18
)

// Pricing holds the fee and VAT applied on top of the cart subtotal.
type Pricing struct {
	DeliveryFee decimal.Decimal
	TaxRate     decimal.Decimal
}

// DefaultPricing is a flat delivery fee and 18% tax.
func DefaultPricing() Pricing {
	return Pricing{
		DeliveryFee: decimal.NewFromInt(DefaultDeliveryFee),
		TaxRate:     decimal.NewFromFloat(DefaultTaxRate),
	}
}

// Totals is what the review step shows and what the order records.
type Totals struct {
	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"deliveryFee"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
}

// Compute derives the totals. Tax is rounded to whole units, half away
// from zero; the delivery fee only applies to home delivery.
func (p Pricing) Compute(items []domain.CartItem, method domain.DeliveryMethod) Totals {
	subtotal := money.Sum(items)
	fee := decimal.Zero
	if method == domain.DeliveryMethodDelivery {
		fee = p.DeliveryFee
	}
	tax := money.Percent(subtotal, p.TaxRate)

	return Totals{
		Subtotal:    money.Float(subtotal),
		DeliveryFee: money.Float(fee),
		Tax:         money.Float(tax),
		Total:       money.Float(subtotal.Add(fee).Add(tax)),
	}
}
