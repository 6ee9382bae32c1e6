package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/vendormarket/internal/domain"
)

// Totals — итоговые суммы заказа.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
}

// ComputeTotals считает налог от суммы после скидки:
// tax = max(0, subtotal - discount) * taxRate, total = subtotal - discount + tax.
// Скидка ограничивается диапазоном [0, subtotal], отрицательная ставка считается нулевой.
func ComputeTotals(items []domain.OrderLineItem, discount, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}

	discount = decimal.Max(discount, decimal.Zero)
	discount = decimal.Min(discount, subtotal)
	taxRate = decimal.Max(taxRate, decimal.Zero)

	taxable := decimal.Max(subtotal.Sub(discount), decimal.Zero)
	tax := taxable.Mul(taxRate)

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    subtotal.Sub(discount).Add(tax),
	}
}
