package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// SellingPrice вычисляет цену варианта после скидки: base * (1 - discount/100).
func SellingPrice(base, discountPercent decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Sub(discountPercent.Div(hundred)))
}

// ToMinorUnits переводит сумму в минимальные единицы валюты (копейки, кобо) с округлением.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits выполняет обратное преобразование.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
