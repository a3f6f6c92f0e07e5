// Package pricing содержит чистую арифметику корзины: сумма позиций, процентная скидка, итог.
//
// Все вычисления идут в decimal; округление до копеек (half-up) выполняется один раз,
// на сумме скидки, чтобы не накапливать ошибку на промежуточных шагах.
package pricing

import (
	"marketmesh/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits задаёт число знаков после запятой у валюты.
const MinorUnits = 2

// ValidPercent сообщает, лежит ли процент скидки в [0, 100].
func ValidPercent(percent float64) bool {
	return percent >= 0 && percent <= 100
}

// ApplyPercent возвращает скидку и итог для subtotal >= 0 и percent из [0, 100].
// Значения вне диапазонов приводятся к границам, поэтому итог никогда не отрицателен.
func ApplyPercent(subtotal, percent float64) (discount, total float64) {
	d, t := applyPercent(decimal.NewFromFloat(subtotal), percent)
	return d.InexactFloat64(), t.InexactFloat64()
}

func applyPercent(subtotal decimal.Decimal, percent float64) (decimal.Decimal, decimal.Decimal) {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	p := decimal.NewFromFloat(percent)
	if p.IsNegative() {
		p = decimal.Zero
	}
	if p.GreaterThan(hundred) {
		p = hundred
	}

	discount := subtotal.Mul(p).Div(hundred).Round(MinorUnits)
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return discount, total
}

// LineTotal считает стоимость позиции price * quantity.
func LineTotal(unitPrice float64, quantity int) float64 {
	return lineTotal(unitPrice, quantity).InexactFloat64()
}

func lineTotal(unitPrice float64, quantity int) decimal.Decimal {
	if quantity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
}

// CartTotals выводит subtotal/discount/total из позиций корзины и применённого промокода.
func CartTotals(lines []models.CartLine, promo *models.AppliedPromo) models.CartTotals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(lineTotal(line.Product.Price, line.Quantity))
	}
	return totals(subtotal, promo)
}

// OrderTotals делает то же для позиций заказа и проставляет TotalPrice каждой позиции.
func OrderTotals(items []models.OrderItem, promo *models.AppliedPromo) models.CartTotals {
	subtotal := decimal.Zero
	for i := range items {
		lt := lineTotal(items[i].UnitPrice, items[i].Quantity)
		items[i].TotalPrice = lt.InexactFloat64()
		subtotal = subtotal.Add(lt)
	}
	return totals(subtotal, promo)
}

func totals(subtotal decimal.Decimal, promo *models.AppliedPromo) models.CartTotals {
	if promo == nil {
		return models.CartTotals{
			Subtotal: subtotal.InexactFloat64(),
			Total:    subtotal.InexactFloat64(),
		}
	}
	discount, total := applyPercent(subtotal, promo.DiscountPercent)
	return models.CartTotals{
		Subtotal: subtotal.InexactFloat64(),
		Discount: discount.InexactFloat64(),
		Total:    total.InexactFloat64(),
	}
}
