// Package pricing holds the pure money arithmetic shared by carts and
// orders: discount computation, the subtotal cap, and deposit amounts.
// Everything rounds to two decimal places, the precision money is stored
// at.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Discount computes the discount a coupon grants on a subtotal. A
// percentage takes precedence over a fixed amount; a nil pair yields
// zero. The result is capped at the subtotal so the cart total can never
// go negative.
func Discount(subtotal decimal.Decimal, percentage, fixed *decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch {
	case percentage != nil:
		amount = subtotal.Mul(*percentage).Div(hundred).Round(2)
	case fixed != nil:
		amount = *fixed
	default:
		return decimal.Zero
	}
	return CapAtSubtotal(amount, subtotal)
}

// CapAtSubtotal clamps a discount into [0, subtotal].
func CapAtSubtotal(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}

// Deposit computes the upfront deposit for a total at the given
// percentage, rounded to currency precision.
func Deposit(total, percentage decimal.Decimal) decimal.Decimal {
	return total.Mul(percentage).Div(hundred).Round(2)
}
