package domain

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/marbleflow/internal/pricing"
)

// CartItem is one line of a shopping cart. ProductID is nil for items
// whose product has since been deleted from the catalog.
type CartItem struct {
	ProductID *int64
	Name      string
	ImageURL  string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total is the line total at current quantity.
func (i CartItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the ephemeral, session-scoped shopping cart an order is built
// from. Subtotal and Total are always derived, never stored.
type Cart struct {
	Items            []CartItem
	CouponCode       string
	CouponPercentage *decimal.Decimal
	DiscountAmount   decimal.Decimal
}

// Subtotal sums all line totals.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.Total())
	}
	return sum
}

// Total is the subtotal minus the discount, floored at zero.
func (c *Cart) Total() decimal.Decimal {
	total := c.Subtotal().Sub(c.DiscountAmount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// ApplyCoupon attaches a coupon to the cart and computes the discount
// from the current subtotal. Validity is the caller's concern.
func (c *Cart) ApplyCoupon(coupon *Coupon) {
	c.CouponCode = coupon.Code
	c.CouponPercentage = coupon.DiscountPercentage
	c.DiscountAmount = pricing.Discount(c.Subtotal(), coupon.DiscountPercentage, coupon.DiscountAmount)
}

// RemoveCoupon clears any applied coupon and its discount.
func (c *Cart) RemoveCoupon() {
	c.CouponCode = ""
	c.CouponPercentage = nil
	c.DiscountAmount = decimal.Zero
}

// Recalculate refreshes the discount after the item set changed. A
// percentage coupon is recomputed from the new subtotal; a fixed-amount
// discount keeps its value except for the subtotal cap.
func (c *Cart) Recalculate() {
	if c.CouponCode == "" {
		c.DiscountAmount = decimal.Zero
		return
	}
	if c.CouponPercentage != nil {
		c.DiscountAmount = pricing.Discount(c.Subtotal(), c.CouponPercentage, nil)
		return
	}
	c.DiscountAmount = pricing.CapAtSubtotal(c.DiscountAmount, c.Subtotal())
}

// AddItem adds quantity to an existing line or appends a new one, then
// recalculates the discount.
func (c *Cart) AddItem(item CartItem) {
	for i := range c.Items {
		if item.ProductID != nil && c.Items[i].ProductID != nil && *c.Items[i].ProductID == *item.ProductID {
			c.Items[i].Quantity += item.Quantity
			c.Recalculate()
			return
		}
	}
	c.Items = append(c.Items, item)
	c.Recalculate()
}

// RemoveItem drops the line for a product id and recalculates.
func (c *Cart) RemoveItem(productID int64) {
	for i := range c.Items {
		if c.Items[i].ProductID != nil && *c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.Recalculate()
			return
		}
	}
}
