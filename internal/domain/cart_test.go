package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func decP(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d := dec(t, s)
	return &d
}

func TestCart_Totals(t *testing.T) {
	t.Run("subtotal sums line totals", func(t *testing.T) {
		cart := testCart(t)
		cart.AddItem(CartItem{Name: "Custom slab", UnitPrice: dec(t, "250.50"), Quantity: 1})

		if !cart.Subtotal().Equal(dec(t, "1250.50")) {
			t.Errorf("expected subtotal 1250.50, got %s", cart.Subtotal())
		}
	})

	t.Run("total floors at zero", func(t *testing.T) {
		cart := testCart(t)
		cart.DiscountAmount = dec(t, "5000")

		if !cart.Total().IsZero() {
			t.Errorf("expected total 0, got %s", cart.Total())
		}
	})
}

func TestCart_Coupons(t *testing.T) {
	t.Run("percentage coupon recomputed when items change", func(t *testing.T) {
		cart := testCart(t)
		cart.ApplyCoupon(&Coupon{Code: "SPRING10", DiscountPercentage: decP(t, "10"), Active: true})

		if !cart.DiscountAmount.Equal(dec(t, "100")) {
			t.Fatalf("expected discount 100, got %s", cart.DiscountAmount)
		}

		cart.AddItem(CartItem{Name: "Custom slab", UnitPrice: dec(t, "500"), Quantity: 1})

		if !cart.DiscountAmount.Equal(dec(t, "150")) {
			t.Errorf("expected discount 150 after item added, got %s", cart.DiscountAmount)
		}
	})

	t.Run("fixed coupon keeps value but is capped", func(t *testing.T) {
		cart := testCart(t)
		coasterID := int64(8)
		cart.AddItem(CartItem{ProductID: &coasterID, Name: "Small coaster", UnitPrice: dec(t, "50"), Quantity: 1})
		cart.ApplyCoupon(&Coupon{Code: "FLAT200", DiscountAmount: decP(t, "200"), Active: true})

		if !cart.DiscountAmount.Equal(dec(t, "200")) {
			t.Fatalf("expected discount 200, got %s", cart.DiscountAmount)
		}

		cart.RemoveItem(7)

		if !cart.DiscountAmount.Equal(dec(t, "50")) {
			t.Errorf("expected discount capped at 50, got %s", cart.DiscountAmount)
		}
	})

	t.Run("removing the coupon clears the discount", func(t *testing.T) {
		cart := testCart(t)
		cart.ApplyCoupon(&Coupon{Code: "SPRING10", DiscountPercentage: decP(t, "10"), Active: true})
		cart.RemoveCoupon()

		if cart.CouponCode != "" || !cart.DiscountAmount.IsZero() {
			t.Errorf("coupon not fully removed: %q %s", cart.CouponCode, cart.DiscountAmount)
		}
	})
}

func TestCart_Items(t *testing.T) {
	t.Run("adding the same product merges quantities", func(t *testing.T) {
		cart := testCart(t)
		productID := int64(7)
		cart.AddItem(CartItem{ProductID: &productID, Name: "Carrara coffee table", UnitPrice: dec(t, "500"), Quantity: 3})

		if len(cart.Items) != 1 {
			t.Fatalf("expected 1 line, got %d", len(cart.Items))
		}
		if cart.Items[0].Quantity != 5 {
			t.Errorf("expected quantity 5, got %d", cart.Items[0].Quantity)
		}
	})

	t.Run("items without product id never merge", func(t *testing.T) {
		cart := &Cart{}
		cart.AddItem(CartItem{Name: "Custom piece", UnitPrice: dec(t, "100"), Quantity: 1})
		cart.AddItem(CartItem{Name: "Custom piece", UnitPrice: dec(t, "100"), Quantity: 1})

		if len(cart.Items) != 2 {
			t.Errorf("expected 2 lines, got %d", len(cart.Items))
		}
	})

	t.Run("removing a product drops its line", func(t *testing.T) {
		cart := testCart(t)
		cart.RemoveItem(7)

		if len(cart.Items) != 0 {
			t.Errorf("expected empty cart, got %d lines", len(cart.Items))
		}
	})
}

func TestCoupon_Valid(t *testing.T) {
	limit := 5
	expired := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	tests := []struct {
		name   string
		coupon Coupon
		want   bool
	}{
		{"active without constraints", Coupon{Active: true}, true},
		{"inactive", Coupon{Active: false}, false},
		{"expired", Coupon{Active: true, ExpiresAt: &expired}, false},
		{"not yet expired", Coupon{Active: true, ExpiresAt: &future}, true},
		{"under usage limit", Coupon{Active: true, UsageLimit: &limit, TimesUsed: 4}, true},
		{"at usage limit", Coupon{Active: true, UsageLimit: &limit, TimesUsed: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.coupon.Valid(testNow); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
