package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon grants either a percentage discount or a fixed amount, never
// both. The data layer enforces the exclusivity and the value ranges.
type Coupon struct {
	ID                 int64
	Code               string
	DiscountPercentage *decimal.Decimal
	DiscountAmount     *decimal.Decimal
	ExpiresAt          *time.Time
	Active             bool
	UsageLimit         *int
	TimesUsed          int
}

// Valid reports whether the coupon can be applied at the given instant:
// active, not expired, and under its usage limit.
func (c *Coupon) Valid(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return false
	}
	if c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit {
		return false
	}
	return true
}
