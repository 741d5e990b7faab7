// Package coupons persists discount codes and their usage accounting.
package coupons

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/marbleflow/internal/domain"
	"github.com/joao-fontenele/marbleflow/internal/postgres"
)

type CouponRepository struct {
	db *postgres.DB
}

func NewCouponRepository(db *postgres.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// GetByCode loads a coupon, or nil when the code is unknown.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var (
		coupon     domain.Coupon
		pct        decimal.NullDecimal
		amount     decimal.NullDecimal
		expiresAt  sql.NullTime
		usageLimit sql.NullInt64
	)

	err := r.db.Q(ctx).QueryRowContext(ctx, `
		SELECT id, code, discount_percentage, discount_amount, expires_at, active, usage_limit, times_used
		FROM coupons
		WHERE code = $1
	`, code).Scan(&coupon.ID, &coupon.Code, &pct, &amount, &expiresAt, &coupon.Active, &usageLimit, &coupon.TimesUsed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select coupon %q: %w", code, err)
	}

	if pct.Valid {
		v := pct.Decimal
		coupon.DiscountPercentage = &v
	}
	if amount.Valid {
		v := amount.Decimal
		coupon.DiscountAmount = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		coupon.ExpiresAt = &t
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		coupon.UsageLimit = &limit
	}

	return &coupon, nil
}

// IncrementUsage counts one redemption of the code.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	_, err := r.db.Q(ctx).ExecContext(ctx, `
		UPDATE coupons SET times_used = times_used + 1 WHERE code = $1
	`, code)
	if err != nil {
		return fmt.Errorf("increment coupon usage %q: %w", code, err)
	}
	return nil
}

// DecrementUsage releases one redemption on cancellation, floored at
// zero.
func (r *CouponRepository) DecrementUsage(ctx context.Context, code string) error {
	_, err := r.db.Q(ctx).ExecContext(ctx, `
		UPDATE coupons SET times_used = GREATEST(times_used - 1, 0) WHERE code = $1
	`, code)
	if err != nil {
		return fmt.Errorf("decrement coupon usage %q: %w", code, err)
	}
	return nil
}
