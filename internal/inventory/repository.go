// Package inventory adjusts product stock counters. Checkout decrements
// and cancellation increments; there is no reservation model, and stock
// is allowed to go negative (backorders).
package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joao-fontenele/marbleflow/internal/domain"
	"github.com/joao-fontenele/marbleflow/internal/postgres"
)

type ProductRepository struct {
	db *postgres.DB
}

func NewProductRepository(db *postgres.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// AdjustStock applies a signed delta to a product's stock counter and
// returns the new quantity. A deleted product reports
// domain.ErrNotFound; callers treat that as a skippable condition, not
// a failure.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID int64, delta int) (int, error) {
	var quantity int
	err := r.db.Q(ctx).QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2
		WHERE id = $1
		RETURNING stock_quantity
	`, productID, delta).Scan(&quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("adjust stock for product %d: %w", productID, err)
	}
	return quantity, nil
}

// GetStock reads the current counter.
func (r *ProductRepository) GetStock(ctx context.Context, productID int64) (int, error) {
	var quantity int
	err := r.db.Q(ctx).QueryRowContext(ctx, `
		SELECT stock_quantity FROM products WHERE id = $1
	`, productID).Scan(&quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("get stock for product %d: %w", productID, err)
	}
	return quantity, nil
}
