package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entry orders snapshot their lines from. Stock
// may go negative: the shop accepts backorders rather than blocking
// checkout.
type Product struct {
	ID            int64
	Name          string
	ImageURL      string
	UnitPrice     decimal.Decimal
	StockQuantity int
	CreatedAt     time.Time
}
