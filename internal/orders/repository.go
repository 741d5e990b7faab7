package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/marbleflow/internal/domain"
	"github.com/joao-fontenele/marbleflow/internal/postgres"
)

const orderColumns = `
	id, order_number,
	customer_name, email, phone, address_line, city, region, country, postal_code,
	total_amount, deposit_percentage, deposit_amount, discount_code, discount_amount,
	payment_method, status,
	deposit_proof_type, deposit_transaction_id, deposit_receipt_path,
	deposit_proof_submitted_at, deposit_verified, deposit_verified_at,
	balance_proof_type, balance_transaction_id, balance_receipt_path,
	balance_proof_submitted_at, balance_verified, balance_verified_at,
	cancellation_reason, refunded, refunded_amount, refunded_at,
	created_at, in_production_at, awaiting_balance_at, shipped_at, cancelled_at,
	version`

type OrderRepository struct {
	db *postgres.DB
}

func NewOrderRepository(db *postgres.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ErrDuplicateOrderNumber reports an insert that lost the race for an
// order number. The violation aborts the surrounding transaction, so
// the caller must regenerate the number and retry in a fresh one.
var ErrDuplicateOrderNumber = errors.New("order number already exists")

// Create inserts the order and its items.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	q := r.db.Q(ctx)
	rec := order.Record()

	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_number,
			customer_name, email, phone, address_line, city, region, country, postal_code,
			total_amount, deposit_percentage, deposit_amount, discount_code, discount_amount,
			payment_method, status,
			deposit_proof_type, balance_proof_type,
			refunded_amount, created_at, version
		) VALUES (
			$1,
			$2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16,
			$17, $18,
			$19, $20, $21
		)
		RETURNING id
	`,
		rec.Number,
		rec.Customer.Name, rec.Customer.Email, rec.Customer.Phone,
		rec.Customer.AddressLine, rec.Customer.City, rec.Customer.Region,
		rec.Customer.Country, rec.Customer.PostalCode,
		rec.TotalAmount, rec.DepositPercentage, rec.DepositAmount,
		rec.DiscountCode, rec.DiscountAmount,
		rec.PaymentMethod, rec.Status,
		rec.DepositProof.Type, rec.BalanceProof.Type,
		rec.RefundedAmount, rec.CreatedAt, rec.Version,
	).Scan(&id)
	if err != nil {
		if postgres.IsUniqueViolation(err, "orders_order_number_key") {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}
	order.Bind(id)

	for _, item := range rec.Items {
		var productID sql.NullInt64
		if item.ProductID != nil {
			productID = sql.NullInt64{Int64: *item.ProductID, Valid: true}
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, image_url, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, productID, item.Name, item.ImageURL, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// GetByID loads the order with its items, or nil when absent.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.getWhere(ctx, "id = $1", id)
}

// GetByNumber loads the order by its public tracking number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getWhere(ctx, "order_number = $1", number)
}

func (r *OrderRepository) getWhere(ctx context.Context, where string, arg any) (*domain.Order, error) {
	q := r.db.Q(ctx)

	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	rec, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, q, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Items = items

	return domain.OrderFromRecord(*rec), nil
}

// Update writes the full mutable state back, guarded by the version
// column. A stale version surfaces as domain.ErrConflict so concurrent
// admin actions cannot silently overwrite one another.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	q := r.db.Q(ctx)
	rec := order.Record()

	result, err := q.ExecContext(ctx, `
		UPDATE orders SET
			deposit_amount = $1,
			payment_method = $2,
			status = $3,
			deposit_proof_type = $4, deposit_transaction_id = $5, deposit_receipt_path = $6,
			deposit_proof_submitted_at = $7, deposit_verified = $8, deposit_verified_at = $9,
			balance_proof_type = $10, balance_transaction_id = $11, balance_receipt_path = $12,
			balance_proof_submitted_at = $13, balance_verified = $14, balance_verified_at = $15,
			cancellation_reason = $16, refunded = $17, refunded_amount = $18, refunded_at = $19,
			in_production_at = $20, awaiting_balance_at = $21, shipped_at = $22, cancelled_at = $23,
			version = version + 1
		WHERE id = $24 AND version = $25
	`,
		rec.DepositAmount,
		rec.PaymentMethod,
		rec.Status,
		rec.DepositProof.Type, rec.DepositProof.TransactionID, rec.DepositProof.ReceiptPath,
		nullTime(rec.DepositProof.SubmittedAt), rec.DepositProof.Verified, nullTime(rec.DepositProof.VerifiedAt),
		rec.BalanceProof.Type, rec.BalanceProof.TransactionID, rec.BalanceProof.ReceiptPath,
		nullTime(rec.BalanceProof.SubmittedAt), rec.BalanceProof.Verified, nullTime(rec.BalanceProof.VerifiedAt),
		rec.CancellationReason, rec.Refunded, rec.RefundedAmount, nullTime(rec.RefundedAt),
		nullTime(rec.InProductionAt), nullTime(rec.AwaitingBalanceAt), nullTime(rec.ShippedAt), nullTime(rec.CancelledAt),
		rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, rec.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if exists {
			return domain.ErrConflict
		}
		return domain.ErrNotFound
	}

	order.SetVersion(rec.Version + 1)
	return nil
}

// ListFilter narrows the admin order listing.
type ListFilter struct {
	Status *domain.OrderStatus
	Search string
	Limit  int
	Offset int
}

// List returns orders newest first, items included, filtered by status
// and/or a search over order number and customer email.
func (r *OrderRepository) List(ctx context.Context, filter ListFilter) ([]*domain.Order, error) {
	q := r.db.Q(ctx)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (order_number ILIKE $%d OR email ILIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recMap := make(map[int64]*domain.OrderRecord)
	var ids []int64
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		rec.Items = []domain.OrderItem{}
		recMap[rec.ID] = rec
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.Order{}, nil
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, image_url, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID int64
		item, err := scanItem(itemRows, &orderID)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		rec := recMap[orderID]
		rec.Items = append(rec.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	orders := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, domain.OrderFromRecord(*recMap[id]))
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, q postgres.Querier, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, image_url, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var ignored int64
		item, err := scanItem(rows, &ignored)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.OrderRecord, error) {
	var (
		rec               domain.OrderRecord
		depositSubmitted  sql.NullTime
		depositVerifiedAt sql.NullTime
		balanceSubmitted  sql.NullTime
		balanceVerifiedAt sql.NullTime
		refundedAt        sql.NullTime
		inProductionAt    sql.NullTime
		awaitingBalanceAt sql.NullTime
		shippedAt         sql.NullTime
		cancelledAt       sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.Number,
		&rec.Customer.Name, &rec.Customer.Email, &rec.Customer.Phone,
		&rec.Customer.AddressLine, &rec.Customer.City, &rec.Customer.Region,
		&rec.Customer.Country, &rec.Customer.PostalCode,
		&rec.TotalAmount, &rec.DepositPercentage, &rec.DepositAmount,
		&rec.DiscountCode, &rec.DiscountAmount,
		&rec.PaymentMethod, &rec.Status,
		&rec.DepositProof.Type, &rec.DepositProof.TransactionID, &rec.DepositProof.ReceiptPath,
		&depositSubmitted, &rec.DepositProof.Verified, &depositVerifiedAt,
		&rec.BalanceProof.Type, &rec.BalanceProof.TransactionID, &rec.BalanceProof.ReceiptPath,
		&balanceSubmitted, &rec.BalanceProof.Verified, &balanceVerifiedAt,
		&rec.CancellationReason, &rec.Refunded, &rec.RefundedAmount, &refundedAt,
		&rec.CreatedAt, &inProductionAt, &awaitingBalanceAt, &shippedAt, &cancelledAt,
		&rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.DepositProof.SubmittedAt = timePtr(depositSubmitted)
	rec.DepositProof.VerifiedAt = timePtr(depositVerifiedAt)
	rec.BalanceProof.SubmittedAt = timePtr(balanceSubmitted)
	rec.BalanceProof.VerifiedAt = timePtr(balanceVerifiedAt)
	rec.RefundedAt = timePtr(refundedAt)
	rec.InProductionAt = timePtr(inProductionAt)
	rec.AwaitingBalanceAt = timePtr(awaitingBalanceAt)
	rec.ShippedAt = timePtr(shippedAt)
	rec.CancelledAt = timePtr(cancelledAt)

	return &rec, nil
}

func scanItem(row rowScanner, orderID *int64) (domain.OrderItem, error) {
	var (
		item      domain.OrderItem
		productID sql.NullInt64
	)
	err := row.Scan(orderID, &item.ID, &productID, &item.Name, &item.ImageURL, &item.Quantity, &item.UnitPrice)
	if err != nil {
		return item, err
	}
	if productID.Valid {
		item.ProductID = &productID.Int64
	}
	return item, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
