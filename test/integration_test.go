//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/marbleflow/internal/coupons"
	"github.com/joao-fontenele/marbleflow/internal/domain"
	"github.com/joao-fontenele/marbleflow/internal/inventory"
	"github.com/joao-fontenele/marbleflow/internal/messaging"
	"github.com/joao-fontenele/marbleflow/internal/notifications"
	"github.com/joao-fontenele/marbleflow/internal/orders"
	"github.com/joao-fontenele/marbleflow/internal/postgres"
	"github.com/joao-fontenele/marbleflow/internal/settings"
	"github.com/joao-fontenele/marbleflow/internal/storage"
)

type env struct {
	db      *postgres.DB
	service *orders.Service
	orders  *orders.OrderRepository
	stock   *inventory.ProductRepository
}

func newEnv(t *testing.T, pg *PostgresSetup) *env {
	t.Helper()

	sqlDB := OpenDB(t, pg.ConnStr)
	db := postgres.NewDB(sqlDB)

	fileStore, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	orderRepo := orders.NewOrderRepository(db)
	productRepo := inventory.NewProductRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := orders.NewService(
		db,
		orderRepo,
		productRepo,
		coupons.NewCouponRepository(db),
		settings.NewSettingsRepository(db),
		fileStore,
		nil,
		logger,
	)

	return &env{db: db, service: service, orders: orderRepo, stock: productRepo}
}

// seedCatalog inserts one product plus a percentage coupon and points
// the site settings at a 30% deposit.
func seedCatalog(ctx context.Context, t *testing.T, db *postgres.DB) int64 {
	t.Helper()

	var productID int64
	err := db.Q(ctx).QueryRowContext(ctx,
		`INSERT INTO products (name, unit_price, stock_quantity) VALUES ('Carrara coffee table', 500, 10) RETURNING id`,
	).Scan(&productID)
	if err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}

	if _, err := db.Q(ctx).ExecContext(ctx,
		`INSERT INTO coupons (code, discount_percentage, active) VALUES ('SPRING10', 10, TRUE)`,
	); err != nil {
		t.Fatalf("failed to seed coupon: %v", err)
	}

	if _, err := db.Q(ctx).ExecContext(ctx,
		`UPDATE site_settings SET deposit_percentage = 30, shipping_cost = 75, bank_transfer_account = 'EG12 0003 4567' WHERE id = 1`,
	); err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}

	return productID
}

func placeOrder(ctx context.Context, t *testing.T, e *env, productID int64, couponCode string) *domain.Order {
	t.Helper()

	cart := &domain.Cart{CouponCode: couponCode}
	cart.AddItem(domain.CartItem{
		ProductID: &productID,
		Name:      "Carrara coffee table",
		UnitPrice: decimal.NewFromInt(500),
		Quantity:  2,
	})

	order, err := e.service.CreateOrder(ctx, domain.CustomerInfo{
		Name:        "Lina Haddad",
		Email:       "lina@example.com",
		Phone:       "+20 100 000 0000",
		AddressLine: "12 Corniche St",
		City:        "Alexandria",
		Country:     "EG",
	}, cart)
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	return order
}

func TestOrderLifecycleFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	e := newEnv(t, pg)
	productID := seedCatalog(ctx, t, e.db)

	order := placeOrder(ctx, t, e, productID, "SPRING10")

	if !order.TotalAmount().Equal(decimal.NewFromInt(900)) {
		t.Errorf("expected total 900 after coupon, got %s", order.TotalAmount())
	}
	if !order.DepositAmount().Equal(decimal.NewFromInt(270)) {
		t.Errorf("expected deposit 270 at 30%%, got %s", order.DepositAmount())
	}

	stock, err := e.stock.GetStock(ctx, productID)
	if err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	if stock != 8 {
		t.Errorf("expected stock 8 after checkout, got %d", stock)
	}

	var timesUsed int
	if err := e.db.Q(ctx).QueryRowContext(ctx,
		`SELECT times_used FROM coupons WHERE code = 'SPRING10'`,
	).Scan(&timesUsed); err != nil {
		t.Fatalf("failed to read coupon usage: %v", err)
	}
	if timesUsed != 1 {
		t.Errorf("expected coupon used once, got %d", timesUsed)
	}

	// Customer pays the deposit, admin verifies it.
	if _, err := e.service.SubmitPaymentProof(ctx, order.Number(), "TXN-12345"); err != nil {
		t.Fatalf("failed to submit payment proof: %v", err)
	}
	verified, err := e.service.VerifyDeposit(ctx, order.ID())
	if err != nil {
		t.Fatalf("failed to verify deposit: %v", err)
	}
	if verified.Status() != domain.StatusInProduction {
		t.Fatalf("expected status in_production, got %s", verified.Status())
	}

	// Production finishes, the balance is requested, paid, and verified.
	if _, err := e.service.UpdateOrderStatus(ctx, order.ID(), domain.StatusAwaitingBalance); err != nil {
		t.Fatalf("failed to move to awaiting_balance: %v", err)
	}
	if _, err := e.service.SubmitBalanceProof(ctx, order.Number(), "TXN-67890"); err != nil {
		t.Fatalf("failed to submit balance proof: %v", err)
	}
	shipped, err := e.service.VerifyBalance(ctx, order.ID())
	if err != nil {
		t.Fatalf("failed to verify balance: %v", err)
	}
	if shipped.Status() != domain.StatusShipped {
		t.Fatalf("expected status shipped, got %s", shipped.Status())
	}

	// Everything above must have been persisted, not just mutated in
	// memory.
	reloaded, err := e.service.GetOrderByNumber(ctx, order.Number())
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if reloaded.Status() != domain.StatusShipped {
		t.Errorf("expected persisted status shipped, got %s", reloaded.Status())
	}
	if reloaded.DepositProof().TransactionID() != "TXN-12345" || reloaded.BalanceProof().TransactionID() != "TXN-67890" {
		t.Errorf("payment proofs not persisted: %q / %q",
			reloaded.DepositProof().TransactionID(), reloaded.BalanceProof().TransactionID())
	}
	if reloaded.ShippedAt() == nil {
		t.Error("expected shipped timestamp to be set")
	}
	if len(reloaded.Items()) != 1 || reloaded.Items()[0].Quantity != 2 {
		t.Errorf("order items not persisted correctly: %+v", reloaded.Items())
	}
}

func TestCancellationReversesSideEffects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	e := newEnv(t, pg)
	productID := seedCatalog(ctx, t, e.db)

	order := placeOrder(ctx, t, e, productID, "SPRING10")

	cancelled, err := e.service.CancelOrder(ctx, order.ID(), "customer changed their mind", true, nil)
	if err != nil {
		t.Fatalf("failed to cancel order: %v", err)
	}
	if cancelled.Status() != domain.StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", cancelled.Status())
	}
	if !cancelled.Refunded() {
		t.Error("expected refund to be recorded")
	}

	stock, err := e.stock.GetStock(ctx, productID)
	if err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	if stock != 10 {
		t.Errorf("expected stock restored to 10, got %d", stock)
	}

	var timesUsed int
	if err := e.db.Q(ctx).QueryRowContext(ctx,
		`SELECT times_used FROM coupons WHERE code = 'SPRING10'`,
	).Scan(&timesUsed); err != nil {
		t.Fatalf("failed to read coupon usage: %v", err)
	}
	if timesUsed != 0 {
		t.Errorf("expected coupon usage released, got %d", timesUsed)
	}
}

func TestConcurrentUpdateConflict(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	e := newEnv(t, pg)
	productID := seedCatalog(ctx, t, e.db)

	order := placeOrder(ctx, t, e, productID, "")

	first, err := e.orders.GetByID(ctx, order.ID())
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	second, err := e.orders.GetByID(ctx, order.ID())
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}

	now := time.Now().UTC()
	if err := first.SetPaymentProof("TXN-FIRST", domain.ProofTransactionID, now); err != nil {
		t.Fatalf("failed to set proof: %v", err)
	}
	if err := second.SetPaymentProof("TXN-SECOND", domain.ProofTransactionID, now); err != nil {
		t.Fatalf("failed to set proof: %v", err)
	}

	if err := e.orders.Update(ctx, first); err != nil {
		t.Fatalf("first update should win: %v", err)
	}
	if err := e.orders.Update(ctx, second); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for stale update, got %v", err)
	}
}

func TestLifecycleEventsOverKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers, notifications.Topic)
	defer func() { _ = producer.Close() }()

	sender := notifications.NewKafkaSender(producer)
	event := domain.LifecycleEvent{
		OrderID:       1,
		OrderNumber:   "M-20260901-AB12",
		CustomerName:  "Lina Haddad",
		Email:         "lina@example.com",
		PaymentMethod: domain.PaymentCashOnDelivery,
		TotalAmount:   decimal.NewFromInt(900),
		DepositAmount: decimal.NewFromInt(270),
		Timestamp:     time.Now().UTC(),
	}
	if err := sender.SendOrderConfirmation(ctx, event); err != nil {
		t.Fatalf("failed to publish event: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, notifications.Topic, "integration-test",
		messaging.WithStartOffset(segmentio.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		once     sync.Once
		received domain.LifecycleEvent
	)
	err := consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
		var got domain.LifecycleEvent
		if err := json.Unmarshal(payload, &got); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		once.Do(func() {
			received = got
			stop()
		})
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("consume failed: %v", err)
	}

	if received.Kind != domain.EventOrderConfirmation {
		t.Errorf("expected kind order_confirmation, got %q", received.Kind)
	}
	if received.OrderNumber != "M-20260901-AB12" {
		t.Errorf("expected order number to round-trip, got %q", received.OrderNumber)
	}
	if !received.TotalAmount.Equal(decimal.NewFromInt(900)) {
		t.Errorf("expected total to round-trip, got %s", received.TotalAmount)
	}
}
