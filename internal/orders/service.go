package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/marbleflow/internal/domain"
)

// OrderStore is the persistence surface the service needs. Satisfied by
// *OrderRepository; the tests plug in fakes.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
	List(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
}

type ProductStore interface {
	AdjustStock(ctx context.Context, productID int64, delta int) (int, error)
}

type CouponStore interface {
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
	DecrementUsage(ctx context.Context, code string) error
}

type SettingsStore interface {
	Get(ctx context.Context) (*domain.SiteSettings, error)
}

// FileStore persists uploaded payment receipts and streams them back
// for admin inspection.
type FileStore interface {
	Save(ctx context.Context, r io.Reader, filename string) (string, error)
	Open(rel string) (io.ReadCloser, error)
}

// NotificationSender publishes one lifecycle event per customer email
// flow. Implementations must be safe to call after the database commit;
// failures are logged, never surfaced to the caller.
type NotificationSender interface {
	SendOrderConfirmation(ctx context.Context, event domain.LifecycleEvent) error
	SendProofReceived(ctx context.Context, event domain.LifecycleEvent) error
	SendDepositVerified(ctx context.Context, event domain.LifecycleEvent) error
	SendAwaitingBalance(ctx context.Context, event domain.LifecycleEvent) error
	SendOrderShipped(ctx context.Context, event domain.LifecycleEvent) error
	SendOrderCancelled(ctx context.Context, event domain.LifecycleEvent) error
}

// TxRunner runs a function inside a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives the order lifecycle: checkout, payment verification,
// status transitions, cancellation, and refunds. State rules live on the
// aggregate; the service adds cross-aggregate coordination (stock,
// coupons, files, notifications) and transaction boundaries.
type Service struct {
	tx       TxRunner
	orders   OrderStore
	products ProductStore
	coupons  CouponStore
	settings SettingsStore
	files    FileStore
	notifier NotificationSender
	logger   *slog.Logger

	ordersCreated     metric.Int64Counter
	statusTransitions metric.Int64Counter
}

func NewService(
	tx TxRunner,
	orders OrderStore,
	products ProductStore,
	coupons CouponStore,
	settings SettingsStore,
	files FileStore,
	notifier NotificationSender,
	logger *slog.Logger,
) *Service {
	meter := otel.Meter("github.com/joao-fontenele/marbleflow/internal/orders")
	ordersCreated, _ := meter.Int64Counter("orders.created",
		metric.WithDescription("Number of orders placed"))
	statusTransitions, _ := meter.Int64Counter("orders.status.transitions",
		metric.WithDescription("Number of order status transitions"))

	return &Service{
		tx:                tx,
		orders:            orders,
		products:          products,
		coupons:           coupons,
		settings:          settings,
		files:             files,
		notifier:          notifier,
		logger:            logger,
		ordersCreated:     ordersCreated,
		statusTransitions: statusTransitions,
	}
}

// CreateOrder turns a guest submission and a cart into a persisted
// order. The coupon is re-validated against the database, stock is
// decremented, and the coupon usage counter is incremented, all in one
// transaction with the insert. Stock may go negative; that is a
// backorder, not an error.
func (s *Service) CreateOrder(ctx context.Context, customer domain.CustomerInfo, cart *domain.Cart) (*domain.Order, error) {
	now := time.Now().UTC()

	var coupon *domain.Coupon
	if cart.CouponCode != "" {
		c, err := s.coupons.GetByCode(ctx, cart.CouponCode)
		if err != nil {
			return nil, err
		}
		if c == nil || !c.Valid(now) {
			return nil, domain.ErrInvalidCoupon
		}
		coupon = c
		cart.ApplyCoupon(coupon)
	}
	cart.Recalculate()

	depositPct := domain.DefaultDepositPercentage
	siteSettings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if siteSettings != nil {
		depositPct = siteSettings.DepositPercentage
	}

	order, err := domain.NewOrder(customer, cart, depositPct, now)
	if err != nil {
		return nil, err
	}

	// A same-day order-number collision aborts the transaction; draw a
	// fresh number and retry with a new one.
	for attempt := 0; ; attempt++ {
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.orders.Create(ctx, order); err != nil {
				return err
			}
			if coupon != nil {
				if err := s.coupons.IncrementUsage(ctx, coupon.Code); err != nil {
					return err
				}
			}
			return s.adjustStockForItems(ctx, order, -1)
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateOrderNumber) && attempt < 3 {
			order.RegenerateNumber(time.Now().UTC())
			continue
		}
		return nil, err
	}

	s.ordersCreated.Add(ctx, 1)
	s.logger.Info("order created",
		"order_number", order.Number(),
		"total", order.TotalAmount(),
		"deposit", order.DepositAmount(),
		"items", len(order.Items()),
	)

	s.notify(ctx, s.senderFor(domain.EventOrderConfirmation), s.buildEvent(ctx, domain.EventOrderConfirmation, order))
	return order, nil
}

// SetPaymentMethod records the customer's choice on a pending order and
// re-sends the confirmation with the matching payment instructions.
func (s *Service) SetPaymentMethod(ctx context.Context, number string, method domain.PaymentMethod) (*domain.Order, error) {
	order, err := s.loadByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	if err := order.SetPaymentMethod(method); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("payment method set", "order_number", order.Number(), "method", method)
	s.notify(ctx, s.senderFor(domain.EventOrderConfirmation), s.buildEvent(ctx, domain.EventOrderConfirmation, order))
	return order, nil
}

// SubmitPaymentProof stores a bank/wallet transaction id as the deposit
// proof.
func (s *Service) SubmitPaymentProof(ctx context.Context, number, transactionID string) (*domain.Order, error) {
	return s.submitProof(ctx, number, transactionID, domain.ProofTransactionID, false)
}

// SubmitPaymentProofFile stores an uploaded receipt image as the deposit
// proof. The file is validated and written before the order row is
// touched.
func (s *Service) SubmitPaymentProofFile(ctx context.Context, number string, r io.Reader, filename string) (*domain.Order, error) {
	path, err := s.files.Save(ctx, r, filename)
	if err != nil {
		return nil, err
	}
	return s.submitProof(ctx, number, path, domain.ProofReceiptImage, false)
}

// SubmitBalanceProof stores a transaction id as the balance proof.
func (s *Service) SubmitBalanceProof(ctx context.Context, number, transactionID string) (*domain.Order, error) {
	return s.submitProof(ctx, number, transactionID, domain.ProofTransactionID, true)
}

// SubmitBalanceProofFile stores an uploaded receipt image as the balance
// proof.
func (s *Service) SubmitBalanceProofFile(ctx context.Context, number string, r io.Reader, filename string) (*domain.Order, error) {
	path, err := s.files.Save(ctx, r, filename)
	if err != nil {
		return nil, err
	}
	return s.submitProof(ctx, number, path, domain.ProofReceiptImage, true)
}

func (s *Service) submitProof(ctx context.Context, number, value string, kind domain.ProofType, balance bool) (*domain.Order, error) {
	order, err := s.loadByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	if balance {
		err = order.SetBalancePaymentProof(value, kind, time.Now().UTC())
	} else {
		err = order.SetPaymentProof(value, kind, time.Now().UTC())
	}
	if err != nil {
		return nil, err
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("payment proof submitted",
		"order_number", order.Number(),
		"proof_type", kind,
		"balance", balance,
	)
	s.notify(ctx, s.senderFor(domain.EventProofReceived), s.buildEvent(ctx, domain.EventProofReceived, order))
	return order, nil
}

// VerifyDeposit confirms the deposit payment and moves the order into
// production. Full-upfront orders have their balance verified in the
// same step.
func (s *Service) VerifyDeposit(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := order.VerifyDeposit(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order.Status())
	s.logger.Info("deposit verified", "order_number", order.Number(), "status", order.Status())
	s.notify(ctx, s.senderFor(domain.EventDepositVerified), s.buildEvent(ctx, domain.EventDepositVerified, order))
	return order, nil
}

// VerifyBalance confirms the balance payment and ships the order.
func (s *Service) VerifyBalance(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := order.VerifyBalance(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order.Status())
	s.logger.Info("balance verified", "order_number", order.Number(), "status", order.Status())
	s.notify(ctx, s.senderFor(domain.EventOrderShipped), s.buildEvent(ctx, domain.EventOrderShipped, order))
	return order, nil
}

// UpdateOrderStatus applies an admin-driven transition. Moving to
// awaiting_balance emails the customer a balance request; moving to
// shipped emails the shipping confirmation.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	if !domain.KnownStatus(status) {
		return nil, &domain.InvalidOperationError{Op: "set unknown status " + string(status), Status: status}
	}

	order, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := order.UpdateStatus(status, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order.Status())
	s.logger.Info("order status updated", "order_number", order.Number(), "status", order.Status())

	switch status {
	case domain.StatusAwaitingBalance:
		s.notify(ctx, s.senderFor(domain.EventAwaitingBalance), s.buildEvent(ctx, domain.EventAwaitingBalance, order))
	case domain.StatusShipped:
		s.notify(ctx, s.senderFor(domain.EventOrderShipped), s.buildEvent(ctx, domain.EventOrderShipped, order))
	}
	return order, nil
}

// CancelOrder cancels an order and reverses its side effects: stock is
// restored and the coupon redemption is released, in one transaction
// with the status write. When markRefunded is set the refund is
// recorded in the same step, at the operator-supplied amount or,
// absent one, the amount paid.
func (s *Service) CancelOrder(ctx context.Context, id int64, reason string, markRefunded bool, refundAmount *decimal.Decimal) (*domain.Order, error) {
	order, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var amount decimal.Decimal
	if markRefunded {
		if amount, err = s.refundAmountFor(order, refundAmount); err != nil {
			return nil, err
		}
	}

	if err := order.Cancel(reason, time.Now().UTC()); err != nil {
		return nil, err
	}

	if markRefunded {
		if err := order.MarkRefunded(amount, time.Now().UTC()); err != nil {
			s.logger.Warn("refund already recorded", "order_number", order.Number(), "error", err)
		}
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		if order.DiscountCode() != "" {
			if err := s.coupons.DecrementUsage(ctx, order.DiscountCode()); err != nil {
				return err
			}
		}
		return s.adjustStockForItems(ctx, order, +1)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, order.Status())
	s.logger.Info("order cancelled",
		"order_number", order.Number(),
		"reason", reason,
		"refunded", order.Refunded(),
	)
	s.notify(ctx, s.senderFor(domain.EventOrderCancelled), s.buildEvent(ctx, domain.EventOrderCancelled, order))
	return order, nil
}

// RefundOrder records a refund on an already-cancelled order. The
// operator may pass the exact amount returned (partial refunds are
// common for custom pieces); nil falls back to the amount paid.
func (s *Service) RefundOrder(ctx context.Context, id int64, amount *decimal.Decimal) (*domain.Order, error) {
	order, err := s.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status() != domain.StatusCancelled {
		return nil, &domain.InvalidOperationError{Op: "refund", Status: order.Status()}
	}
	refund, err := s.refundAmountFor(order, amount)
	if err != nil {
		return nil, err
	}
	if err := order.MarkRefunded(refund, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("order refunded", "order_number", order.Number(), "amount", order.RefundedAmount())
	return order, nil
}

func (s *Service) refundAmountFor(order *domain.Order, amount *decimal.Decimal) (decimal.Decimal, error) {
	if amount == nil {
		return order.AmountDue(), nil
	}
	if amount.IsNegative() {
		return decimal.Zero, &domain.InvalidOperationError{Op: "refund a negative amount", Status: order.Status()}
	}
	return *amount, nil
}

// OpenReceipt streams a stored payment receipt so admins can inspect
// the proof they are verifying.
func (s *Service) OpenReceipt(rel string) (io.ReadCloser, error) {
	return s.files.Open(rel)
}

func (s *Service) GetOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	return s.loadByID(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.loadByNumber(ctx, number)
}

func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]*domain.Order, error) {
	return s.orders.List(ctx, filter)
}

func (s *Service) loadByID(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) loadByNumber(ctx context.Context, number string) (*domain.Order, error) {
	order, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// adjustStockForItems applies sign×quantity to every line that still
// references a catalog product. A product deleted since the cart was
// built is skipped; going below zero is logged as a backorder.
func (s *Service) adjustStockForItems(ctx context.Context, order *domain.Order, sign int) error {
	for _, item := range order.Items() {
		if item.ProductID == nil {
			continue
		}
		remaining, err := s.products.AdjustStock(ctx, *item.ProductID, sign*item.Quantity)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("product missing during stock adjustment",
					"order_number", order.Number(),
					"product_id", *item.ProductID,
				)
				continue
			}
			return fmt.Errorf("adjust stock: %w", err)
		}
		if remaining < 0 {
			s.logger.Warn("product backordered",
				"order_number", order.Number(),
				"product_id", *item.ProductID,
				"stock", remaining,
			)
		}
	}
	return nil
}

func (s *Service) recordTransition(ctx context.Context, to domain.OrderStatus) {
	s.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.status", string(to)),
	))
}

func (s *Service) senderFor(kind domain.LifecycleEventKind) func(context.Context, domain.LifecycleEvent) error {
	if s.notifier == nil {
		return nil
	}
	switch kind {
	case domain.EventOrderConfirmation:
		return s.notifier.SendOrderConfirmation
	case domain.EventProofReceived:
		return s.notifier.SendProofReceived
	case domain.EventDepositVerified:
		return s.notifier.SendDepositVerified
	case domain.EventAwaitingBalance:
		return s.notifier.SendAwaitingBalance
	case domain.EventOrderShipped:
		return s.notifier.SendOrderShipped
	case domain.EventOrderCancelled:
		return s.notifier.SendOrderCancelled
	}
	return nil
}

// notify publishes a lifecycle event best-effort. The state change has
// already committed; a notification failure must never roll it back.
func (s *Service) notify(ctx context.Context, send func(context.Context, domain.LifecycleEvent) error, event domain.LifecycleEvent) {
	if send == nil {
		return
	}
	if err := send(ctx, event); err != nil {
		s.logger.Error("failed to publish lifecycle event",
			"error", err,
			"kind", event.Kind,
			"order_number", event.OrderNumber,
		)
	}
}

// buildEvent snapshots the order into the notification payload. Payment
// instructions and shipping cost come from the site settings; a settings
// read failure degrades to an event without them.
func (s *Service) buildEvent(ctx context.Context, kind domain.LifecycleEventKind, order *domain.Order) domain.LifecycleEvent {
	event := domain.LifecycleEvent{
		Kind:               kind,
		OrderID:            order.ID(),
		OrderNumber:        order.Number(),
		CustomerName:       order.Customer().Name,
		Email:              order.Customer().Email,
		PaymentMethod:      order.PaymentMethod(),
		TotalAmount:        order.TotalAmount(),
		DepositAmount:      order.DepositAmount(),
		RemainingBalance:   order.RemainingBalance(),
		AmountDue:          order.AmountDue(),
		CancellationReason: order.CancellationReason(),
		Refunded:           order.Refunded(),
		RefundedAmount:     order.RefundedAmount(),
		Timestamp:          time.Now().UTC(),
	}

	siteSettings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warn("failed to load settings for notification", "error", err)
		return event
	}
	if siteSettings != nil {
		event.ShippingCost = siteSettings.ShippingCost
		event.BankTransferAccount = siteSettings.BankTransferAccount
		event.MobileWalletNumber = siteSettings.MobileWalletNumber
	}
	return event
}
