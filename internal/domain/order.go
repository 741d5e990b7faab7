package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/marbleflow/internal/pricing"
)

type OrderStatus string

const (
	StatusPendingPayment  OrderStatus = "pending_payment"
	StatusInProduction    OrderStatus = "in_production"
	StatusAwaitingBalance OrderStatus = "awaiting_balance"
	StatusShipped         OrderStatus = "shipped"
	StatusCancelled       OrderStatus = "cancelled"
)

// validTransitions is the full state machine. Shipped and Cancelled are
// terminal.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusPendingPayment:  {StatusInProduction, StatusCancelled},
	StatusInProduction:    {StatusAwaitingBalance, StatusShipped, StatusCancelled},
	StatusAwaitingBalance: {StatusShipped, StatusCancelled},
	StatusShipped:         {},
	StatusCancelled:       {},
}

// KnownStatus reports whether s is one of the five order statuses.
func KnownStatus(s OrderStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

type PaymentMethod string

const (
	// PaymentCashOnDelivery collects the deposit upfront and the balance
	// before shipment.
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentFullUpfront collects the whole total upfront.
	PaymentFullUpfront PaymentMethod = "full_payment_upfront"
)

// KnownPaymentMethod reports whether m is a supported payment method.
func KnownPaymentMethod(m PaymentMethod) bool {
	return m == PaymentCashOnDelivery || m == PaymentFullUpfront
}

type ProofType string

const (
	ProofNone          ProofType = "none"
	ProofTransactionID ProofType = "transaction_id"
	ProofReceiptImage  ProofType = "receipt_image"
)

// PaymentProof is one proof slot: either a transaction id or a stored
// receipt image, never both at once.
type PaymentProof struct {
	kind          ProofType
	transactionID string
	receiptPath   string
	submittedAt   *time.Time
	verified      bool
	verifiedAt    *time.Time
}

func (p PaymentProof) Type() ProofType         { return p.kind }
func (p PaymentProof) TransactionID() string   { return p.transactionID }
func (p PaymentProof) ReceiptPath() string     { return p.receiptPath }
func (p PaymentProof) SubmittedAt() *time.Time { return p.submittedAt }
func (p PaymentProof) Verified() bool          { return p.verified }
func (p PaymentProof) VerifiedAt() *time.Time  { return p.verifiedAt }

// set records a proof value, clearing the other slot field so exactly
// one of transaction id / receipt path is populated.
func (p *PaymentProof) set(value string, kind ProofType, now time.Time) {
	switch kind {
	case ProofTransactionID:
		p.transactionID = value
		p.receiptPath = ""
	case ProofReceiptImage:
		p.receiptPath = value
		p.transactionID = ""
	default:
		return
	}
	p.kind = kind
	p.submittedAt = &now
}

func (p *PaymentProof) markVerified(now time.Time) {
	p.verified = true
	p.verifiedAt = &now
}

// OrderItem is an immutable snapshot of a product line at purchase time.
// ProductID survives product deletion as nil.
type OrderItem struct {
	ID        int64
	ProductID *int64
	Name      string
	ImageURL  string
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal is Quantity × UnitPrice, always derived.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CustomerInfo is the guest-checkout snapshot captured at submission
// time. There is no customer entity to re-derive it from.
type CustomerInfo struct {
	Name        string
	Email       string
	Phone       string
	AddressLine string
	City        string
	Region      string
	Country     string
	PostalCode  string
}

// Order is the aggregate root of the checkout flow. Status, proofs, and
// refund state are unexported and only move through the methods below,
// which is what keeps the state machine honest. Repositories go through
// Record / OrderFromRecord.
type Order struct {
	id       int64
	number   string
	customer CustomerInfo
	items    []OrderItem

	totalAmount       decimal.Decimal
	depositPercentage decimal.Decimal
	depositAmount     decimal.Decimal
	discountCode      string
	discountAmount    decimal.Decimal

	paymentMethod PaymentMethod
	status        OrderStatus
	depositProof  PaymentProof
	balanceProof  PaymentProof

	createdAt         time.Time
	inProductionAt    *time.Time
	awaitingBalanceAt *time.Time
	shippedAt         *time.Time
	cancelledAt       *time.Time

	cancellationReason string
	refunded           bool
	refundedAmount     decimal.Decimal
	refundedAt         *time.Time

	version int64
}

// NewOrder builds an order from a guest submission and a priced cart,
// capturing the deposit percentage in force at creation time.
func NewOrder(customer CustomerInfo, cart *Cart, depositPercentage decimal.Decimal, now time.Time) (*Order, error) {
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		if line.Quantity < 1 {
			return nil, &InvalidOperationError{Op: "create order with non-positive quantity", Status: StatusPendingPayment}
		}
		if line.UnitPrice.IsNegative() {
			return nil, &InvalidOperationError{Op: "create order with negative unit price", Status: StatusPendingPayment}
		}
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			ImageURL:  line.ImageURL,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	total := cart.Total()

	return &Order{
		number:            newOrderNumber(now),
		customer:          customer,
		items:             items,
		totalAmount:       total,
		depositPercentage: depositPercentage,
		depositAmount:     pricing.Deposit(total, depositPercentage),
		discountCode:      cart.CouponCode,
		discountAmount:    cart.DiscountAmount,
		paymentMethod:     PaymentCashOnDelivery,
		status:            StatusPendingPayment,
		createdAt:         now.UTC(),
		version:           1,
	}, nil
}

// newOrderNumber yields the public tracking id: M-<UTC date>-<4 hex>.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:4])
	return "M-" + now.UTC().Format("20060102") + "-" + suffix
}

// RegenerateNumber draws a fresh order number. Only legal before the
// order is persisted; once stored the number is immutable.
func (o *Order) RegenerateNumber(now time.Time) {
	if o.id == 0 {
		o.number = newOrderNumber(now)
	}
}

func (o *Order) ID() int64                          { return o.id }
func (o *Order) Number() string                     { return o.number }
func (o *Order) Customer() CustomerInfo             { return o.customer }
func (o *Order) Items() []OrderItem                 { return o.items }
func (o *Order) TotalAmount() decimal.Decimal       { return o.totalAmount }
func (o *Order) DepositPercentage() decimal.Decimal { return o.depositPercentage }
func (o *Order) DepositAmount() decimal.Decimal     { return o.depositAmount }
func (o *Order) DiscountCode() string               { return o.discountCode }
func (o *Order) DiscountAmount() decimal.Decimal    { return o.discountAmount }
func (o *Order) PaymentMethod() PaymentMethod       { return o.paymentMethod }
func (o *Order) Status() OrderStatus                { return o.status }
func (o *Order) DepositProof() PaymentProof         { return o.depositProof }
func (o *Order) BalanceProof() PaymentProof         { return o.balanceProof }
func (o *Order) CreatedAt() time.Time               { return o.createdAt }
func (o *Order) InProductionAt() *time.Time         { return o.inProductionAt }
func (o *Order) AwaitingBalanceAt() *time.Time      { return o.awaitingBalanceAt }
func (o *Order) ShippedAt() *time.Time              { return o.shippedAt }
func (o *Order) CancelledAt() *time.Time            { return o.cancelledAt }
func (o *Order) CancellationReason() string         { return o.cancellationReason }
func (o *Order) Refunded() bool                     { return o.refunded }
func (o *Order) RefundedAmount() decimal.Decimal    { return o.refundedAmount }
func (o *Order) RefundedAt() *time.Time             { return o.refundedAt }
func (o *Order) Version() int64                     { return o.version }

// RemainingBalance is always TotalAmount − DepositAmount, never stored.
func (o *Order) RemainingBalance() decimal.Decimal {
	return o.totalAmount.Sub(o.depositAmount)
}

// AmountDue is what the customer owes upfront: the full total for
// upfront payment, otherwise the deposit.
func (o *Order) AmountDue() decimal.Decimal {
	if o.paymentMethod == PaymentFullUpfront {
		return o.totalAmount
	}
	return o.depositAmount
}

// SetPaymentMethod records the customer's choice and recomputes the
// deposit amount: the full total for upfront payment, otherwise the
// captured percentage of the total.
func (o *Order) SetPaymentMethod(method PaymentMethod) error {
	if !KnownPaymentMethod(method) {
		return &InvalidOperationError{Op: "set unknown payment method " + string(method), Status: o.status}
	}
	o.paymentMethod = method
	if method == PaymentFullUpfront {
		o.depositAmount = o.totalAmount
	} else {
		o.depositAmount = pricing.Deposit(o.totalAmount, o.depositPercentage)
	}
	return nil
}

// SetPaymentProof records the deposit/initial proof. Setting a
// transaction id clears a previously stored receipt path and vice versa.
// No status change.
func (o *Order) SetPaymentProof(value string, kind ProofType, now time.Time) error {
	if kind != ProofTransactionID && kind != ProofReceiptImage {
		return &InvalidOperationError{Op: "set payment proof of type " + string(kind), Status: o.status}
	}
	o.depositProof.set(value, kind, now)
	return nil
}

// SetBalancePaymentProof records the balance proof slot.
func (o *Order) SetBalancePaymentProof(value string, kind ProofType, now time.Time) error {
	if kind != ProofTransactionID && kind != ProofReceiptImage {
		return &InvalidOperationError{Op: "set balance payment proof of type " + string(kind), Status: o.status}
	}
	o.balanceProof.set(value, kind, now)
	return nil
}

// VerifyDeposit is legal only from PendingPayment. It marks the deposit
// verified and moves the order into production. Full-upfront orders get
// their balance auto-verified here, since the full payment covers both.
func (o *Order) VerifyDeposit(now time.Time) error {
	if o.status != StatusPendingPayment {
		return &InvalidOperationError{Op: "verify deposit", Status: o.status}
	}

	o.depositProof.markVerified(now)
	if o.paymentMethod == PaymentFullUpfront {
		o.balanceProof.markVerified(now)
	}

	o.status = StatusInProduction
	o.inProductionAt = &now
	return nil
}

// VerifyBalance is legal only from AwaitingBalance. It marks the balance
// verified and ships the order.
func (o *Order) VerifyBalance(now time.Time) error {
	if o.status != StatusAwaitingBalance {
		return &InvalidOperationError{Op: "verify balance", Status: o.status}
	}

	o.balanceProof.markVerified(now)
	o.status = StatusShipped
	o.shippedAt = &now
	return nil
}

// UpdateStatus applies the transition table plus the payment guards. On
// failure the status is left unchanged.
func (o *Order) UpdateStatus(newStatus OrderStatus, now time.Time) error {
	allowed := false
	for _, target := range validTransitions[o.status] {
		if target == newStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InvalidTransitionError{From: o.status, To: newStatus}
	}

	if newStatus == StatusInProduction && !o.depositProof.verified {
		return &InvalidTransitionError{
			From: o.status, To: newStatus,
			Reason: "cannot move to in_production: payment has not been verified yet",
		}
	}
	if newStatus == StatusShipped && o.paymentMethod == PaymentCashOnDelivery && !o.balanceProof.verified {
		return &InvalidTransitionError{
			From: o.status, To: newStatus,
			Reason: "cannot mark as shipped: balance payment has not been verified yet",
		}
	}

	o.status = newStatus
	switch newStatus {
	case StatusInProduction:
		o.inProductionAt = &now
	case StatusAwaitingBalance:
		o.awaitingBalanceAt = &now
	case StatusShipped:
		o.shippedAt = &now
	case StatusCancelled:
		o.cancelledAt = &now
	}
	return nil
}

// Cancel moves the order to the terminal Cancelled status, stamping the
// reason and time. Shipped and already-cancelled orders are rejected.
func (o *Order) Cancel(reason string, now time.Time) error {
	switch o.status {
	case StatusShipped:
		return &AlreadyTerminalError{Reason: "cannot cancel shipped orders"}
	case StatusCancelled:
		return &AlreadyTerminalError{Reason: "order is already cancelled"}
	}

	o.status = StatusCancelled
	o.cancelledAt = &now
	o.cancellationReason = reason
	return nil
}

// MarkRefunded records the refund. A refund can only be marked once;
// whether the order must be cancelled first is the lifecycle service's
// rule, not the aggregate's.
func (o *Order) MarkRefunded(amount decimal.Decimal, now time.Time) error {
	if o.refunded {
		return &AlreadyTerminalError{Reason: "order is already refunded"}
	}
	o.refunded = true
	o.refundedAmount = amount
	o.refundedAt = &now
	return nil
}

// Bind attaches the database identity after the initial insert.
func (o *Order) Bind(id int64) {
	if o.id == 0 {
		o.id = id
	}
}

// SetVersion refreshes the optimistic-concurrency token after a write.
func (o *Order) SetVersion(v int64) { o.version = v }

// ProofRecord is the persisted form of one proof slot.
type ProofRecord struct {
	Type          ProofType
	TransactionID string
	ReceiptPath   string
	SubmittedAt   *time.Time
	Verified      bool
	VerifiedAt    *time.Time
}

// OrderRecord is the flat persisted form of the aggregate, used by the
// repository for scanning and writing. It carries no behavior.
type OrderRecord struct {
	ID       int64
	Number   string
	Customer CustomerInfo
	Items    []OrderItem

	TotalAmount       decimal.Decimal
	DepositPercentage decimal.Decimal
	DepositAmount     decimal.Decimal
	DiscountCode      string
	DiscountAmount    decimal.Decimal

	PaymentMethod PaymentMethod
	Status        OrderStatus
	DepositProof  ProofRecord
	BalanceProof  ProofRecord

	CreatedAt         time.Time
	InProductionAt    *time.Time
	AwaitingBalanceAt *time.Time
	ShippedAt         *time.Time
	CancelledAt       *time.Time

	CancellationReason string
	Refunded           bool
	RefundedAmount     decimal.Decimal
	RefundedAt         *time.Time

	Version int64
}

// Record snapshots the aggregate for persistence.
func (o *Order) Record() OrderRecord {
	return OrderRecord{
		ID:                 o.id,
		Number:             o.number,
		Customer:           o.customer,
		Items:              o.items,
		TotalAmount:        o.totalAmount,
		DepositPercentage:  o.depositPercentage,
		DepositAmount:      o.depositAmount,
		DiscountCode:       o.discountCode,
		DiscountAmount:     o.discountAmount,
		PaymentMethod:      o.paymentMethod,
		Status:             o.status,
		DepositProof:       proofRecord(o.depositProof),
		BalanceProof:       proofRecord(o.balanceProof),
		CreatedAt:          o.createdAt,
		InProductionAt:     o.inProductionAt,
		AwaitingBalanceAt:  o.awaitingBalanceAt,
		ShippedAt:          o.shippedAt,
		CancelledAt:        o.cancelledAt,
		CancellationReason: o.cancellationReason,
		Refunded:           o.refunded,
		RefundedAmount:     o.refundedAmount,
		RefundedAt:         o.refundedAt,
		Version:            o.version,
	}
}

// OrderFromRecord rehydrates a stored order.
func OrderFromRecord(rec OrderRecord) *Order {
	return &Order{
		id:                 rec.ID,
		number:             rec.Number,
		customer:           rec.Customer,
		items:              rec.Items,
		totalAmount:        rec.TotalAmount,
		depositPercentage:  rec.DepositPercentage,
		depositAmount:      rec.DepositAmount,
		discountCode:       rec.DiscountCode,
		discountAmount:     rec.DiscountAmount,
		paymentMethod:      rec.PaymentMethod,
		status:             rec.Status,
		depositProof:       proofFromRecord(rec.DepositProof),
		balanceProof:       proofFromRecord(rec.BalanceProof),
		createdAt:          rec.CreatedAt,
		inProductionAt:     rec.InProductionAt,
		awaitingBalanceAt:  rec.AwaitingBalanceAt,
		shippedAt:          rec.ShippedAt,
		cancelledAt:        rec.CancelledAt,
		cancellationReason: rec.CancellationReason,
		refunded:           rec.Refunded,
		refundedAmount:     rec.RefundedAmount,
		refundedAt:         rec.RefundedAt,
		version:            rec.Version,
	}
}

func proofRecord(p PaymentProof) ProofRecord {
	kind := p.kind
	if kind == "" {
		kind = ProofNone
	}
	return ProofRecord{
		Type:          kind,
		TransactionID: p.transactionID,
		ReceiptPath:   p.receiptPath,
		SubmittedAt:   p.submittedAt,
		Verified:      p.verified,
		VerifiedAt:    p.verifiedAt,
	}
}

func proofFromRecord(rec ProofRecord) PaymentProof {
	kind := rec.Type
	if kind == "" {
		kind = ProofNone
	}
	return PaymentProof{
		kind:          kind,
		transactionID: rec.TransactionID,
		receiptPath:   rec.ReceiptPath,
		submittedAt:   rec.SubmittedAt,
		verified:      rec.Verified,
		verifiedAt:    rec.VerifiedAt,
	}
}
