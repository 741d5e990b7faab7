package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LifecycleEventKind names the customer notifications the order
// lifecycle emits. One email flow per kind.
type LifecycleEventKind string

const (
	EventOrderConfirmation LifecycleEventKind = "order_confirmation"
	EventProofReceived     LifecycleEventKind = "proof_received"
	EventDepositVerified   LifecycleEventKind = "deposit_verified"
	EventAwaitingBalance   LifecycleEventKind = "awaiting_balance"
	EventOrderShipped      LifecycleEventKind = "order_shipped"
	EventOrderCancelled    LifecycleEventKind = "order_cancelled"
)

// LifecycleEvent is the payload published to the order.lifecycle topic
// after a state change commits. It carries everything the notification
// worker needs to render an email without calling back into the shop.
type LifecycleEvent struct {
	Kind LifecycleEventKind `json:"kind"`

	OrderID       int64         `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	CustomerName  string        `json:"customer_name"`
	Email         string        `json:"email"`
	PaymentMethod PaymentMethod `json:"payment_method"`

	TotalAmount      decimal.Decimal `json:"total_amount"`
	DepositAmount    decimal.Decimal `json:"deposit_amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	AmountDue        decimal.Decimal `json:"amount_due"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`

	BankTransferAccount string `json:"bank_transfer_account,omitempty"`
	MobileWalletNumber  string `json:"mobile_wallet_number,omitempty"`

	CancellationReason string          `json:"cancellation_reason,omitempty"`
	Refunded           bool            `json:"refunded,omitempty"`
	RefundedAmount     decimal.Decimal `json:"refunded_amount"`

	Timestamp time.Time `json:"timestamp"`
}
