package domain

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func testCustomer() CustomerInfo {
	return CustomerInfo{
		Name:        "Lina Haddad",
		Email:       "lina@example.com",
		Phone:       "+20100000000",
		AddressLine: "12 Corniche St",
		City:        "Cairo",
		Country:     "EG",
	}
}

func testCart(t *testing.T) *Cart {
	t.Helper()
	productID := int64(7)
	return &Cart{
		Items: []CartItem{
			{ProductID: &productID, Name: "Carrara coffee table", UnitPrice: dec(t, "500"), Quantity: 2},
		},
	}
}

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	order, err := NewOrder(testCustomer(), testCart(t), dec(t, "50"), testNow)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return order
}

// orderInState builds an order rehydrated into an arbitrary state, the
// way the repository would.
func orderInState(t *testing.T, status OrderStatus, method PaymentMethod, depositVerified, balanceVerified bool) *Order {
	t.Helper()
	order := newTestOrder(t)
	rec := order.Record()
	rec.ID = 1
	rec.Status = status
	rec.PaymentMethod = method
	if method == PaymentFullUpfront {
		rec.DepositAmount = rec.TotalAmount
	}
	rec.DepositProof.Verified = depositVerified
	rec.BalanceProof.Verified = balanceVerified
	return OrderFromRecord(rec)
}

func TestNewOrder(t *testing.T) {
	t.Run("empty cart rejected", func(t *testing.T) {
		_, err := NewOrder(testCustomer(), &Cart{}, dec(t, "50"), testNow)
		if !errors.Is(err, ErrEmptyCart) {
			t.Errorf("expected ErrEmptyCart, got %v", err)
		}
	})

	t.Run("non-positive quantity rejected", func(t *testing.T) {
		cart := testCart(t)
		cart.Items[0].Quantity = 0
		if _, err := NewOrder(testCustomer(), cart, dec(t, "50"), testNow); err == nil {
			t.Error("expected error for zero quantity")
		}
	})

	t.Run("negative unit price rejected", func(t *testing.T) {
		cart := testCart(t)
		cart.Items[0].UnitPrice = dec(t, "-1")
		if _, err := NewOrder(testCustomer(), cart, dec(t, "50"), testNow); err == nil {
			t.Error("expected error for negative price")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		order := newTestOrder(t)

		if order.Status() != StatusPendingPayment {
			t.Errorf("expected pending_payment, got %s", order.Status())
		}
		if order.PaymentMethod() != PaymentCashOnDelivery {
			t.Errorf("expected cash_on_delivery, got %s", order.PaymentMethod())
		}
		if !order.TotalAmount().Equal(dec(t, "1000")) {
			t.Errorf("expected total 1000, got %s", order.TotalAmount())
		}
		if !order.DepositAmount().Equal(dec(t, "500")) {
			t.Errorf("expected deposit 500, got %s", order.DepositAmount())
		}
		if !order.RemainingBalance().Equal(dec(t, "500")) {
			t.Errorf("expected remaining 500, got %s", order.RemainingBalance())
		}
		if order.Version() != 1 {
			t.Errorf("expected version 1, got %d", order.Version())
		}
	})

	t.Run("order number format", func(t *testing.T) {
		order := newTestOrder(t)
		pattern := regexp.MustCompile(`^M-20260314-[0-9A-F]{4}$`)
		if !pattern.MatchString(order.Number()) {
			t.Errorf("unexpected order number %q", order.Number())
		}
	})

	t.Run("regenerate only before persistence", func(t *testing.T) {
		order := newTestOrder(t)
		before := order.Number()
		order.Bind(42)
		order.RegenerateNumber(testNow)
		if order.Number() != before {
			t.Error("number changed after the order was bound")
		}
	})
}

func TestOrder_UpdateStatus(t *testing.T) {
	all := []OrderStatus{StatusPendingPayment, StatusInProduction, StatusAwaitingBalance, StatusShipped, StatusCancelled}

	allowed := map[OrderStatus]map[OrderStatus]bool{
		StatusPendingPayment:  {StatusInProduction: true, StatusCancelled: true},
		StatusInProduction:    {StatusAwaitingBalance: true, StatusShipped: true, StatusCancelled: true},
		StatusAwaitingBalance: {StatusShipped: true, StatusCancelled: true},
		StatusShipped:         {},
		StatusCancelled:       {},
	}

	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+" to "+string(to), func(t *testing.T) {
				// Payment guards satisfied, so only the transition table
				// decides.
				order := orderInState(t, from, PaymentCashOnDelivery, true, true)

				err := order.UpdateStatus(to, testNow)
				if allowed[from][to] {
					if err != nil {
						t.Fatalf("expected transition to succeed, got %v", err)
					}
					if order.Status() != to {
						t.Errorf("expected status %s, got %s", to, order.Status())
					}
				} else {
					var transitionErr *InvalidTransitionError
					if !errors.As(err, &transitionErr) {
						t.Fatalf("expected InvalidTransitionError, got %v", err)
					}
					if order.Status() != from {
						t.Errorf("status changed to %s on rejected transition", order.Status())
					}
				}
			})
		}
	}

	t.Run("in_production requires verified deposit", func(t *testing.T) {
		order := orderInState(t, StatusPendingPayment, PaymentCashOnDelivery, false, false)

		err := order.UpdateStatus(StatusInProduction, testNow)
		var transitionErr *InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			t.Fatalf("expected InvalidTransitionError, got %v", err)
		}
		if transitionErr.Reason == "" {
			t.Error("expected a guard reason")
		}
		if order.Status() != StatusPendingPayment {
			t.Errorf("status moved to %s despite guard", order.Status())
		}
	})

	t.Run("shipped requires verified balance for cash on delivery", func(t *testing.T) {
		order := orderInState(t, StatusAwaitingBalance, PaymentCashOnDelivery, true, false)

		if err := order.UpdateStatus(StatusShipped, testNow); err == nil {
			t.Fatal("expected guard to reject shipping")
		}
	})

	t.Run("shipped allowed without balance for full upfront", func(t *testing.T) {
		order := orderInState(t, StatusInProduction, PaymentFullUpfront, true, false)

		if err := order.UpdateStatus(StatusShipped, testNow); err != nil {
			t.Fatalf("expected transition to succeed, got %v", err)
		}
		if order.ShippedAt() == nil {
			t.Error("expected shipped_at to be stamped")
		}
	})

	t.Run("stamps per-status timestamps", func(t *testing.T) {
		order := orderInState(t, StatusInProduction, PaymentCashOnDelivery, true, false)

		if err := order.UpdateStatus(StatusAwaitingBalance, testNow); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		if order.AwaitingBalanceAt() == nil || !order.AwaitingBalanceAt().Equal(testNow) {
			t.Errorf("expected awaiting_balance_at %v, got %v", testNow, order.AwaitingBalanceAt())
		}
	})
}

func TestOrder_PaymentProofs(t *testing.T) {
	t.Run("transaction id and receipt are mutually exclusive", func(t *testing.T) {
		order := newTestOrder(t)

		if err := order.SetPaymentProof("TX-123", ProofTransactionID, testNow); err != nil {
			t.Fatalf("SetPaymentProof: %v", err)
		}
		if err := order.SetPaymentProof("receipts/a.png", ProofReceiptImage, testNow); err != nil {
			t.Fatalf("SetPaymentProof: %v", err)
		}

		proof := order.DepositProof()
		if proof.Type() != ProofReceiptImage {
			t.Errorf("expected receipt_image, got %s", proof.Type())
		}
		if proof.TransactionID() != "" {
			t.Errorf("expected transaction id cleared, got %q", proof.TransactionID())
		}
		if proof.ReceiptPath() != "receipts/a.png" {
			t.Errorf("unexpected receipt path %q", proof.ReceiptPath())
		}
	})

	t.Run("switching back clears the receipt", func(t *testing.T) {
		order := newTestOrder(t)

		_ = order.SetPaymentProof("receipts/a.png", ProofReceiptImage, testNow)
		_ = order.SetPaymentProof("TX-456", ProofTransactionID, testNow)

		proof := order.DepositProof()
		if proof.ReceiptPath() != "" {
			t.Errorf("expected receipt path cleared, got %q", proof.ReceiptPath())
		}
		if proof.TransactionID() != "TX-456" {
			t.Errorf("unexpected transaction id %q", proof.TransactionID())
		}
	})

	t.Run("unknown proof type rejected", func(t *testing.T) {
		order := newTestOrder(t)
		if err := order.SetPaymentProof("x", ProofNone, testNow); err == nil {
			t.Error("expected error for proof type none")
		}
	})

	t.Run("balance proof slot is independent", func(t *testing.T) {
		order := newTestOrder(t)

		_ = order.SetPaymentProof("TX-1", ProofTransactionID, testNow)
		_ = order.SetBalancePaymentProof("TX-2", ProofTransactionID, testNow)

		if order.DepositProof().TransactionID() != "TX-1" {
			t.Errorf("deposit proof clobbered: %q", order.DepositProof().TransactionID())
		}
		if order.BalanceProof().TransactionID() != "TX-2" {
			t.Errorf("unexpected balance proof: %q", order.BalanceProof().TransactionID())
		}
	})
}

func TestOrder_SetPaymentMethod(t *testing.T) {
	t.Run("full upfront makes deposit the whole total", func(t *testing.T) {
		order := newTestOrder(t)

		if err := order.SetPaymentMethod(PaymentFullUpfront); err != nil {
			t.Fatalf("SetPaymentMethod: %v", err)
		}
		if !order.DepositAmount().Equal(order.TotalAmount()) {
			t.Errorf("expected deposit %s, got %s", order.TotalAmount(), order.DepositAmount())
		}
		if !order.AmountDue().Equal(order.TotalAmount()) {
			t.Errorf("expected amount due %s, got %s", order.TotalAmount(), order.AmountDue())
		}
		if !order.RemainingBalance().IsZero() {
			t.Errorf("expected zero remaining balance, got %s", order.RemainingBalance())
		}
	})

	t.Run("switching back recomputes the percentage deposit", func(t *testing.T) {
		order := newTestOrder(t)

		_ = order.SetPaymentMethod(PaymentFullUpfront)
		_ = order.SetPaymentMethod(PaymentCashOnDelivery)

		if !order.DepositAmount().Equal(dec(t, "500")) {
			t.Errorf("expected deposit 500, got %s", order.DepositAmount())
		}
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		order := newTestOrder(t)
		if err := order.SetPaymentMethod("store_credit"); err == nil {
			t.Error("expected error for unknown payment method")
		}
	})
}

func TestOrder_VerifyDeposit(t *testing.T) {
	t.Run("moves into production", func(t *testing.T) {
		order := newTestOrder(t)
		_ = order.SetPaymentProof("TX-1", ProofTransactionID, testNow)

		if err := order.VerifyDeposit(testNow); err != nil {
			t.Fatalf("VerifyDeposit: %v", err)
		}
		if order.Status() != StatusInProduction {
			t.Errorf("expected in_production, got %s", order.Status())
		}
		if !order.DepositProof().Verified() {
			t.Error("expected deposit proof verified")
		}
		if order.BalanceProof().Verified() {
			t.Error("balance proof should stay unverified for cash on delivery")
		}
		if order.InProductionAt() == nil {
			t.Error("expected in_production_at stamped")
		}
	})

	t.Run("full upfront verifies balance too", func(t *testing.T) {
		order := newTestOrder(t)
		_ = order.SetPaymentMethod(PaymentFullUpfront)
		_ = order.SetPaymentProof("TX-1", ProofTransactionID, testNow)

		if err := order.VerifyDeposit(testNow); err != nil {
			t.Fatalf("VerifyDeposit: %v", err)
		}
		if !order.BalanceProof().Verified() {
			t.Error("expected balance proof auto-verified for full upfront")
		}
	})

	t.Run("only legal from pending_payment", func(t *testing.T) {
		order := orderInState(t, StatusInProduction, PaymentCashOnDelivery, true, false)

		err := order.VerifyDeposit(testNow)
		var opErr *InvalidOperationError
		if !errors.As(err, &opErr) {
			t.Fatalf("expected InvalidOperationError, got %v", err)
		}
	})
}

func TestOrder_VerifyBalance(t *testing.T) {
	t.Run("ships the order", func(t *testing.T) {
		order := orderInState(t, StatusAwaitingBalance, PaymentCashOnDelivery, true, false)

		if err := order.VerifyBalance(testNow); err != nil {
			t.Fatalf("VerifyBalance: %v", err)
		}
		if order.Status() != StatusShipped {
			t.Errorf("expected shipped, got %s", order.Status())
		}
		if !order.BalanceProof().Verified() {
			t.Error("expected balance proof verified")
		}
	})

	t.Run("only legal from awaiting_balance", func(t *testing.T) {
		order := orderInState(t, StatusPendingPayment, PaymentCashOnDelivery, false, false)

		var opErr *InvalidOperationError
		if err := order.VerifyBalance(testNow); !errors.As(err, &opErr) {
			t.Fatalf("expected InvalidOperationError, got %v", err)
		}
	})
}

func TestOrder_Cancel(t *testing.T) {
	t.Run("records reason and time", func(t *testing.T) {
		order := newTestOrder(t)

		if err := order.Cancel("customer changed their mind", testNow); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if order.Status() != StatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status())
		}
		if order.CancellationReason() != "customer changed their mind" {
			t.Errorf("unexpected reason %q", order.CancellationReason())
		}
		if order.CancelledAt() == nil {
			t.Error("expected cancelled_at stamped")
		}
	})

	t.Run("shipped orders cannot be cancelled", func(t *testing.T) {
		order := orderInState(t, StatusShipped, PaymentCashOnDelivery, true, true)

		var terminalErr *AlreadyTerminalError
		if err := order.Cancel("too late", testNow); !errors.As(err, &terminalErr) {
			t.Fatalf("expected AlreadyTerminalError, got %v", err)
		}
	})

	t.Run("cancelling twice rejected", func(t *testing.T) {
		order := newTestOrder(t)
		_ = order.Cancel("first", testNow)

		var terminalErr *AlreadyTerminalError
		if err := order.Cancel("second", testNow); !errors.As(err, &terminalErr) {
			t.Fatalf("expected AlreadyTerminalError, got %v", err)
		}
		if order.CancellationReason() != "first" {
			t.Errorf("reason overwritten: %q", order.CancellationReason())
		}
	})
}

func TestOrder_MarkRefunded(t *testing.T) {
	order := newTestOrder(t)

	if err := order.MarkRefunded(dec(t, "500"), testNow); err != nil {
		t.Fatalf("MarkRefunded: %v", err)
	}
	if !order.Refunded() {
		t.Error("expected refunded flag set")
	}
	if !order.RefundedAmount().Equal(dec(t, "500")) {
		t.Errorf("expected refunded amount 500, got %s", order.RefundedAmount())
	}

	var terminalErr *AlreadyTerminalError
	if err := order.MarkRefunded(dec(t, "500"), testNow); !errors.As(err, &terminalErr) {
		t.Fatalf("expected AlreadyTerminalError on second refund, got %v", err)
	}
}

func TestOrder_RecordRoundTrip(t *testing.T) {
	order := newTestOrder(t)
	_ = order.SetPaymentMethod(PaymentFullUpfront)
	_ = order.SetPaymentProof("TX-9", ProofTransactionID, testNow)
	_ = order.VerifyDeposit(testNow)
	order.Bind(11)

	restored := OrderFromRecord(order.Record())

	if restored.ID() != 11 || restored.Number() != order.Number() {
		t.Errorf("identity lost in round trip: %d %s", restored.ID(), restored.Number())
	}
	if restored.Status() != StatusInProduction {
		t.Errorf("expected in_production, got %s", restored.Status())
	}
	if !restored.DepositProof().Verified() || !restored.BalanceProof().Verified() {
		t.Error("proof verification lost in round trip")
	}
	if !restored.TotalAmount().Equal(order.TotalAmount()) {
		t.Errorf("total mismatch: %s vs %s", restored.TotalAmount(), order.TotalAmount())
	}
	if len(restored.Items()) != 1 {
		t.Fatalf("expected 1 item, got %d", len(restored.Items()))
	}
}
