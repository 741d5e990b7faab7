package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joao-fontenele/marbleflow/internal/domain"
)

// Handler consumes lifecycle events and sends the matching customer
// email. Emails are best-effort: a render or delivery failure is logged
// and the message committed anyway, so one bad event cannot wedge the
// partition.
type Handler struct {
	mailer Mailer
	logger *slog.Logger
}

func NewHandler(mailer Mailer, logger *slog.Logger) *Handler {
	return &Handler{
		mailer: mailer,
		logger: logger,
	}
}

func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var event domain.LifecycleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to unmarshal lifecycle event", "error", err)
		return nil
	}
	if event.Email == "" {
		h.logger.Warn("lifecycle event without customer email", "kind", event.Kind, "order_number", event.OrderNumber)
		return nil
	}

	subject, body, err := render(event)
	if err != nil {
		h.logger.Error("failed to render notification", "error", err, "kind", event.Kind, "order_number", event.OrderNumber)
		return nil
	}

	if err := h.mailer.Send(ctx, event.Email, subject, body); err != nil {
		h.logger.Error("failed to send notification email",
			"error", err,
			"kind", event.Kind,
			"order_number", event.OrderNumber,
			"to", event.Email,
		)
		return nil
	}

	h.logger.Info("notification sent", "kind", event.Kind, "order_number", event.OrderNumber, "to", event.Email)
	return nil
}

func render(event domain.LifecycleEvent) (subject, body string, err error) {
	switch event.Kind {
	case domain.EventOrderConfirmation:
		return renderConfirmation(event)
	case domain.EventProofReceived:
		return "We received your payment proof - " + event.OrderNumber,
			greeting(event) + fmt.Sprintf(
				"We have received your payment proof for order %s and will verify it shortly.\nWe will let you know as soon as the payment is confirmed.\n",
				event.OrderNumber),
			nil
	case domain.EventDepositVerified:
		return "Payment confirmed - your order is in production - " + event.OrderNumber,
			greeting(event) + fmt.Sprintf(
				"Your payment for order %s has been verified, and production of your pieces has started.\nWe will contact you again when your order is ready to ship.\n",
				event.OrderNumber),
			nil
	case domain.EventAwaitingBalance:
		return renderAwaitingBalance(event)
	case domain.EventOrderShipped:
		return "Your order has shipped - " + event.OrderNumber,
			greeting(event) + fmt.Sprintf(
				"Good news: order %s is on its way to you.\nThank you for shopping with us.\n",
				event.OrderNumber),
			nil
	case domain.EventOrderCancelled:
		return renderCancelled(event)
	}
	return "", "", fmt.Errorf("unknown lifecycle event kind %q", event.Kind)
}

func renderConfirmation(event domain.LifecycleEvent) (string, string, error) {
	var b strings.Builder
	b.WriteString(greeting(event))
	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", event.OrderNumber)
	fmt.Fprintf(&b, "Order total: %s\n", event.TotalAmount.StringFixed(2))

	if event.PaymentMethod == domain.PaymentFullUpfront {
		fmt.Fprintf(&b, "Amount due now (full payment): %s\n", event.AmountDue.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "Deposit due now: %s\n", event.DepositAmount.StringFixed(2))
		fmt.Fprintf(&b, "Balance due before shipping: %s\n", event.RemainingBalance.StringFixed(2))
	}

	if event.BankTransferAccount != "" || event.MobileWalletNumber != "" {
		b.WriteString("\nHow to pay:\n")
		if event.BankTransferAccount != "" {
			fmt.Fprintf(&b, "  Bank transfer: %s\n", event.BankTransferAccount)
		}
		if event.MobileWalletNumber != "" {
			fmt.Fprintf(&b, "  Mobile wallet: %s\n", event.MobileWalletNumber)
		}
	}

	b.WriteString("\nAfter paying, please submit your transaction id or a receipt photo on the order page.\n")
	return "Order confirmation - " + event.OrderNumber, b.String(), nil
}

func renderAwaitingBalance(event domain.LifecycleEvent) (string, string, error) {
	var b strings.Builder
	b.WriteString(greeting(event))
	fmt.Fprintf(&b, "Your order %s is ready, and the remaining balance is now due.\n\n", event.OrderNumber)
	fmt.Fprintf(&b, "Remaining balance: %s\n", event.RemainingBalance.StringFixed(2))
	if event.ShippingCost.IsPositive() {
		fmt.Fprintf(&b, "Shipping: %s\n", event.ShippingCost.StringFixed(2))
	}

	if event.BankTransferAccount != "" || event.MobileWalletNumber != "" {
		b.WriteString("\nHow to pay:\n")
		if event.BankTransferAccount != "" {
			fmt.Fprintf(&b, "  Bank transfer: %s\n", event.BankTransferAccount)
		}
		if event.MobileWalletNumber != "" {
			fmt.Fprintf(&b, "  Mobile wallet: %s\n", event.MobileWalletNumber)
		}
	}

	b.WriteString("\nWe will ship your order as soon as the balance payment is verified.\n")
	return "Balance payment due - " + event.OrderNumber, b.String(), nil
}

func renderCancelled(event domain.LifecycleEvent) (string, string, error) {
	var b strings.Builder
	b.WriteString(greeting(event))
	fmt.Fprintf(&b, "Your order %s has been cancelled.\n", event.OrderNumber)
	if event.CancellationReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", event.CancellationReason)
	}
	if event.Refunded {
		fmt.Fprintf(&b, "\nA refund of %s has been issued.\n", event.RefundedAmount.StringFixed(2))
	}
	b.WriteString("\nIf you have any questions, just reply to this email.\n")
	return "Order cancelled - " + event.OrderNumber, b.String(), nil
}

func greeting(event domain.LifecycleEvent) string {
	if event.CustomerName == "" {
		return "Hello,\n\n"
	}
	return "Hello " + event.CustomerName + ",\n\n"
}
