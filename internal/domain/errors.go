package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a referenced order, product, or coupon as absent.
var ErrNotFound = errors.New("not found")

// ErrConflict marks a lost optimistic-concurrency race: another writer
// updated the row between our read and our write.
var ErrConflict = errors.New("order was modified concurrently")

// ErrEmptyCart rejects order creation from a cart with no items.
var ErrEmptyCart = errors.New("cart has no items")

// ErrInvalidCoupon rejects a coupon code that is unknown, inactive,
// expired, or over its usage limit.
var ErrInvalidCoupon = errors.New("coupon is invalid or expired")

// InvalidTransitionError reports a status change that the state machine
// does not allow, either because the (from, to) pair is not in the
// transition table or because a payment-verification guard failed.
type InvalidTransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("cannot transition from %q to %q", e.From, e.To)
}

// InvalidOperationError reports an aggregate operation invoked in a
// status it is not legal in, e.g. verifying a deposit twice.
type InvalidOperationError struct {
	Op     string
	Status OrderStatus
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("cannot %s: order is %q", e.Op, e.Status)
}

// AlreadyTerminalError reports an action against an order that already
// reached a terminal condition: cancelling a shipped or cancelled order,
// or refunding an order a second time. Kept distinct from
// InvalidTransitionError so operators get a clearer message.
type AlreadyTerminalError struct {
	Reason string
}

func (e *AlreadyTerminalError) Error() string {
	return e.Reason
}
