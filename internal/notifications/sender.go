// Package notifications carries order lifecycle events from the shop to
// the customer's inbox. The producer side publishes typed events to
// Kafka after the database transaction commits; the worker side consumes
// them, renders plain-text emails, and hands them to a Mailer.
package notifications

import (
	"context"

	"github.com/joao-fontenele/marbleflow/internal/domain"
)

// Topic is the Kafka topic lifecycle events are published to.
const Topic = "order.lifecycle"

// Publisher is the producer surface KafkaSender needs. Satisfied by
// *messaging.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// KafkaSender publishes lifecycle events keyed by order number, so all
// events for one order land on the same partition in order.
type KafkaSender struct {
	publisher Publisher
}

func NewKafkaSender(publisher Publisher) *KafkaSender {
	return &KafkaSender{publisher: publisher}
}

func (s *KafkaSender) SendOrderConfirmation(ctx context.Context, event domain.LifecycleEvent) error {
	return s.publish(ctx, event, domain.EventOrderConfirmation)
}

func (s *KafkaSender) SendProofReceived(ctx context.Context, event domain.LifecycleEvent) error {
	return s.publish(ctx, event, domain.EventProofReceived)
}

func (s *KafkaSender) SendDepositVerified(ctx context.Context, event domain.LifecycleEvent) error {
	return s.publish(ctx, event, domain.EventDepositVerified)
}

func (s *KafkaSender) SendAwaitingBalance(ctx context.Context, event domain.LifecycleEvent) error {
	return s.publish(ctx, event, domain.EventAwaitingBalance)
}

func (s *KafkaSender) SendOrderShipped(ctx context.Context, event domain.LifecycleEvent) error {
	return s.publish(ctx, event, domain.EventOrderShipped)
}

func (s *KafkaSender) SendOrderCancelled(ctx context.Context, event domain.LifecycleEvent) error {
	return s.publish(ctx, event, domain.EventOrderCancelled)
}

func (s *KafkaSender) publish(ctx context.Context, event domain.LifecycleEvent, kind domain.LifecycleEventKind) error {
	event.Kind = kind
	return s.publisher.Publish(ctx, event.OrderNumber, event)
}
