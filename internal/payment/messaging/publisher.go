// Package messaging is the payment service's bus edge: the initiation
// fan-out on the way out, and the saga result queues on the way in.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
)

// EventPublisher fans payment lifecycle events out over the bus.
type EventPublisher struct {
	publisher bus.Publisher
}

// NewEventPublisher wraps a bus publisher.
func NewEventPublisher(publisher bus.Publisher) *EventPublisher {
	return &EventPublisher{publisher: publisher}
}

// PublishPaymentInitiated broadcasts a fresh submission to every
// collaborator: the saga's own audit stream, the ledger and balance work
// queues, the notification service and the auxiliary fanout. Any failure
// aborts the fan-out; a partial fan-out is safe because the missing step
// never reports and the timeout sweep unwinds whatever did land.
func (p *EventPublisher) PublishPaymentInitiated(ctx context.Context, saga *domain.SagaRecord) error {
	now := time.Now().UnixMilli()

	initiated := bus.Event{
		Event:     bus.EventPaymentInitiated,
		PaymentID: saga.PaymentID,
		AccountID: saga.AccountID,
		Amount:    saga.Amount,
		Currency:  saga.Currency,
		TS:        now,
	}
	created := initiated
	created.Event = bus.EventPaymentCreated

	targets := []struct {
		exchange   string
		routingKey string
		evt        bus.Event
	}{
		{bus.SagaExchange, bus.KeyPaymentInitiated, initiated},
		{bus.LedgerExchange, bus.KeyEntryAppend, initiated},
		{bus.BalanceExchange, bus.KeyBalanceUpdate, initiated},
		{bus.NotificationExchange, bus.KeyPaymentCreated, created},
		{bus.PaymentsExchange, "", created},
	}

	for _, t := range targets {
		if err := p.publisher.Publish(ctx, t.exchange, t.routingKey, t.evt); err != nil {
			return fmt.Errorf("publish %s to %s: %w", t.evt.Event, t.exchange, err)
		}
	}
	return nil
}
