// Package messaging consumes the ledger queues and reports step outcomes
// back to the saga exchange.
//
// Error handling is asymmetric on purpose: the append handler returns its
// error to the bus so the request is redelivered (the posting is safe to
// retry thanks to transaction-ID uniqueness), while the compensation
// handler swallows errors after logging them.
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudresty/go-rabbitmq"
	"github.com/fintechdev/payment-saga/internal/ledger/service"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
)

// Consumer handles the ledger.entry.append and ledger.compensation queues.
type Consumer struct {
	engine    *service.Engine
	publisher bus.Publisher
}

// NewConsumer wires the append engine to the bus.
func NewConsumer(engine *service.Engine, publisher bus.Publisher) *Consumer {
	return &Consumer{engine: engine, publisher: publisher}
}

// HandleEntryAppend processes an append request from the payment initiator.
func (c *Consumer) HandleEntryAppend(ctx context.Context, delivery *rabbitmq.Delivery) error {
	return c.handleEntryAppend(ctx, delivery.Body)
}

// HandleCompensation processes a reversal request for all of a payment's postings.
func (c *Consumer) HandleCompensation(ctx context.Context, delivery *rabbitmq.Delivery) error {
	c.handleCompensation(ctx, delivery.Body)
	return nil
}

func (c *Consumer) handleEntryAppend(ctx context.Context, body []byte) error {
	evt, err := bus.Decode(body)
	if err != nil {
		// A malformed message can never succeed on retry; drop it.
		slog.WarnContext(ctx, "dropping malformed append request", "error", err)
		return nil
	}

	slog.InfoContext(ctx, "received ledger entry request", "payment_id", evt.PaymentID)

	if err := c.engine.AppendPosting(ctx, evt.PaymentID, evt.AccountID, evt.Amount, evt.Currency); err != nil {
		slog.ErrorContext(ctx, "ledger posting failed",
			"payment_id", evt.PaymentID, "error", err)

		c.publishResult(ctx, bus.Event{
			Event:     bus.EventLedgerFailed,
			PaymentID: evt.PaymentID,
			Reason:    err.Error(),
			TS:        time.Now().UnixMilli(),
		}, bus.KeyLedgerFailed)

		// Returned to the bus: the append queue is consumed with
		// requeue-on-error, so the request is redelivered.
		return err
	}

	c.publishResult(ctx, bus.Event{
		Event:     bus.EventLedgerCompleted,
		PaymentID: evt.PaymentID,
		TS:        time.Now().UnixMilli(),
	}, bus.KeyLedgerCompleted)

	slog.InfoContext(ctx, "ledger entries processed", "payment_id", evt.PaymentID)
	return nil
}

func (c *Consumer) handleCompensation(ctx context.Context, body []byte) {
	evt, err := bus.Decode(body)
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed compensation request", "error", err)
		return
	}

	slog.InfoContext(ctx, "received ledger compensation request", "payment_id", evt.PaymentID)

	if _, err := c.engine.Compensate(ctx, evt.PaymentID); err != nil {
		// Swallowed: compensation is re-requested by the saga side if it
		// never converges, and redelivering here would double the noise.
		slog.ErrorContext(ctx, "ledger compensation failed",
			"payment_id", evt.PaymentID, "error", err)
		return
	}

	c.publishResult(ctx, bus.Event{
		Event:     bus.EventCompensationCompleted,
		PaymentID: evt.PaymentID,
		Service:   "ledger",
		TS:        time.Now().UnixMilli(),
	}, bus.KeyCompensationCompleted)
}

func (c *Consumer) publishResult(ctx context.Context, evt bus.Event, routingKey string) {
	if err := c.publisher.Publish(ctx, bus.SagaExchange, routingKey, evt); err != nil {
		slog.ErrorContext(ctx, "failed to publish ledger result",
			"event", evt.Event, "payment_id", evt.PaymentID, "error", err)
	}
}
