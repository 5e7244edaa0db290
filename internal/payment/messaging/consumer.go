package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cloudresty/go-rabbitmq"
	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/service"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
)

// Consumer handles the saga result queues. Every handler acks regardless of
// outcome: redelivering a step result cannot fix a store error, and the
// timeout sweep is the backstop for anything that slips through.
type Consumer struct {
	orchestrator *service.Orchestrator
	compensator  *service.Compensator
}

// NewConsumer wires the saga result handlers.
func NewConsumer(orchestrator *service.Orchestrator, compensator *service.Compensator) *Consumer {
	return &Consumer{orchestrator: orchestrator, compensator: compensator}
}

// HandleLedgerCompleted processes a successful ledger posting report.
func (c *Consumer) HandleLedgerCompleted(ctx context.Context, delivery *rabbitmq.Delivery) error {
	c.handleStepCompleted(ctx, delivery.Body, domain.StepLedger)
	return nil
}

// HandleBalanceCompleted processes a successful balance update report.
func (c *Consumer) HandleBalanceCompleted(ctx context.Context, delivery *rabbitmq.Delivery) error {
	c.handleStepCompleted(ctx, delivery.Body, domain.StepBalance)
	return nil
}

// HandleLedgerFailed processes a ledger posting failure report.
func (c *Consumer) HandleLedgerFailed(ctx context.Context, delivery *rabbitmq.Delivery) error {
	c.handleStepFailed(ctx, delivery.Body, domain.StepLedger)
	return nil
}

// HandleBalanceFailed processes a balance update failure report.
func (c *Consumer) HandleBalanceFailed(ctx context.Context, delivery *rabbitmq.Delivery) error {
	c.handleStepFailed(ctx, delivery.Body, domain.StepBalance)
	return nil
}

// HandleCompensationCompleted processes a compensation convergence report.
func (c *Consumer) HandleCompensationCompleted(ctx context.Context, delivery *rabbitmq.Delivery) error {
	c.handleCompensationCompleted(ctx, delivery.Body)
	return nil
}

func (c *Consumer) handleStepCompleted(ctx context.Context, body []byte, step domain.Step) {
	evt, err := decode(ctx, body)
	if err != nil {
		return
	}

	if err := c.orchestrator.HandleStepCompleted(ctx, evt.PaymentID, step); err != nil {
		logHandlerError(ctx, "step completion", evt.PaymentID, step, err)
	}
}

func (c *Consumer) handleStepFailed(ctx context.Context, body []byte, step domain.Step) {
	evt, err := decode(ctx, body)
	if err != nil {
		return
	}

	if err := c.orchestrator.HandleStepFailed(ctx, evt.PaymentID, step, evt.Reason); err != nil {
		logHandlerError(ctx, "step failure", evt.PaymentID, step, err)
	}
}

func (c *Consumer) handleCompensationCompleted(ctx context.Context, body []byte) {
	evt, err := decode(ctx, body)
	if err != nil {
		return
	}

	if err := c.compensator.HandleCompensationCompleted(ctx, evt.PaymentID, evt.Service); err != nil {
		slog.ErrorContext(ctx, "failed to handle compensation completion",
			"payment_id", evt.PaymentID, "service", evt.Service, "error", err)
	}
}

func decode(ctx context.Context, body []byte) (bus.Event, error) {
	evt, err := bus.Decode(body)
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed saga event", "error", err)
		return bus.Event{}, err
	}
	return evt, nil
}

func logHandlerError(ctx context.Context, what, paymentID string, step domain.Step, err error) {
	if errors.Is(err, service.ErrOrphanEvent) {
		slog.WarnContext(ctx, "dropping orphan "+what+" event",
			"payment_id", paymentID, "step", string(step))
		return
	}
	slog.ErrorContext(ctx, "failed to handle "+what,
		"payment_id", paymentID, "step", string(step), "error", err)
}
