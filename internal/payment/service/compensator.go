package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
)

// Compensator drives the unwind of a failed saga: it flips the record to
// COMPENSATING, asks each completed step's service to reverse its work and
// records convergence to COMPENSATED.
type Compensator struct {
	store     store.Store
	publisher bus.Publisher
}

// NewCompensator wires the compensator to the saga store and the bus.
func NewCompensator(s store.Store, publisher bus.Publisher) *Compensator {
	return &Compensator{store: s, publisher: publisher}
}

// StartCompensation begins the unwind for a FAILED saga. Only completed
// steps are asked to reverse; a saga that failed before any step finished
// has nothing to undo and goes straight to COMPENSATED.
func (c *Compensator) StartCompensation(ctx context.Context, paymentID string) error {
	saga, err := transition(ctx, c.store, paymentID, func(saga *domain.SagaRecord) bool {
		if saga.Status != domain.StatusFailed {
			return false
		}
		if len(saga.CompletedSteps()) == 0 {
			saga.Status = domain.StatusCompensated
		} else {
			saga.Status = domain.StatusCompensating
		}
		return true
	})
	if err != nil {
		return err
	}

	switch saga.Status {
	case domain.StatusCompensated:
		slog.InfoContext(ctx, "saga compensated, no completed steps to unwind",
			"payment_id", paymentID, "reason", saga.FailureReason)
		return nil
	case domain.StatusCompensating:
		// Fall through to the fan-out below.
	default:
		slog.InfoContext(ctx, "skipping compensation for settled saga",
			"payment_id", paymentID, "status", string(saga.Status))
		return nil
	}

	now := time.Now().UnixMilli()
	for _, step := range saga.CompletedSteps() {
		evt := bus.Event{
			Event:     bus.EventCompensationRequested,
			PaymentID: paymentID,
			AccountID: saga.AccountID,
			Amount:    saga.Amount,
			Currency:  saga.Currency,
			Reason:    saga.FailureReason,
			TS:        now,
		}

		exchange := bus.LedgerExchange
		if step == domain.StepBalance {
			exchange = bus.BalanceExchange
		}
		if err := c.publisher.Publish(ctx, exchange, bus.KeyCompensation, evt); err != nil {
			slog.ErrorContext(ctx, "failed to publish compensation request",
				"payment_id", paymentID, "step", string(step), "error", err)
			continue
		}

		slog.InfoContext(ctx, "compensation requested",
			"payment_id", paymentID, "step", string(step))
	}

	announce := bus.Event{
		Event:     bus.EventCompensationRequested,
		PaymentID: paymentID,
		Reason:    saga.FailureReason,
		TS:        now,
	}
	if err := c.publisher.Publish(ctx, bus.SagaExchange, bus.KeyCompensationRequested, announce); err != nil {
		slog.ErrorContext(ctx, "failed to announce compensation",
			"payment_id", paymentID, "error", err)
	}

	return nil
}

// HandleCompensationCompleted records that a service finished reversing its
// work and settles the saga. Redeliveries and reports for already settled
// sagas are no-ops.
func (c *Compensator) HandleCompensationCompleted(ctx context.Context, paymentID, serviceName string) error {
	saga, err := transition(ctx, c.store, paymentID, func(saga *domain.SagaRecord) bool {
		if saga.Status != domain.StatusCompensating {
			return false
		}
		saga.Status = domain.StatusCompensated
		return true
	})
	if err != nil {
		return err
	}

	if saga.Status == domain.StatusCompensated {
		slog.InfoContext(ctx, "saga compensated",
			"payment_id", paymentID, "service", serviceName)
	}
	return nil
}
