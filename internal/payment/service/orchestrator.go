// Package service holds the saga side's use cases: submitting payments,
// folding step results into the saga state machine, driving compensation
// and sweeping timeouts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/store"
)

// casMaxAttempts caps reload-and-retry on version conflicts. Conflicts on
// one payment come from at most a handful of concurrent handlers, so a
// small cap is plenty; hitting it means something is looping.
const casMaxAttempts = 5

// transition loads the saga, applies fn to the fresh copy and writes it
// back, retrying the whole cycle on version conflict. fn returns false to
// signal that nothing changed and the write should be skipped (the usual
// outcome for redelivered events).
func transition(ctx context.Context, s store.Store, paymentID string, fn func(*domain.SagaRecord) bool) (*domain.SagaRecord, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		saga, err := s.FindByPaymentID(ctx, paymentID)
		if err != nil {
			return nil, err
		}

		if !fn(saga) {
			return saga, nil
		}

		err = s.Update(ctx, saga)
		if err == nil {
			return saga, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}

		slog.DebugContext(ctx, "saga version conflict, retrying",
			"payment_id", paymentID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("saga %s: %w after %d attempts", paymentID, store.ErrVersionConflict, casMaxAttempts)
}

// Orchestrator folds step results from the ledger and balance services
// into the saga record.
type Orchestrator struct {
	store       store.Store
	correlator  *Correlator
	compensator *Compensator
}

// NewOrchestrator wires the orchestrator to its store and collaborators.
func NewOrchestrator(s store.Store, correlator *Correlator, compensator *Compensator) *Orchestrator {
	return &Orchestrator{store: s, correlator: correlator, compensator: compensator}
}

// HandleStepCompleted records a successful step. When it is the last
// outstanding step and the saga is still PROCESSING, the saga completes.
// A completion arriving after compensation started only sets the step
// flag; it never revives the saga.
func (o *Orchestrator) HandleStepCompleted(ctx context.Context, paymentID string, step domain.Step) error {
	if _, err := o.correlator.Resolve(ctx, paymentID); err != nil {
		return err
	}

	saga, err := transition(ctx, o.store, paymentID, func(saga *domain.SagaRecord) bool {
		changed := saga.MarkStepCompleted(step)

		if saga.Status == domain.StatusProcessing && saga.BothStepsCompleted() && !saga.InCompensation() {
			saga.Status = domain.StatusCompleted
			changed = true
		}
		return changed
	})
	if err != nil {
		return err
	}

	if saga.Status == domain.StatusCompleted {
		slog.InfoContext(ctx, "saga completed",
			"payment_id", paymentID, "step", string(step))
	} else {
		slog.InfoContext(ctx, "saga step completed",
			"payment_id", paymentID, "step", string(step), "status", string(saga.Status))
	}
	return nil
}

// HandleStepFailed moves a PROCESSING saga to FAILED and starts
// compensation. Failures for sagas already past PROCESSING are ignored:
// the first failure wins and later ones are redeliveries or races.
func (o *Orchestrator) HandleStepFailed(ctx context.Context, paymentID string, step domain.Step, reason string) error {
	if _, err := o.correlator.Resolve(ctx, paymentID); err != nil {
		return err
	}

	saga, err := transition(ctx, o.store, paymentID, func(saga *domain.SagaRecord) bool {
		if saga.Status != domain.StatusProcessing {
			return false
		}
		saga.Fail(domain.StepFailureReason(step, reason))
		return true
	})
	if err != nil {
		return err
	}

	if saga.Status != domain.StatusFailed {
		slog.InfoContext(ctx, "ignoring step failure for settled saga",
			"payment_id", paymentID, "step", string(step), "status", string(saga.Status))
		return nil
	}

	slog.WarnContext(ctx, "saga step failed, starting compensation",
		"payment_id", paymentID, "step", string(step), "reason", saga.FailureReason)

	return o.compensator.StartCompensation(ctx, paymentID)
}
