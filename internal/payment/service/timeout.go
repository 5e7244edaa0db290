package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/store"
)

// DefaultSweepInterval is how often the supervisor scans for expired sagas.
const DefaultSweepInterval = 5 * time.Second

// TimeoutSupervisor periodically fails sagas whose deadline elapsed before
// both steps reported, then hands them to the compensator.
type TimeoutSupervisor struct {
	store       store.Store
	compensator *Compensator
	interval    time.Duration
}

// NewTimeoutSupervisor creates a supervisor sweeping at the given interval;
// zero means DefaultSweepInterval.
func NewTimeoutSupervisor(s store.Store, compensator *Compensator, interval time.Duration) *TimeoutSupervisor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &TimeoutSupervisor{store: s, compensator: compensator, interval: interval}
}

// Run sweeps until ctx is cancelled. Call it in its own goroutine.
func (t *TimeoutSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "timeout supervisor started", "interval", t.interval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "timeout supervisor stopped")
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: every expired PROCESSING saga is failed with a
// reason naming the unresponsive step(s) and sent to compensation. Errors
// on one saga never block the rest of the sweep.
func (t *TimeoutSupervisor) Sweep(ctx context.Context) {
	expired, err := t.store.FindTimedOut(ctx, time.Now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "timeout sweep query failed", "error", err)
		return
	}

	for _, candidate := range expired {
		if err := t.expire(ctx, candidate.PaymentID); err != nil {
			slog.ErrorContext(ctx, "failed to expire saga",
				"payment_id", candidate.PaymentID, "error", err)
		}
	}
}

func (t *TimeoutSupervisor) expire(ctx context.Context, paymentID string) error {
	// Eligibility is re-checked on the freshly loaded record inside the
	// CAS loop: a step result can land between the sweep query and here.
	saga, err := transition(ctx, t.store, paymentID, func(saga *domain.SagaRecord) bool {
		if !saga.TimedOut(time.Now().UTC()) {
			return false
		}
		saga.Fail(saga.TimeoutReason())
		return true
	})
	if errors.Is(err, store.ErrSagaNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if saga.Status != domain.StatusFailed {
		return nil
	}

	slog.WarnContext(ctx, "saga timed out",
		"payment_id", paymentID, "reason", saga.FailureReason)

	return t.compensator.StartCompensation(ctx, paymentID)
}
