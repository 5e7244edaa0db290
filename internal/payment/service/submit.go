package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/idempotency"
	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// DefaultSagaTimeout is how long a saga may sit in PROCESSING before the
// supervisor fails it.
const DefaultSagaTimeout = 30 * time.Second

// Publish retry within one submission; the circuit breaker sits outside.
const (
	publishRetries  = 2
	publishInterval = 100 * time.Millisecond
)

var (
	// ErrValidation marks a rejected request; handlers map it to 400.
	ErrValidation = errors.New("payment: invalid request")

	// ErrUnavailable marks a submission refused because the broker is
	// unreachable; handlers map it to 503.
	ErrUnavailable = errors.New("payment: temporarily unavailable")
)

// InitiatedPublisher fans the initiation event out to every collaborator.
// The messaging package provides the RabbitMQ implementation.
type InitiatedPublisher interface {
	PublishPaymentInitiated(ctx context.Context, saga *domain.SagaRecord) error
}

// SubmitRequest is a validated payment submission.
type SubmitRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// SubmitResult is what the HTTP layer returns; it is also the value cached
// by the idempotency guard so retries see the original answer.
type SubmitResult struct {
	PaymentID string
	Status    domain.Status
	Timestamp int64
	Replayed  bool
}

// Submitter accepts payment submissions: it deduplicates by idempotency
// key, persists the saga and fans the initiation event out on the bus.
type Submitter struct {
	store     store.Store
	guard     *idempotency.Guard
	publisher InitiatedPublisher
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
}

// NewSubmitter wires a submitter; zero timeout means DefaultSagaTimeout.
func NewSubmitter(s store.Store, guard *idempotency.Guard, publisher InitiatedPublisher, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = DefaultSagaTimeout
	}
	return &Submitter{
		store:     s,
		guard:     guard,
		publisher: publisher,
		timeout:   timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "payment-initiate",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Submit runs one payment submission end to end.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	// An absent key means the client opted out of deduplication; every
	// such submission creates a new payment.
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)

	if idempotencyKey != "" {
		if cached, err := s.guard.Lookup(ctx, idempotencyKey); err != nil {
			// Fail open: a cache outage must not block payments. The worst
			// case is a duplicate submission, which downstream transaction-ID
			// uniqueness absorbs.
			slog.WarnContext(ctx, "idempotency lookup failed, proceeding",
				"error", err)
		} else if cached != nil {
			slog.InfoContext(ctx, "replaying idempotent submission",
				"payment_id", cached.PaymentID, "idempotency_key", idempotencyKey)
			return &SubmitResult{
				PaymentID: cached.PaymentID,
				Status:    domain.Status(cached.Status),
				Timestamp: cached.Timestamp,
				Replayed:  true,
			}, nil
		}
	}

	saga := domain.NewSagaRecord(uuid.NewString(), req.AccountID, req.Amount, req.Currency, s.timeout)
	if err := s.store.Create(ctx, saga); err != nil {
		return nil, fmt.Errorf("create saga: %w", err)
	}

	if err := s.publishInitiated(ctx, saga); err != nil {
		// The saga row exists but nobody will ever act on it; fail it now
		// so it does not linger until the timeout sweep.
		s.failStranded(ctx, saga.PaymentID, err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: publish initiation: %v", ErrUnavailable, err)
	}

	result := &SubmitResult{
		PaymentID: saga.PaymentID,
		Status:    saga.Status,
		Timestamp: saga.CreatedAt.UnixMilli(),
	}

	if idempotencyKey != "" {
		if err := s.guard.Store(ctx, idempotencyKey, idempotency.Record{
			PaymentID: result.PaymentID,
			Status:    string(result.Status),
			Timestamp: result.Timestamp,
		}); err != nil {
			slog.WarnContext(ctx, "failed to cache idempotency record",
				"payment_id", result.PaymentID, "error", err)
		}
	}

	slog.InfoContext(ctx, "payment submitted",
		"payment_id", result.PaymentID, "account_id", req.AccountID,
		"amount", req.Amount.String(), "currency", req.Currency)
	return result, nil
}

func (s *Submitter) publishInitiated(ctx context.Context, saga *domain.SagaRecord) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		publish := func() error {
			return s.publisher.PublishPaymentInitiated(ctx, saga)
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(publishInterval), publishRetries),
			ctx,
		)
		return nil, backoff.Retry(publish, policy)
	})
	return err
}

func (s *Submitter) failStranded(ctx context.Context, paymentID string, cause error) {
	_, err := transition(ctx, s.store, paymentID, func(saga *domain.SagaRecord) bool {
		if saga.Status != domain.StatusProcessing {
			return false
		}
		saga.Fail("Initiation failed: " + cause.Error())
		return true
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark stranded saga",
			"payment_id", paymentID, "error", err)
	}
}

func validate(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.AccountID) == "":
		return fmt.Errorf("%w: accountId is required", ErrValidation)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	case len(req.Currency) != 3:
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	return nil
}
