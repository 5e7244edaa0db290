package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/store"
)

// Correlation defaults. A step result can overtake the saga row when the
// store write and the fan-out race, so lookups retry briefly before the
// event is declared an orphan.
const (
	defaultCorrelateAttempts = 10
	defaultCorrelateInterval = 200 * time.Millisecond
)

// ErrOrphanEvent marks an event whose saga never appeared within the
// correlation window. Handlers log and drop these.
var ErrOrphanEvent = errors.New("saga: orphan event")

// Correlator resolves a payment ID from an incoming event to its saga
// record, retrying around the initiation race.
type Correlator struct {
	store    store.Store
	attempts uint64
	interval time.Duration
}

// NewCorrelator creates a correlator with the default retry window
// (10 attempts, 200ms apart).
func NewCorrelator(s store.Store) *Correlator {
	return &Correlator{
		store:    s,
		attempts: defaultCorrelateAttempts,
		interval: defaultCorrelateInterval,
	}
}

// Resolve loads the saga for paymentID, retrying on not-found. Any other
// store error aborts the retry loop immediately.
func (c *Correlator) Resolve(ctx context.Context, paymentID string) (*domain.SagaRecord, error) {
	var saga *domain.SagaRecord

	lookup := func() error {
		found, err := c.store.FindByPaymentID(ctx, paymentID)
		if errors.Is(err, store.ErrSagaNotFound) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		saga = found
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.attempts-1),
		ctx,
	)
	if err := backoff.Retry(lookup, policy); err != nil {
		if errors.Is(err, store.ErrSagaNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrphanEvent, paymentID)
		}
		return nil, err
	}
	return saga, nil
}
