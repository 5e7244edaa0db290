// Package store is the port (interface) for persisting saga records.
// The orchestrator depends on this abstraction, not on SQLite directly,
// so the implementation can be swapped for Postgres or in-memory (tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
)

var (
	// ErrSagaNotFound is returned when no record exists for a payment ID.
	ErrSagaNotFound = errors.New("saga: not found")

	// ErrDuplicatePayment is returned by Create when the payment ID is taken.
	ErrDuplicatePayment = errors.New("saga: payment already exists")

	// ErrVersionConflict is returned by Update when the record changed
	// since it was loaded. Callers reload and re-apply their transition;
	// the state machine's guards make the retry safe.
	ErrVersionConflict = errors.New("saga: version conflict")
)

// Store persists saga records keyed by payment ID.
//
// Update is a compare-and-swap on the record's Version: it only writes if
// the stored version still matches, and bumps both the stored and the
// passed record's Version on success. This is what keeps concurrent
// handlers for the same payment (a completion and a timeout firing
// together) from clobbering each other.
type Store interface {
	Create(ctx context.Context, saga *domain.SagaRecord) error
	FindByPaymentID(ctx context.Context, paymentID string) (*domain.SagaRecord, error)
	Update(ctx context.Context, saga *domain.SagaRecord) error

	// FindTimedOut returns sagas still in PROCESSING whose deadline
	// elapsed before both steps completed.
	FindTimedOut(ctx context.Context, now time.Time) ([]*domain.SagaRecord, error)
}
