// Package store is the port (interface) for persisting ledger entries.
// The append engine depends on this abstraction, not on SQLite directly,
// so the implementation can be swapped for Postgres or in-memory (tests).
package store

import (
	"context"
	"errors"

	"github.com/fintechdev/payment-saga/internal/ledger/domain"
)

// ErrDuplicateTransaction is returned when an insert collides with an
// existing transaction ID. The caller decides whether that means "hard
// failure" or "already applied" (redelivered append requests take the
// latter reading).
var ErrDuplicateTransaction = errors.New("ledger: transaction already exists")

// ErrEntryNotFound is returned by lookups that match nothing.
var ErrEntryNotFound = errors.New("ledger: entry not found")

// Store persists ledger entries. Insert must enforce transaction-ID
// uniqueness atomically (a database constraint, not read-then-write).
type Store interface {
	Insert(ctx context.Context, entry *domain.LedgerEntry) error
	FindByTransactionID(ctx context.Context, transactionID string) (*domain.LedgerEntry, error)
	FindByPaymentID(ctx context.Context, paymentID string) ([]*domain.LedgerEntry, error)
}
