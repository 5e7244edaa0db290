package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/fintechdev/payment-saga/internal/ledger/domain"
)

// MemoryStore is an in-memory Store for tests. Not persisted.
type MemoryStore struct {
	mu      sync.RWMutex
	byTxID  map[string]*domain.LedgerEntry
	ordered []*domain.LedgerEntry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTxID: make(map[string]*domain.LedgerEntry),
	}
}

// Insert appends an entry, enforcing transaction-ID uniqueness under lock.
func (s *MemoryStore) Insert(ctx context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTxID[entry.TransactionID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, entry.TransactionID)
	}

	clone := *entry
	s.byTxID[clone.TransactionID] = &clone
	s.ordered = append(s.ordered, &clone)
	return nil
}

// FindByTransactionID returns a copy of the matching entry.
func (s *MemoryStore) FindByTransactionID(ctx context.Context, transactionID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.byTxID[transactionID]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %q", ErrEntryNotFound, transactionID)
	}
	clone := *entry
	return &clone, nil
}

// FindByPaymentID returns copies of all entries for a payment in insertion order.
func (s *MemoryStore) FindByPaymentID(ctx context.Context, paymentID string) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*domain.LedgerEntry
	for _, entry := range s.ordered {
		if entry.PaymentID == paymentID {
			clone := *entry
			entries = append(entries, &clone)
		}
	}
	return entries, nil
}

// Count returns the number of stored entries (test helper).
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

var _ Store = (*MemoryStore)(nil)
