package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
)

// MemoryStore is an in-memory Store for tests. It implements the same
// compare-and-swap semantics as the SQLite repository so concurrency
// tests exercise real conflict paths.
type MemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]*domain.SagaRecord
}

// NewMemoryStore creates an empty in-memory saga store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sagas: make(map[string]*domain.SagaRecord)}
}

// Create stores a new saga record.
func (s *MemoryStore) Create(ctx context.Context, saga *domain.SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sagas[saga.PaymentID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePayment, saga.PaymentID)
	}
	s.sagas[saga.PaymentID] = saga.Clone()
	return nil
}

// FindByPaymentID returns a copy of the record.
func (s *MemoryStore) FindByPaymentID(ctx context.Context, paymentID string) (*domain.SagaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saga, exists := s.sagas[paymentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, paymentID)
	}
	return saga.Clone(), nil
}

// Update applies a compare-and-swap on Version.
func (s *MemoryStore) Update(ctx context.Context, saga *domain.SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sagas[saga.PaymentID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSagaNotFound, saga.PaymentID)
	}
	if current.Version != saga.Version {
		return fmt.Errorf("%w: %s (have %d, want %d)", ErrVersionConflict, saga.PaymentID, current.Version, saga.Version)
	}

	saga.Version++
	saga.UpdatedAt = time.Now().UTC()
	s.sagas[saga.PaymentID] = saga.Clone()
	return nil
}

// FindTimedOut returns copies of expired PROCESSING sagas.
func (s *MemoryStore) FindTimedOut(ctx context.Context, now time.Time) ([]*domain.SagaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*domain.SagaRecord
	for _, saga := range s.sagas {
		if saga.TimedOut(now) {
			expired = append(expired, saga.Clone())
		}
	}
	return expired, nil
}

var _ Store = (*MemoryStore)(nil)
