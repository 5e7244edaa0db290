package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/idempotency"
	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string)}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *memoryCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("payment:%s:%s", operation, key)
}

type fakeInitiatedPublisher struct {
	mu       sync.Mutex
	failing  bool
	payments []string
}

func (p *fakeInitiatedPublisher) PublishPaymentInitiated(ctx context.Context, saga *domain.SagaRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("broker unavailable")
	}
	p.payments = append(p.payments, saga.PaymentID)
	return nil
}

func newSubmitterFixture(t *testing.T) (*Submitter, *store.MemoryStore, *fakeInitiatedPublisher) {
	t.Helper()

	mem := store.NewMemoryStore()
	publisher := &fakeInitiatedPublisher{}
	submitter := NewSubmitter(mem, idempotency.NewGuard(newMemoryCache()), publisher, time.Minute)
	return submitter, mem, publisher
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		AccountID:      "acc-1",
		Amount:         decimal.RequireFromString("99.95"),
		Currency:       "USD",
		IdempotencyKey: "key-1",
	}
}

func TestSubmit(t *testing.T) {
	submitter, mem, publisher := newSubmitterFixture(t)

	result, err := submitter.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, result.PaymentID)
	assert.Equal(t, domain.StatusProcessing, result.Status)
	assert.False(t, result.Replayed)

	saga, err := mem.FindByPaymentID(context.Background(), result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", saga.AccountID)
	assert.Equal(t, []string{result.PaymentID}, publisher.payments)
}

func TestSubmit_Validation(t *testing.T) {
	submitter, _, _ := newSubmitterFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"missing account", func(r *SubmitRequest) { r.AccountID = "" }},
		{"zero amount", func(r *SubmitRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *SubmitRequest) { r.Amount = decimal.NewFromInt(-1) }},
		{"bad currency", func(r *SubmitRequest) { r.Currency = "DOLLARS" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := submitter.Submit(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	submitter, _, publisher := newSubmitterFixture(t)
	ctx := context.Background()

	first, err := submitter.Submit(ctx, validRequest())
	require.NoError(t, err)

	second, err := submitter.Submit(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.True(t, second.Replayed)

	// Only the first submission started a saga.
	assert.Len(t, publisher.payments, 1)
}

func TestSubmit_WithoutIdempotencyKey(t *testing.T) {
	submitter, mem, publisher := newSubmitterFixture(t)
	ctx := context.Background()

	// No key means no deduplication: each submission is a new payment.
	req := validRequest()
	req.IdempotencyKey = ""

	first, err := submitter.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := submitter.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Replayed)

	assert.NotEqual(t, first.PaymentID, second.PaymentID)
	assert.Len(t, publisher.payments, 2)

	_, err = mem.FindByPaymentID(ctx, first.PaymentID)
	require.NoError(t, err)
	_, err = mem.FindByPaymentID(ctx, second.PaymentID)
	require.NoError(t, err)
}

func TestSubmit_NormalizesCurrency(t *testing.T) {
	submitter, mem, _ := newSubmitterFixture(t)
	ctx := context.Background()

	req := validRequest()
	req.Currency = "usd"

	result, err := submitter.Submit(ctx, req)
	require.NoError(t, err)

	saga, err := mem.FindByPaymentID(ctx, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "USD", saga.Currency)
}

func TestSubmit_DistinctKeysDistinctPayments(t *testing.T) {
	submitter, _, _ := newSubmitterFixture(t)
	ctx := context.Background()

	first, err := submitter.Submit(ctx, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.IdempotencyKey = "key-2"
	second, err := submitter.Submit(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.PaymentID, second.PaymentID)
}

func TestSubmit_PublishFailureFailsSaga(t *testing.T) {
	submitter, mem, publisher := newSubmitterFixture(t)
	publisher.failing = true

	_, err := submitter.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrUnavailable)

	// The stranded row is failed immediately, not left for the sweep.
	sagas, findErr := mem.FindTimedOut(context.Background(), time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, findErr)
	assert.Empty(t, sagas)
}
