package service

import (
	"context"
	"testing"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/fintechdev/payment-saga/internal/pkg/bus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompensatorFixture(t *testing.T) (*Compensator, *store.MemoryStore, *recordingPublisher) {
	t.Helper()

	mem := store.NewMemoryStore()
	publisher := &recordingPublisher{}
	return NewCompensator(mem, publisher), mem, publisher
}

func createFailedSaga(t *testing.T, mem *store.MemoryStore, paymentID string, completed ...domain.Step) {
	t.Helper()

	saga := domain.NewSagaRecord(paymentID, "acc-1", decimal.NewFromInt(100), "USD", time.Minute)
	for _, step := range completed {
		saga.MarkStepCompleted(step)
	}
	saga.Fail("Balance failed: insufficient funds")
	require.NoError(t, mem.Create(context.Background(), saga))
}

func TestStartCompensation_NoCompletedSteps(t *testing.T) {
	compensator, mem, publisher := newCompensatorFixture(t)
	ctx := context.Background()
	createFailedSaga(t, mem, "pay-1")

	require.NoError(t, compensator.StartCompensation(ctx, "pay-1"))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensated, saga.Status)
	assert.Empty(t, publisher.published(), "nothing to unwind, nothing to publish")
}

func TestStartCompensation_RequestsPerCompletedStep(t *testing.T) {
	compensator, mem, publisher := newCompensatorFixture(t)
	ctx := context.Background()
	createFailedSaga(t, mem, "pay-1", domain.StepLedger, domain.StepBalance)

	require.NoError(t, compensator.StartCompensation(ctx, "pay-1"))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensating, saga.Status)

	requests := publisher.byKey(bus.KeyCompensation)
	require.Len(t, requests, 2)
	assert.Equal(t, bus.LedgerExchange, requests[0].exchange)
	assert.Equal(t, bus.BalanceExchange, requests[1].exchange)
	for _, req := range requests {
		assert.Equal(t, bus.EventCompensationRequested, req.evt.Event)
		assert.Equal(t, "pay-1", req.evt.PaymentID)
		assert.Equal(t, "Balance failed: insufficient funds", req.evt.Reason)
	}

	announcements := publisher.byKey(bus.KeyCompensationRequested)
	require.Len(t, announcements, 1)
	assert.Equal(t, bus.SagaExchange, announcements[0].exchange)
}

func TestStartCompensation_IgnoresNonFailedSaga(t *testing.T) {
	compensator, mem, publisher := newCompensatorFixture(t)
	ctx := context.Background()

	saga := domain.NewSagaRecord("pay-1", "acc-1", decimal.NewFromInt(100), "USD", time.Minute)
	require.NoError(t, mem.Create(ctx, saga))

	require.NoError(t, compensator.StartCompensation(ctx, "pay-1"))

	got, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Empty(t, publisher.published())
}

func TestHandleCompensationCompleted(t *testing.T) {
	compensator, mem, _ := newCompensatorFixture(t)
	ctx := context.Background()
	createFailedSaga(t, mem, "pay-1", domain.StepLedger)

	require.NoError(t, compensator.StartCompensation(ctx, "pay-1"))
	require.NoError(t, compensator.HandleCompensationCompleted(ctx, "pay-1", "ledger"))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensated, saga.Status)

	// Redelivered report is a no-op.
	before := saga.Version
	require.NoError(t, compensator.HandleCompensationCompleted(ctx, "pay-1", "ledger"))

	saga, err = mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, before, saga.Version)
}
