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

func newOrchestratorFixture(t *testing.T) (*Orchestrator, *store.MemoryStore, *recordingPublisher) {
	t.Helper()

	mem := store.NewMemoryStore()
	publisher := &recordingPublisher{}
	compensator := NewCompensator(mem, publisher)
	orchestrator := NewOrchestrator(mem, fastCorrelator(mem), compensator)
	return orchestrator, mem, publisher
}

func createSaga(t *testing.T, mem *store.MemoryStore, paymentID string) {
	t.Helper()

	saga := domain.NewSagaRecord(paymentID, "acc-1", decimal.NewFromInt(100), "USD", time.Minute)
	require.NoError(t, mem.Create(context.Background(), saga))
}

func TestHandleStepCompleted_FirstStep(t *testing.T) {
	orchestrator, mem, _ := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, saga.LedgerCompleted)
	assert.Equal(t, domain.StatusProcessing, saga.Status)
}

func TestHandleStepCompleted_BothStepsCompleteSaga(t *testing.T) {
	orchestrator, mem, _ := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))
	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepBalance))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, saga.Status)
}

func TestHandleStepCompleted_RedeliveryIsNoOp(t *testing.T) {
	orchestrator, mem, _ := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))

	before, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))

	after, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "redelivery must not write")
}

func TestHandleStepCompleted_DoesNotReviveCompensatingSaga(t *testing.T) {
	orchestrator, mem, _ := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))
	require.NoError(t, orchestrator.HandleStepFailed(ctx, "pay-1", domain.StepBalance, "insufficient funds"))

	// A late ledger completion must not flip the saga back to COMPLETED.
	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepBalance))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, saga.InCompensation())
	assert.NotEqual(t, domain.StatusCompleted, saga.Status)
}

func TestHandleStepCompleted_OrphanEvent(t *testing.T) {
	orchestrator, _, _ := newOrchestratorFixture(t)

	err := orchestrator.HandleStepCompleted(context.Background(), "pay-unknown", domain.StepLedger)
	assert.ErrorIs(t, err, ErrOrphanEvent)
}

func TestHandleStepFailed_StartsCompensation(t *testing.T) {
	orchestrator, mem, publisher := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))
	require.NoError(t, orchestrator.HandleStepFailed(ctx, "pay-1", domain.StepBalance, "insufficient funds"))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompensating, saga.Status)
	assert.Equal(t, "Balance failed: insufficient funds", saga.FailureReason)

	requests := publisher.byKey(bus.KeyCompensation)
	require.Len(t, requests, 1)
	assert.Equal(t, bus.LedgerExchange, requests[0].exchange)
	assert.Equal(t, bus.EventCompensationRequested, requests[0].evt.Event)
}

func TestHandleStepFailed_EmptyReason(t *testing.T) {
	orchestrator, mem, _ := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepFailed(ctx, "pay-1", domain.StepLedger, ""))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "Ledger failed: Unknown error", saga.FailureReason)
}

func TestHandleStepFailed_IgnoredOnceSettled(t *testing.T) {
	orchestrator, mem, publisher := newOrchestratorFixture(t)
	ctx := context.Background()
	createSaga(t, mem, "pay-1")

	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepLedger))
	require.NoError(t, orchestrator.HandleStepCompleted(ctx, "pay-1", domain.StepBalance))

	// A stray failure after completion changes nothing.
	require.NoError(t, orchestrator.HandleStepFailed(ctx, "pay-1", domain.StepBalance, "too late"))

	saga, err := mem.FindByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, saga.Status)
	assert.Empty(t, saga.FailureReason)
	assert.Empty(t, publisher.byKey(bus.KeyCompensation))
}
