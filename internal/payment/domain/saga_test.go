package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestSaga(t *testing.T) *SagaRecord {
	t.Helper()
	return NewSagaRecord("pay-1", "acc-1", decimal.NewFromInt(100), "USD", 30*time.Second)
}

func TestNewSagaRecord(t *testing.T) {
	saga := newTestSaga(t)

	assert.Equal(t, StatusProcessing, saga.Status)
	assert.False(t, saga.LedgerCompleted)
	assert.False(t, saga.BalanceCompleted)
	assert.Equal(t, int64(0), saga.Version)
	assert.True(t, saga.TimeoutAt.After(saga.CreatedAt))
}

func TestNewSagaRecord_UppercasesCurrency(t *testing.T) {
	saga := NewSagaRecord("pay-1", "acc-1", decimal.NewFromInt(10), "usd", time.Minute)
	assert.Equal(t, "USD", saga.Currency)
}

func TestMarkStepCompleted(t *testing.T) {
	saga := newTestSaga(t)

	assert.True(t, saga.MarkStepCompleted(StepLedger))
	assert.True(t, saga.LedgerCompleted)

	// Redelivered event: flag already set, nothing changes.
	assert.False(t, saga.MarkStepCompleted(StepLedger))

	assert.False(t, saga.BothStepsCompleted())
	assert.True(t, saga.MarkStepCompleted(StepBalance))
	assert.True(t, saga.BothStepsCompleted())
}

func TestMarkStepCompleted_UnknownStep(t *testing.T) {
	saga := newTestSaga(t)
	assert.False(t, saga.MarkStepCompleted(Step("unknown")))
}

func TestCompletedSteps(t *testing.T) {
	saga := newTestSaga(t)
	assert.Empty(t, saga.CompletedSteps())

	saga.MarkStepCompleted(StepBalance)
	assert.Equal(t, []Step{StepBalance}, saga.CompletedSteps())

	saga.MarkStepCompleted(StepLedger)
	assert.Equal(t, []Step{StepLedger, StepBalance}, saga.CompletedSteps())
}

func TestInCompensation(t *testing.T) {
	saga := newTestSaga(t)
	assert.False(t, saga.InCompensation())

	saga.Status = StatusCompensating
	assert.True(t, saga.InCompensation())

	saga.Status = StatusCompensated
	assert.True(t, saga.InCompensation())
	assert.True(t, saga.IsTerminal())
}

func TestTimedOut(t *testing.T) {
	saga := newTestSaga(t)
	now := time.Now().UTC()

	assert.False(t, saga.TimedOut(now))
	assert.True(t, saga.TimedOut(now.Add(time.Minute)))

	// Completed steps stop the clock.
	saga.MarkStepCompleted(StepLedger)
	saga.MarkStepCompleted(StepBalance)
	assert.False(t, saga.TimedOut(now.Add(time.Minute)))

	// Only PROCESSING sagas can time out.
	failed := newTestSaga(t)
	failed.Fail("boom")
	assert.False(t, failed.TimedOut(now.Add(time.Minute)))
}

func TestFail(t *testing.T) {
	saga := newTestSaga(t)
	saga.Fail("Ledger failed: insufficient funds")

	assert.Equal(t, StatusFailed, saga.Status)
	assert.Equal(t, "Ledger failed: insufficient funds", saga.FailureReason)
}

func TestStepFailureReason(t *testing.T) {
	assert.Equal(t, "Ledger failed: insufficient funds", StepFailureReason(StepLedger, "insufficient funds"))
	assert.Equal(t, "Balance failed: Unknown error", StepFailureReason(StepBalance, ""))
}

func TestTimeoutReason(t *testing.T) {
	saga := newTestSaga(t)
	assert.Equal(t, "Timeout: Both Ledger and Balance services did not respond", saga.TimeoutReason())

	saga.MarkStepCompleted(StepLedger)
	assert.Equal(t, "Timeout: Balance service did not respond", saga.TimeoutReason())

	other := newTestSaga(t)
	other.MarkStepCompleted(StepBalance)
	assert.Equal(t, "Timeout: Ledger service did not respond", other.TimeoutReason())
}

func TestClone(t *testing.T) {
	saga := newTestSaga(t)
	clone := saga.Clone()

	clone.Status = StatusFailed
	clone.MarkStepCompleted(StepLedger)

	assert.Equal(t, StatusProcessing, saga.Status)
	assert.False(t, saga.LedgerCompleted)
}
