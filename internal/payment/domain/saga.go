// Package domain defines the saga record: the persisted state machine that
// tracks one payment attempt across the ledger and balance steps.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a saga. Transitions are monotonic
// forward-only except the explicit FAILED → COMPENSATING → COMPENSATED
// chain; COMPLETED and COMPENSATED are terminal.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusProcessing   Status = "PROCESSING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
)

// Step identifies one of the two collaborators a payment fans out to.
type Step string

const (
	StepLedger  Step = "ledger"
	StepBalance Step = "balance"
)

// Label returns the human-readable step name used in failure reasons.
func (s Step) Label() string {
	switch s {
	case StepLedger:
		return "Ledger"
	case StepBalance:
		return "Balance"
	}
	return string(s)
}

// SagaRecord is one payment attempt. It is created once in PROCESSING,
// mutated only through the orchestrator, compensator and timeout
// supervisor, and never deleted (retained for audit).
type SagaRecord struct {
	PaymentID        string
	Status           Status
	AccountID        string
	Amount           decimal.Decimal
	Currency         string
	LedgerCompleted  bool
	BalanceCompleted bool
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// TimeoutAt is set once at creation and never mutated.
	TimeoutAt time.Time

	// Version backs the store's compare-and-swap update.
	Version int64
}

// NewSagaRecord creates a saga in PROCESSING with its deadline stamped.
// The currency is uppercased so the saga, its events and the ledger
// entries they produce all carry the same code.
func NewSagaRecord(paymentID, accountID string, amount decimal.Decimal, currency string, timeout time.Duration) *SagaRecord {
	now := time.Now().UTC()
	return &SagaRecord{
		PaymentID: paymentID,
		Status:    StatusProcessing,
		AccountID: accountID,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		CreatedAt: now,
		UpdatedAt: now,
		TimeoutAt: now.Add(timeout),
	}
}

// MarkStepCompleted sets the step's flag. It reports whether the flag
// actually changed, so redelivered events can be recognised as no-ops.
func (s *SagaRecord) MarkStepCompleted(step Step) bool {
	switch step {
	case StepLedger:
		if s.LedgerCompleted {
			return false
		}
		s.LedgerCompleted = true
	case StepBalance:
		if s.BalanceCompleted {
			return false
		}
		s.BalanceCompleted = true
	default:
		return false
	}
	return true
}

// StepCompleted reports whether the given step's flag is set.
func (s *SagaRecord) StepCompleted(step Step) bool {
	switch step {
	case StepLedger:
		return s.LedgerCompleted
	case StepBalance:
		return s.BalanceCompleted
	}
	return false
}

// CompletedSteps lists the steps whose flags are set, in fan-out order.
func (s *SagaRecord) CompletedSteps() []Step {
	var steps []Step
	if s.LedgerCompleted {
		steps = append(steps, StepLedger)
	}
	if s.BalanceCompleted {
		steps = append(steps, StepBalance)
	}
	return steps
}

// BothStepsCompleted reports whether ledger and balance have both reported.
func (s *SagaRecord) BothStepsCompleted() bool {
	return s.LedgerCompleted && s.BalanceCompleted
}

// InCompensation reports whether the saga entered the compensation chain.
// Once true, a late-arriving completion event must not revive the saga.
func (s *SagaRecord) InCompensation() bool {
	return s.Status == StatusCompensating || s.Status == StatusCompensated
}

// IsTerminal reports whether the saga reached a final state.
func (s *SagaRecord) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCompensated
}

// TimedOut reports whether the deadline elapsed without both steps done.
func (s *SagaRecord) TimedOut(now time.Time) bool {
	return s.Status == StatusProcessing && now.After(s.TimeoutAt) && !s.BothStepsCompleted()
}

// Fail moves the saga to FAILED with the given reason.
func (s *SagaRecord) Fail(reason string) {
	s.Status = StatusFailed
	s.FailureReason = reason
}

// StepFailureReason formats the reason recorded when a step reports failure.
func StepFailureReason(step Step, reason string) string {
	if reason == "" {
		reason = "Unknown error"
	}
	return fmt.Sprintf("%s failed: %s", step.Label(), reason)
}

// TimeoutReason identifies which step(s) were still outstanding when the
// deadline elapsed.
func (s *SagaRecord) TimeoutReason() string {
	switch {
	case !s.LedgerCompleted && !s.BalanceCompleted:
		return "Timeout: Both Ledger and Balance services did not respond"
	case !s.LedgerCompleted:
		return "Timeout: Ledger service did not respond"
	default:
		return "Timeout: Balance service did not respond"
	}
}

// Clone returns a deep copy; stores hand out clones so callers never share
// a record with the store's internal state.
func (s *SagaRecord) Clone() *SagaRecord {
	clone := *s
	return &clone
}
