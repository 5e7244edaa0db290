// Package domain defines the ledger's core types.
//
// A LedgerEntry is append-only and immutable after creation: compensation
// never mutates or deletes an entry, it appends a reversing one.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the side of a posting.
type EntryType string

const (
	Debit  EntryType = "DEBIT"
	Credit EntryType = "CREDIT"
)

// CompensationSuffix marks transaction IDs that denote a reversing entry.
// Deriving the reversal's ID from the original keeps compensation replays
// idempotent: the second attempt trips the uniqueness check.
const CompensationSuffix = "-compensation"

// Validation errors returned by NewEntry.
var (
	ErrMissingTransactionID = errors.New("ledger: transaction id is required")
	ErrMissingPaymentID     = errors.New("ledger: payment id is required")
	ErrMissingAccountID     = errors.New("ledger: account id is required")
	ErrNonPositiveAmount    = errors.New("ledger: amount must be greater than zero")
	ErrInvalidCurrency      = errors.New("ledger: currency must be a 3-letter code")
	ErrInvalidEntryType     = errors.New("ledger: type must be DEBIT or CREDIT")
)

// LedgerEntry is a single posting. TransactionID is globally unique and
// doubles as the idempotency key for the append operation.
type LedgerEntry struct {
	TransactionID string
	PaymentID     string
	AccountID     string
	Amount        decimal.Decimal
	Currency      string
	Type          EntryType
	CreatedAt     time.Time
}

// NewEntry validates the posting fields and stamps the creation time.
func NewEntry(transactionID, paymentID, accountID string, amount decimal.Decimal, currency string, entryType EntryType) (*LedgerEntry, error) {
	if transactionID == "" {
		return nil, ErrMissingTransactionID
	}
	if paymentID == "" {
		return nil, ErrMissingPaymentID
	}
	if accountID == "" {
		return nil, ErrMissingAccountID
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrNonPositiveAmount, amount)
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidCurrency, currency)
	}
	if entryType != Debit && entryType != Credit {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidEntryType, entryType)
	}

	return &LedgerEntry{
		TransactionID: transactionID,
		PaymentID:     paymentID,
		AccountID:     accountID,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		Type:          entryType,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// IsCompensation reports whether this entry already reverses another one.
func (e *LedgerEntry) IsCompensation() bool {
	return strings.Contains(e.TransactionID, CompensationSuffix)
}

// Reversal builds the compensating entry: same amounts, flipped type,
// transaction ID derived deterministically from the original.
func (e *LedgerEntry) Reversal() (*LedgerEntry, error) {
	flipped := Credit
	if e.Type == Credit {
		flipped = Debit
	}
	return NewEntry(e.TransactionID+CompensationSuffix, e.PaymentID, e.AccountID, e.Amount, e.Currency, flipped)
}
