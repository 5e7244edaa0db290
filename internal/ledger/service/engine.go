// Package service implements the append engine: double-entry posting with
// transaction-level idempotency, and the compensation path that reverses
// prior postings without ever mutating them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fintechdev/payment-saga/internal/ledger/domain"
	"github.com/fintechdev/payment-saga/internal/ledger/store"
	"github.com/shopspring/decimal"
)

// SystemAccountID is the counterparty account credited on every posting.
// In a fuller system the destination account would come from the request.
const SystemAccountID = "system-account"

// Engine appends ledger entries. All writes go through Append so the
// transaction-ID uniqueness check is applied on every path.
type Engine struct {
	store store.Store
}

// NewEngine creates an append engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Append validates and persists a single entry.
//
// A transaction-ID collision is a hard error (store.ErrDuplicateTransaction),
// not an idempotent no-op: the caller decides whether "already exists" means
// "already applied" for its retry semantics.
func (e *Engine) Append(ctx context.Context, transactionID, paymentID, accountID string, amount decimal.Decimal, currency string, entryType domain.EntryType) (*domain.LedgerEntry, error) {
	entry, err := domain.NewEntry(transactionID, paymentID, accountID, amount, currency, entryType)
	if err != nil {
		return nil, err
	}

	if err := e.store.Insert(ctx, entry); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "ledger entry created",
		"transaction_id", entry.TransactionID,
		"payment_id", entry.PaymentID,
		"account_id", entry.AccountID,
		"amount", entry.Amount.String(),
		"type", entry.Type,
	)
	return entry, nil
}

// AppendPosting writes the balanced DEBIT/CREDIT pair for a payment: the
// source account is debited and the system account credited.
//
// Transaction IDs are derived from the payment ID, so a redelivered append
// request trips the uniqueness check and is treated as already applied:
// the ledger never gains more than one pair per payment.
func (e *Engine) AppendPosting(ctx context.Context, paymentID, accountID string, amount decimal.Decimal, currency string) error {
	postings := []struct {
		transactionID string
		accountID     string
		entryType     domain.EntryType
	}{
		{paymentID + "-debit", accountID, domain.Debit},
		{paymentID + "-credit", SystemAccountID, domain.Credit},
	}

	for _, p := range postings {
		_, err := e.Append(ctx, p.transactionID, paymentID, p.accountID, amount, currency, p.entryType)
		if errors.Is(err, store.ErrDuplicateTransaction) {
			slog.InfoContext(ctx, "posting already applied, skipping",
				"transaction_id", p.transactionID, "payment_id", paymentID)
			continue
		}
		if err != nil {
			return fmt.Errorf("append %s posting for payment %s: %w", p.entryType, paymentID, err)
		}
	}
	return nil
}

// Compensate appends one reversing entry per original posting of the
// payment. Entries that already denote a compensation are skipped, and a
// reversal whose derived transaction ID already exists counts as applied,
// so replays of the same compensation request are harmless.
//
// Returns the number of originals that now have a reversal.
func (e *Engine) Compensate(ctx context.Context, paymentID string) (int, error) {
	entries, err := e.store.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return 0, fmt.Errorf("load entries for payment %s: %w", paymentID, err)
	}

	if len(entries) == 0 {
		slog.WarnContext(ctx, "no ledger entries found for compensation", "payment_id", paymentID)
		return 0, nil
	}

	reversed := 0
	for _, entry := range entries {
		if entry.IsCompensation() {
			continue
		}

		reversal, err := entry.Reversal()
		if err != nil {
			return reversed, fmt.Errorf("build reversal for %s: %w", entry.TransactionID, err)
		}

		err = e.store.Insert(ctx, reversal)
		if errors.Is(err, store.ErrDuplicateTransaction) {
			// Already reversed by an earlier delivery of this request.
			reversed++
			continue
		}
		if err != nil {
			return reversed, fmt.Errorf("append reversal %s: %w", reversal.TransactionID, err)
		}
		reversed++
	}

	slog.InfoContext(ctx, "ledger compensation applied",
		"payment_id", paymentID, "reversed_entries", reversed)
	return reversed, nil
}
