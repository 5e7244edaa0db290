// Package sqlite provides a SQLite-backed implementation of store.Store.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa; the compensation consumer reads entries while the append consumer
// writes them.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fintechdev/payment-saga/internal/ledger/domain"
	"github.com/fintechdev/payment-saga/internal/ledger/store"
	"github.com/shopspring/decimal"

	// Register the pure-Go SQLite driver.
	// modernc.org/sqlite avoids CGO, which keeps Alpine builds simple.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. The table is append-only:
// rows are never updated or deleted, and the UNIQUE constraint on
// transaction_id is what makes Insert atomic with respect to duplicates.
const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Globally unique; doubles as the append idempotency key.
    transaction_id  TEXT        NOT NULL UNIQUE,

    payment_id      TEXT        NOT NULL,
    account_id      TEXT        NOT NULL,

    -- Fixed-point decimal stored as TEXT; parsed with shopspring/decimal.
    amount          TEXT        NOT NULL,

    currency        TEXT        NOT NULL,
    type            TEXT        NOT NULL,

    -- RFC3339 stored as TEXT, SQLite idiom.
    created_at      TEXT        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_payment_id ON ledger_entries(payment_id, id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_id ON ledger_entries(account_id, created_at);
`

// Repository is the SQLite implementation of store.Store.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	repo, err := sqlite.Open("./data/ledger.db")
func Open(path string) (*Repository, error) {
	// The pure-Go driver takes _pragma query parameters. WAL enables
	// concurrent readers; busy_timeout waits for locks instead of failing.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply ledger schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// Insert appends a new entry. A transaction-ID collision surfaces as
// store.ErrDuplicateTransaction via the UNIQUE constraint, never via a
// separate read-then-write.
func (r *Repository) Insert(ctx context.Context, entry *domain.LedgerEntry) error {
	const q = `
		INSERT INTO ledger_entries
			(transaction_id, payment_id, account_id, amount, currency, type, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.TransactionID,
		entry.PaymentID,
		entry.AccountID,
		entry.Amount.String(),
		entry.Currency,
		string(entry.Type),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateTransaction, entry.TransactionID)
		}
		return fmt.Errorf("sqlite: insert ledger entry %q: %w", entry.TransactionID, err)
	}
	return nil
}

// FindByTransactionID returns the entry with the given transaction ID.
func (r *Repository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.LedgerEntry, error) {
	const q = `
		SELECT transaction_id, payment_id, account_id, amount, currency, type, created_at
		FROM   ledger_entries
		WHERE  transaction_id = ?`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, q, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %q", store.ErrEntryNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find entry %q: %w", transactionID, err)
	}
	return entry, nil
}

// FindByPaymentID returns all entries for a payment in insertion order,
// originals and compensations alike.
func (r *Repository) FindByPaymentID(ctx context.Context, paymentID string) ([]*domain.LedgerEntry, error) {
	const q = `
		SELECT transaction_id, payment_id, account_id, amount, currency, type, created_at
		FROM   ledger_entries
		WHERE  payment_id = ?
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, paymentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find entries for payment %q: %w", paymentID, err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry for payment %q: %w", paymentID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries for payment %q: %w", paymentID, err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var amount, entryType, createdAt string

	if err := row.Scan(
		&entry.TransactionID,
		&entry.PaymentID,
		&entry.AccountID,
		&amount,
		&entry.Currency,
		&entryType,
		&createdAt,
	); err != nil {
		return nil, err
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	entry.Amount = parsedAmount
	entry.Type = domain.EntryType(entryType)

	entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", createdAt, err)
	}
	return &entry, nil
}

// isUniqueViolation detects the modernc driver's UNIQUE constraint error.
// The driver exposes no typed error for this, so the message is matched.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
