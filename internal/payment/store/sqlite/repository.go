// Package sqlite provides a SQLite-backed implementation of store.Store.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa; the timeout supervisor sweeps while event handlers write.
//
// Update is implemented as a compare-and-swap on the version column: the
// UPDATE only matches when the stored version equals the one the caller
// loaded, so interleaved handlers for the same payment surface as
// store.ErrVersionConflict instead of silently overwriting each other.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/domain"
	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/shopspring/decimal"

	// Register the pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_states (
    -- Business identifier and primary key: one row per payment attempt.
    payment_id        TEXT        PRIMARY KEY,

    status            TEXT        NOT NULL,
    account_id        TEXT        NOT NULL,

    -- Fixed-point decimal stored as TEXT; parsed with shopspring/decimal.
    amount            TEXT        NOT NULL,

    currency          TEXT        NOT NULL,

    ledger_completed  INTEGER     NOT NULL DEFAULT 0,
    balance_completed INTEGER     NOT NULL DEFAULT 0,

    failure_reason    TEXT        NOT NULL DEFAULT '',

    -- RFC3339 stored as TEXT, SQLite idiom.
    created_at        TEXT        NOT NULL,
    updated_at        TEXT        NOT NULL,
    timeout_at        TEXT        NOT NULL,

    -- Optimistic-concurrency token bumped on every update.
    version           INTEGER     NOT NULL DEFAULT 0
);

-- Index for the timeout supervisor's sweep query.
CREATE INDEX IF NOT EXISTS idx_saga_states_status_timeout ON saga_states(status, timeout_at);
`

const columns = `payment_id, status, account_id, amount, currency,
	ledger_completed, balance_completed, failure_reason,
	created_at, updated_at, timeout_at, version`

// Repository is the SQLite implementation of store.Store.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	repo, err := sqlite.Open("./data/saga.db")
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply saga schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new saga record at version 0.
func (r *Repository) Create(ctx context.Context, saga *domain.SagaRecord) error {
	const q = `
		INSERT INTO saga_states (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	_, err := r.db.ExecContext(ctx, q,
		saga.PaymentID,
		string(saga.Status),
		saga.AccountID,
		saga.Amount.String(),
		saga.Currency,
		boolToInt(saga.LedgerCompleted),
		boolToInt(saga.BalanceCompleted),
		saga.FailureReason,
		formatTime(saga.CreatedAt),
		formatTime(saga.UpdatedAt),
		formatTime(saga.TimeoutAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", store.ErrDuplicatePayment, saga.PaymentID)
		}
		return fmt.Errorf("sqlite: create saga %q: %w", saga.PaymentID, err)
	}
	return nil
}

// FindByPaymentID loads a single saga record.
func (r *Repository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.SagaRecord, error) {
	const q = `SELECT ` + columns + ` FROM saga_states WHERE payment_id = ?`

	saga, err := scanSaga(r.db.QueryRowContext(ctx, q, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrSagaNotFound, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find saga %q: %w", paymentID, err)
	}
	return saga, nil
}

// Update writes the record back iff the stored version still matches, then
// bumps the version (in the row and on the passed record).
func (r *Repository) Update(ctx context.Context, saga *domain.SagaRecord) error {
	const q = `
		UPDATE saga_states
		SET    status = ?, ledger_completed = ?, balance_completed = ?,
		       failure_reason = ?, updated_at = ?, version = version + 1
		WHERE  payment_id = ? AND version = ?`

	updatedAt := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, q,
		string(saga.Status),
		boolToInt(saga.LedgerCompleted),
		boolToInt(saga.BalanceCompleted),
		saga.FailureReason,
		formatTime(updatedAt),
		saga.PaymentID,
		saga.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update saga %q: %w", saga.PaymentID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update saga %q: rows affected: %w", saga.PaymentID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s (version %d)", store.ErrVersionConflict, saga.PaymentID, saga.Version)
	}

	saga.Version++
	saga.UpdatedAt = updatedAt
	return nil
}

// FindTimedOut returns PROCESSING sagas whose deadline elapsed before both
// step flags were set.
func (r *Repository) FindTimedOut(ctx context.Context, now time.Time) ([]*domain.SagaRecord, error) {
	const q = `
		SELECT ` + columns + `
		FROM   saga_states
		WHERE  status = ?
		AND    timeout_at < ?
		AND    NOT (ledger_completed = 1 AND balance_completed = 1)
		ORDER  BY timeout_at`

	rows, err := r.db.QueryContext(ctx, q, string(domain.StatusProcessing), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query timed-out sagas: %w", err)
	}
	defer rows.Close()

	var sagas []*domain.SagaRecord
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan timed-out saga: %w", err)
		}
		sagas = append(sagas, saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate timed-out sagas: %w", err)
	}
	return sagas, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*domain.SagaRecord, error) {
	var saga domain.SagaRecord
	var status, amount, createdAt, updatedAt, timeoutAt string
	var ledgerCompleted, balanceCompleted int

	if err := row.Scan(
		&saga.PaymentID,
		&status,
		&saga.AccountID,
		&amount,
		&saga.Currency,
		&ledgerCompleted,
		&balanceCompleted,
		&saga.FailureReason,
		&createdAt,
		&updatedAt,
		&timeoutAt,
		&saga.Version,
	); err != nil {
		return nil, err
	}

	saga.Status = domain.Status(status)
	saga.LedgerCompleted = ledgerCompleted != 0
	saga.BalanceCompleted = balanceCompleted != 0

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	saga.Amount = parsedAmount

	for _, field := range []struct {
		raw  string
		dest *time.Time
	}{
		{createdAt, &saga.CreatedAt},
		{updatedAt, &saga.UpdatedAt},
		{timeoutAt, &saga.TimeoutAt},
	} {
		t, err := time.Parse(time.RFC3339Nano, field.raw)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", field.raw, err)
		}
		*field.dest = t
	}

	return &saga, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is RFC3339 with a fixed nine-digit fraction. RFC3339Nano
// trims trailing zeros, which breaks the lexicographic ordering the
// timeout sweep's string comparison relies on ('Z' sorts after '.').
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
