package httpx

import "github.com/shopspring/decimal"

// SubmitPaymentRequest is the POST /payments body. The idempotency key may
// come from the body or, preferred, the Idempotency-Key header.
type SubmitPaymentRequest struct {
	AccountID      string          `json:"accountId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// SubmitPaymentResponse acknowledges an accepted submission. Retries with
// the same idempotency key get the original response replayed.
type SubmitPaymentResponse struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// PaymentResponse is the GET /payments/{id} view of a saga record.
type PaymentResponse struct {
	PaymentID        string `json:"paymentId"`
	Status           string `json:"status"`
	AccountID        string `json:"accountId"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	LedgerCompleted  bool   `json:"ledgerCompleted"`
	BalanceCompleted bool   `json:"balanceCompleted"`
	FailureReason    string `json:"failureReason,omitempty"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
