// Package httpx exposes the payment submission API.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fintechdev/payment-saga/internal/payment/service"
	"github.com/fintechdev/payment-saga/internal/payment/store"
	"github.com/go-chi/chi/v5"
)

// HeaderIdempotencyKey carries the client's deduplication key.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler handles incoming HTTP requests for payments.
type Handler struct {
	submitter *service.Submitter
	store     store.Store
}

// NewHandler initializes the handler with the submission use case and the
// saga store for reads.
func NewHandler(submitter *service.Submitter, s store.Store) *Handler {
	return &Handler{submitter: submitter, store: s}
}

// SubmitPayment accepts a payment submission and starts its saga.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	// Header wins over body; the body field exists for clients that cannot
	// set custom headers.
	idempotencyKey := r.Header.Get(HeaderIdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}

	result, err := h.submitter.Submit(r.Context(), service.SubmitRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, service.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "payment submission temporarily unavailable")
		default:
			slog.ErrorContext(r.Context(), "payment submission failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}

	// Replays return the original response with the original status code.
	writeJSON(w, http.StatusCreated, SubmitPaymentResponse{
		PaymentID: result.PaymentID,
		Status:    string(result.Status),
		Timestamp: result.Timestamp,
	})
}

// GetPayment retrieves a single payment saga by its ID.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "payment_id_required", "")
		return
	}

	saga, err := h.store.FindByPaymentID(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrSagaNotFound) {
			writeError(w, http.StatusNotFound, "payment_not_found", "")
			return
		}
		slog.ErrorContext(r.Context(), "payment lookup failed",
			"payment_id", paymentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, PaymentResponse{
		PaymentID:        saga.PaymentID,
		Status:           string(saga.Status),
		AccountID:        saga.AccountID,
		Amount:           saga.Amount.String(),
		Currency:         saga.Currency,
		LedgerCompleted:  saga.LedgerCompleted,
		BalanceCompleted: saga.BalanceCompleted,
		FailureReason:    saga.FailureReason,
		CreatedAt:        saga.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        saga.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
