// Package idempotency deduplicates payment submissions by client-supplied
// key. The stored value is the full response of the first submission, so a
// retry gets byte-for-byte the same answer without starting a second saga.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fintechdev/payment-saga/internal/pkg/cache"
)

// TTL bounds how long a key blocks duplicates. A day comfortably covers
// client retry windows without holding keys forever.
const TTL = 24 * time.Hour

const operation = "idempotency"

// Record is the cached outcome of a submission.
type Record struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Guard caches submission outcomes keyed by idempotency key.
type Guard struct {
	cache cache.Cache
}

// NewGuard creates a guard over the given cache.
func NewGuard(c cache.Cache) *Guard {
	return &Guard{cache: c}
}

// Lookup returns the cached record for key, or (nil, nil) when the key is
// unseen. Cache errors are returned so the caller can decide whether to
// fail closed.
func (g *Guard) Lookup(ctx context.Context, key string) (*Record, error) {
	value, err := g.cache.Get(ctx, g.cache.GenerateKey(operation, key))
	if err != nil {
		return nil, fmt.Errorf("idempotency: lookup %q: %w", key, err)
	}
	if value == "" {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, fmt.Errorf("idempotency: decode record for %q: %w", key, err)
	}
	return &rec, nil
}

// Store caches the outcome of a fresh submission under key.
func (g *Guard) Store(ctx context.Context, key string, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("idempotency: encode record for %q: %w", key, err)
	}
	if err := g.cache.Set(ctx, g.cache.GenerateKey(operation, key), string(value), TTL); err != nil {
		return fmt.Errorf("idempotency: store %q: %w", key, err)
	}
	return nil
}
