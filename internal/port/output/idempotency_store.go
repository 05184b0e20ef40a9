package output

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStatus is the lifecycle of an idempotency key
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord remembers the outcome of an intent creation.
type IdempotencyRecord struct {
	Key              string
	Fingerprint      string
	Status           IdempotencyStatus
	PaymentID        uuid.UUID
	ClientSecret     string
	ProviderIntentID string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// IdempotencyStore reserves keys for intent creation.
type IdempotencyStore interface {
	// Begin reserves key. When a live record already exists it is returned
	// with created=false; expired records are replaced.
	Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (rec *IdempotencyRecord, created bool, err error)
	Complete(ctx context.Context, key string, paymentID uuid.UUID, clientSecret, providerIntentID string) error
	Release(ctx context.Context, key string) error
}
