package output

import (
	"context"
	"time"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// WebhookRecord is one received provider event
type WebhookRecord struct {
	Provider    core.Provider
	EventID     string
	EventType   string
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// WebhookEventStore dedupes deliveries on (provider, event id).
type WebhookEventStore interface {
	// Claim inserts the record and reports false if it already existed.
	Claim(ctx context.Context, rec WebhookRecord) (bool, error)
	MarkProcessed(ctx context.Context, provider core.Provider, eventID string, at time.Time) error
	// RecordFailure keeps the claim and stores the deterministic error.
	RecordFailure(ctx context.Context, provider core.Provider, eventID string, msg string) error
	// Release drops the claim so a redelivery is applied again.
	Release(ctx context.Context, provider core.Provider, eventID string) error
}
