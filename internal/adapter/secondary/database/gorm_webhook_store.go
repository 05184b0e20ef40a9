package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// DefaultClaimLease is how long an unfinished claim blocks redeliveries. It
// outlasts a webhook apply with every gateway retry spent.
const DefaultClaimLease = 5 * time.Minute

// GormWebhookEventStore dedupes provider deliveries on (provider, event_id)
type GormWebhookEventStore struct {
	gormDB *gorm.DB
	lease  time.Duration
}

// NewGormWebhookEventStore creates a new GORM webhook event store
func NewGormWebhookEventStore(gormDB *gorm.DB) *GormWebhookEventStore {
	return &GormWebhookEventStore{gormDB: gormDB, lease: DefaultClaimLease}
}

// WithLease returns a copy of the store using lease for abandoned claims
func (s *GormWebhookEventStore) WithLease(lease time.Duration) *GormWebhookEventStore {
	out := *s
	out.lease = lease
	return &out
}

var _ output.WebhookEventStore = (*GormWebhookEventStore)(nil)

// Claim inserts the event row. It reports false when the pair already exists,
// unless the existing claim was never finished and its lease has run out, in
// which case the claim is taken over.
func (s *GormWebhookEventStore) Claim(ctx context.Context, rec output.WebhookRecord) (bool, error) {
	received := rec.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := db.WebhookEvent{
		ID:         uuid.New(),
		Provider:   string(rec.Provider),
		EventID:    rec.EventID,
		EventType:  rec.EventType,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: received,
	}
	res := s.gormDB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", translate(res.Error))
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// a claim with neither outcome recorded belongs to an apply that died
	res = s.gormDB.WithContext(ctx).Model(&db.WebhookEvent{}).
		Where("provider = ? AND event_id = ? AND processed_at IS NULL AND process_error IS NULL AND received_at < ?",
			string(rec.Provider), rec.EventID, received.Add(-s.lease)).
		Update("received_at", received)
	if res.Error != nil {
		return false, fmt.Errorf("failed to take over webhook claim: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkProcessed stamps a claimed event as applied
func (s *GormWebhookEventStore) MarkProcessed(ctx context.Context, provider core.Provider, eventID string, at time.Time) error {
	return s.gormDB.WithContext(ctx).Model(&db.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", string(provider), eventID).
		Updates(map[string]any{"processed_at": at, "process_error": nil}).Error
}

// RecordFailure keeps the claim and stores why applying it failed
func (s *GormWebhookEventStore) RecordFailure(ctx context.Context, provider core.Provider, eventID string, msg string) error {
	msg = truncate(msg, 250)
	return s.gormDB.WithContext(ctx).Model(&db.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", string(provider), eventID).
		Update("process_error", msg).Error
}

// Release drops a claim so the provider's redelivery is applied again
func (s *GormWebhookEventStore) Release(ctx context.Context, provider core.Provider, eventID string) error {
	return s.gormDB.WithContext(ctx).
		Where("provider = ? AND event_id = ?", string(provider), eventID).
		Delete(&db.WebhookEvent{}).Error
}
