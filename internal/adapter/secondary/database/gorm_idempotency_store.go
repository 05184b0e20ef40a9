package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// GormIdempotencyStore reserves idempotency keys for intent creation
type GormIdempotencyStore struct {
	gormDB *gorm.DB
}

// NewGormIdempotencyStore creates a new GORM idempotency store
func NewGormIdempotencyStore(gormDB *gorm.DB) *GormIdempotencyStore {
	return &GormIdempotencyStore{gormDB: gormDB}
}

var _ output.IdempotencyStore = (*GormIdempotencyStore)(nil)

// Begin reserves key, or returns the live record already holding it
func (s *GormIdempotencyStore) Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (*output.IdempotencyRecord, bool, error) {
	var (
		rec     *output.IdempotencyRecord
		created bool
	)
	err := s.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var existing db.IdempotencyRecord
		err := tx.Where("idempotency_key = ?", key).First(&existing).Error
		switch {
		case err == nil && existing.ExpiresAt.After(now):
			rec = idempotencyToPort(&existing)
			return nil
		case err == nil:
			// expired: free the key for a new request
			if err := tx.Where("idempotency_key = ? AND expires_at <= ?", key, now).
				Delete(&db.IdempotencyRecord{}).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		row := db.IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      string(output.IdempotencyInProgress),
			ExpiresAt:   now.Add(ttl),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return translate(err)
		}
		rec = idempotencyToPort(&row)
		created = true
		return nil
	})
	if errors.Is(err, output.ErrDuplicate) {
		// lost the insert race; the winner's row is now visible
		var existing db.IdempotencyRecord
		if ferr := s.gormDB.WithContext(ctx).Where("idempotency_key = ?", key).First(&existing).Error; ferr != nil {
			return nil, false, fmt.Errorf("failed to load idempotency record: %w", ferr)
		}
		return idempotencyToPort(&existing), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return rec, created, nil
}

// Complete records the intent created under key
func (s *GormIdempotencyStore) Complete(ctx context.Context, key string, paymentID uuid.UUID, clientSecret, providerIntentID string) error {
	res := s.gormDB.WithContext(ctx).Model(&db.IdempotencyRecord{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"status":             string(output.IdempotencyCompleted),
			"payment_id":         paymentID,
			"client_secret":      clientSecret,
			"provider_intent_id": providerIntentID,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return output.ErrNotFound
	}
	return nil
}

// Release frees a key whose request failed before creating anything
func (s *GormIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.gormDB.WithContext(ctx).
		Where("idempotency_key = ? AND status = ?", key, string(output.IdempotencyInProgress)).
		Delete(&db.IdempotencyRecord{}).Error
}

func idempotencyToPort(r *db.IdempotencyRecord) *output.IdempotencyRecord {
	out := &output.IdempotencyRecord{
		Key:              r.Key,
		Fingerprint:      r.Fingerprint,
		Status:           output.IdempotencyStatus(r.Status),
		ClientSecret:     r.ClientSecret,
		ProviderIntentID: r.ProviderIntentID,
		ExpiresAt:        r.ExpiresAt,
		CreatedAt:        r.CreatedAt,
	}
	if r.PaymentID != nil {
		out.PaymentID = *r.PaymentID
	}
	return out
}
