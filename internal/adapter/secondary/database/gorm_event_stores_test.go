package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

func TestWebhookClaimDedupes(t *testing.T) {
	ctx := context.Background()
	s := NewGormWebhookEventStore(db.NewTestDB(t).DB)
	rec := output.WebhookRecord{
		Provider:  core.ProviderStripe,
		EventID:   "evt_1",
		EventType: "payment_intent.succeeded",
		Payload:   []byte(`{"id":"evt_1"}`),
	}

	first, err := s.Claim(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.Claim(ctx, rec)
	require.NoError(t, err)
	assert.False(t, second)

	other := rec
	other.Provider = core.ProviderRazorpay
	third, err := s.Claim(ctx, other)
	require.NoError(t, err)
	assert.True(t, third)

	require.NoError(t, s.MarkProcessed(ctx, rec.Provider, rec.EventID, time.Now().UTC()))
	require.NoError(t, s.RecordFailure(ctx, other.Provider, other.EventID, "payment not found"))
}

func TestWebhookReleaseAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	s := NewGormWebhookEventStore(db.NewTestDB(t).DB)
	rec := output.WebhookRecord{Provider: core.ProviderRazorpay, EventID: "evt_x", EventType: "payment.captured"}

	ok, err := s.Claim(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, rec.Provider, rec.EventID))

	ok, err = s.Claim(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWebhookClaimTakesOverAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	s := NewGormWebhookEventStore(db.NewTestDB(t).DB).WithLease(time.Minute)
	now := time.Now().UTC()
	claim := func(id string, at time.Time) bool {
		ok, err := s.Claim(ctx, output.WebhookRecord{
			Provider:   core.ProviderStripe,
			EventID:    id,
			EventType:  "payment_intent.succeeded",
			ReceivedAt: at,
		})
		require.NoError(t, err)
		return ok
	}

	// claimed, then the process died before recording an outcome
	require.True(t, claim("evt_dead", now.Add(-2*time.Minute)))
	assert.True(t, claim("evt_dead", now), "expired unfinished claim is taken over")
	assert.False(t, claim("evt_dead", now.Add(time.Second)), "the new claim holds a fresh lease")

	require.True(t, claim("evt_busy", now.Add(-30*time.Second)))
	assert.False(t, claim("evt_busy", now), "claim within its lease")

	require.True(t, claim("evt_done", now.Add(-2*time.Minute)))
	require.NoError(t, s.MarkProcessed(ctx, core.ProviderStripe, "evt_done", now.Add(-2*time.Minute)))
	assert.False(t, claim("evt_done", now))

	require.True(t, claim("evt_failed", now.Add(-2*time.Minute)))
	require.NoError(t, s.RecordFailure(ctx, core.ProviderStripe, "evt_failed", "payment not found"))
	assert.False(t, claim("evt_failed", now))
}

func TestIdempotencyBeginCompleteReplay(t *testing.T) {
	ctx := context.Background()
	s := NewGormIdempotencyStore(db.NewTestDB(t).DB)

	rec, created, err := s.Begin(ctx, "key-1", "fp-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, output.IdempotencyInProgress, rec.Status)

	again, created, err := s.Begin(ctx, "key-1", "fp-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, output.IdempotencyInProgress, again.Status)

	pid := uuid.New()
	require.NoError(t, s.Complete(ctx, "key-1", pid, "secret_1", "order_1"))

	done, created, err := s.Begin(ctx, "key-1", "fp-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, output.IdempotencyCompleted, done.Status)
	assert.Equal(t, pid, done.PaymentID)
	assert.Equal(t, "secret_1", done.ClientSecret)
	assert.Equal(t, "order_1", done.ProviderIntentID)
}

func TestIdempotencyExpiredKeyIsReplaced(t *testing.T) {
	ctx := context.Background()
	s := NewGormIdempotencyStore(db.NewTestDB(t).DB)

	_, created, err := s.Begin(ctx, "key-2", "fp-old", -time.Second)
	require.NoError(t, err)
	require.True(t, created)

	rec, created, err := s.Begin(ctx, "key-2", "fp-new", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "fp-new", rec.Fingerprint)
}

func TestIdempotencyRelease(t *testing.T) {
	ctx := context.Background()
	s := NewGormIdempotencyStore(db.NewTestDB(t).DB)

	_, _, err := s.Begin(ctx, "key-3", "fp", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "key-3"))

	_, created, err := s.Begin(ctx, "key-3", "fp", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	assert.ErrorIs(t, s.Complete(ctx, "missing", uuid.New(), "", ""), output.ErrNotFound)
}
