package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

const stripeWebhookSecret = "whsec_test"

func newStripe(t *testing.T, h http.HandlerFunc) *StripeAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripeAdapter(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: stripeWebhookSecret,
		APIBase:       srv.URL,
		Retry:         fastRetry(),
	}, testMapper(), testLogger())
}

func signStripe(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestStripeCreateIntent(t *testing.T) {
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "299900", r.PostForm.Get("amount"))
		assert.Equal(t, "inr", r.PostForm.Get("currency"))
		assert.Equal(t, "order-1", r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_123","object":"payment_intent","amount":299900,"currency":"inr","status":"requires_payment_method","client_secret":"pi_123_secret_abc"}`)
	})

	intent, err := a.CreateIntent(context.Background(), output.IntentRequest{
		PaymentID:      uuid.New(),
		OrderID:        "order-1",
		CustomerID:     "cust-1",
		Amount:         decimal.RequireFromString("2999.00"),
		Currency:       core.CurrencyINR,
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ProviderIntentID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, core.PaymentStatusPending, intent.Payment.Status)
	assert.Equal(t, "2999.00", intent.Payment.Amount.StringFixed(2))
}

func TestStripeRetrieveIntent(t *testing.T) {
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_9", r.URL.Path)
		fmt.Fprint(w, `{"id":"pi_9","amount":1000,"currency":"usd","status":"succeeded","latest_charge":"ch_9"}`)
	})
	np, err := a.RetrieveTransaction(context.Background(), "pi_9", "ch_9")
	require.NoError(t, err)
	assert.Equal(t, core.PaymentStatusPaid, np.Status)
	assert.Equal(t, "ch_9", np.TransactionID)
}

func TestStripeCardDeclinedIsNotRetried(t *testing.T) {
	var hits int32
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`)
	})

	_, err := a.Capture(context.Background(), "pi_1", "", nil)
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.KindGateway, e.Kind)
	assert.Equal(t, core.GatewayCardDeclined, e.GatewayClass)
	assert.Equal(t, "Your card has insufficient funds.", e.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestStripeRateLimitIsRetried(t *testing.T) {
	var hits int32
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"Too many requests"}}`)
	})

	_, err := a.RetrieveIntent(context.Background(), "pi_1")
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.GatewayRateLimited, e.GatewayClass)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestStripeAuthenticationError(t *testing.T) {
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`)
	})
	err := a.HealthCheck(context.Background())
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.GatewayAuthentication, e.GatewayClass)
}

func TestStripeCreateRefund(t *testing.T) {
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "50000", r.PostForm.Get("amount"))
		fmt.Fprint(w, `{"id":"re_1","amount":50000,"currency":"inr","status":"succeeded","charge":"ch_1"}`)
	})
	amount := decimal.RequireFromString("500.00")
	r, err := a.CreateRefund(context.Background(), output.RefundRequest{
		PaymentID: uuid.New(),
		IntentID:  "pi_1",
		Amount:    &amount,
		Reason:    "damaged",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", r.RefundID)
	assert.Equal(t, core.RefundStatusProcessed, r.Status)
	assert.Equal(t, "pi_1", r.IntentID)
}

func TestStripeWebhookSignature(t *testing.T) {
	a := newStripe(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":100,"currency":"usd","status":"succeeded"}}}`)

	header := http.Header{}
	header.Set(StripeSignatureHeader, signStripe(payload, stripeWebhookSecret, time.Now()))
	ev, err := a.ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, mapper.WebhookPaymentSucceeded, ev.Kind)

	bad := http.Header{}
	bad.Set(StripeSignatureHeader, signStripe(payload, "whsec_other", time.Now()))
	_, err = a.ParseWebhook(payload, bad)
	assert.True(t, core.IsKind(err, core.KindWebhookVerification))

	stale := http.Header{}
	stale.Set(StripeSignatureHeader, signStripe(payload, stripeWebhookSecret, time.Now().Add(-time.Hour)))
	_, err = a.ParseWebhook(payload, stale)
	assert.True(t, core.IsKind(err, core.KindWebhookVerification))

	_, err = a.ParseWebhook(payload, http.Header{})
	assert.True(t, core.IsKind(err, core.KindWebhookVerification))
}
