package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

const (
	rzpKeySecret     = "rzp_secret"
	rzpWebhookSecret = "rzp_webhook_secret"
)

func newRazorpay(t *testing.T, h http.HandlerFunc) *RazorpayAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRazorpayAdapter(RazorpayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     rzpKeySecret,
		WebhookSecret: rzpWebhookSecret,
		APIBase:       srv.URL,
		Retry:         fastRetry(),
	}, testMapper(), testLogger())
}

func hmacHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayCreateIntent(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, rzpKeySecret, pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 299900, body["amount"])
		assert.Equal(t, "INR", body["currency"])

		fmt.Fprint(w, `{"id":"order_1","entity":"order","amount":299900,"amount_paid":0,"amount_due":299900,"currency":"INR","status":"created","attempts":0,"notes":[]}`)
	})

	intent, err := a.CreateIntent(context.Background(), output.IntentRequest{
		PaymentID: uuid.New(),
		OrderID:   "order-1",
		Amount:    decimal.RequireFromString("2999.00"),
		Currency:  core.CurrencyINR,
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", intent.ProviderIntentID)
	assert.Equal(t, core.PaymentStatusPending, intent.Payment.Status)
	assert.Equal(t, "2999.00", intent.Payment.Amount.StringFixed(2))
}

func TestRazorpayRetrieveIntentPicksCapturedAttempt(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/order_1/payments", r.URL.Path)
		fmt.Fprint(w, `{"entity":"collection","count":2,"items":[
			{"id":"pay_failed","amount":100,"currency":"INR","status":"failed","order_id":"order_1","created_at":2},
			{"id":"pay_ok","amount":100,"currency":"INR","status":"captured","order_id":"order_1","created_at":1}
		]}`)
	})
	np, err := a.RetrieveIntent(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "pay_ok", np.TransactionID)
	assert.Equal(t, core.PaymentStatusPaid, np.Status)
}

func TestRazorpayRetrieveIntentWithoutAttemptsFallsBackToOrder(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/order_2/payments":
			fmt.Fprint(w, `{"entity":"collection","count":0,"items":[]}`)
		case "/orders/order_2":
			fmt.Fprint(w, `{"id":"order_2","amount":500,"currency":"INR","status":"attempted"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	np, err := a.RetrieveIntent(context.Background(), "order_2")
	require.NoError(t, err)
	assert.Equal(t, core.PaymentStatusProcessing, np.Status)
	assert.Empty(t, np.TransactionID)
}

func TestRazorpayRetrieveTransactionChecksOrder(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pay_1","amount":100,"currency":"INR","status":"captured","order_id":"order_other"}`)
	})
	_, err := a.RetrieveTransaction(context.Background(), "order_1", "pay_1")
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.GatewayInvalidRequest, e.GatewayClass)
}

func TestRazorpayErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		class  core.GatewayErrorClass
		hits   int32
	}{
		{http.StatusUnauthorized, `{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`, core.GatewayAuthentication, 1},
		{http.StatusTooManyRequests, `{"error":{"code":"BAD_REQUEST_ERROR","description":"Too many requests"}}`, core.GatewayRateLimited, 3},
		{http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00"}}`, core.GatewayInvalidRequest, 1},
		{http.StatusBadGateway, `{"error":{"code":"SERVER_ERROR","description":"upstream"}}`, core.GatewayConnection, 3},
		{http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR","description":"Payment declined","source":"issuer_bank","reason":"payment_failed"}}`, core.GatewayCardDeclined, 1},
		{http.StatusConflict, `not json`, core.GatewayUnknown, 1},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%d_%s", c.status, c.class), func(t *testing.T) {
			var hits int32
			a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(c.status)
				fmt.Fprint(w, c.body)
			})
			_, err := a.RetrieveTransaction(context.Background(), "", "pay_1")
			e, ok := core.As(err)
			require.True(t, ok)
			assert.Equal(t, c.class, e.GatewayClass)
			assert.Equal(t, c.hits, atomic.LoadInt32(&hits))
		})
	}
}

func TestRazorpayConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	a := NewRazorpayAdapter(RazorpayConfig{KeyID: "k", KeySecret: "s", APIBase: base, Retry: fastRetry()}, testMapper(), testLogger())
	err := a.HealthCheck(context.Background())
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.GatewayConnection, e.GatewayClass)
}

func TestRazorpayCreateRefund(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/pay_1/refund", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 50000, body["amount"])
		fmt.Fprint(w, `{"id":"rfnd_1","entity":"refund","amount":50000,"currency":"INR","payment_id":"pay_1","status":"processed"}`)
	})
	amount := decimal.RequireFromString("500")
	r, err := a.CreateRefund(context.Background(), output.RefundRequest{
		PaymentID:     uuid.New(),
		IntentID:      "order_1",
		TransactionID: "pay_1",
		Amount:        &amount,
		Reason:        "damaged",
	})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", r.RefundID)
	assert.Equal(t, core.RefundStatusProcessed, r.Status)

	_, err = a.CreateRefund(context.Background(), output.RefundRequest{IntentID: "order_1"})
	assert.True(t, core.IsKind(err, core.KindGateway))
}

func TestRazorpayRefundRetryDoesNotRefundTwice(t *testing.T) {
	const key = "refund-6f1c2a9e-5b7d-4c21-9a0e-3d4f5e6a7b8c-0.00-500.00"
	var posts, lists atomic.Int32
	var stored atomic.Value
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments/pay_1/refund":
			posts.Add(1)
			var body struct {
				Notes map[string]string `json:"notes"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, key, body.Notes["idempotency_key"])
			stored.Store(body.Notes["idempotency_key"])
			// created at Razorpay, but the response is lost
			w.WriteHeader(http.StatusBadGateway)
		case r.Method == http.MethodGet && r.URL.Path == "/payments/pay_1/refunds":
			lists.Add(1)
			k, _ := stored.Load().(string)
			fmt.Fprintf(w, `{"entity":"collection","count":2,"items":[`+
				`{"id":"rfnd_other","amount":100,"currency":"INR","payment_id":"pay_1","status":"processed","notes":{"idempotency_key":"refund-other"}},`+
				`{"id":"rfnd_1","amount":50000,"currency":"INR","payment_id":"pay_1","status":"processed","notes":{"idempotency_key":%q}}]}`, k)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	amount := decimal.RequireFromString("500")
	r, err := a.CreateRefund(context.Background(), output.RefundRequest{
		PaymentID:      uuid.New(),
		TransactionID:  "pay_1",
		Amount:         &amount,
		Reason:         "damaged",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", r.RefundID)
	assert.EqualValues(t, 1, posts.Load())
	assert.EqualValues(t, 1, lists.Load())
}

func TestRazorpayRefundRetriesWhenNothingWasCreated(t *testing.T) {
	var posts atomic.Int32
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/pay_1/refund":
			if posts.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `{"id":"rfnd_2","amount":50000,"currency":"INR","payment_id":"pay_1","status":"pending"}`)
		case "/payments/pay_1/refunds":
			fmt.Fprint(w, `{"entity":"collection","count":0,"items":[]}`)
		}
	})
	amount := decimal.RequireFromString("500")
	r, err := a.CreateRefund(context.Background(), output.RefundRequest{
		TransactionID:  "pay_1",
		Amount:         &amount,
		Reason:         "damaged",
		IdempotencyKey: "refund-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_2", r.RefundID)
	assert.EqualValues(t, 2, posts.Load())
}

func TestRazorpayRefundWithoutKeyIsNotRetried(t *testing.T) {
	var posts atomic.Int32
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := a.CreateRefund(context.Background(), output.RefundRequest{TransactionID: "pay_1", Reason: "damaged"})
	e, ok := core.As(err)
	require.True(t, ok)
	assert.Equal(t, core.GatewayConnection, e.GatewayClass)
	assert.EqualValues(t, 1, posts.Load())
}

func TestTruncateNoteKeepsRunes(t *testing.T) {
	reason := strings.Repeat("क्ष", 100)
	out := truncateNote(reason)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 256, utf8.RuneCountInString(out))
	assert.Equal(t, "short", truncateNote("short"))
}

func TestRazorpayCapture(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/pay_1":
			fmt.Fprint(w, `{"id":"pay_1","amount":1000,"currency":"INR","status":"authorized","order_id":"order_1"}`)
		case "/payments/pay_1/capture":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 1000, body["amount"])
			fmt.Fprint(w, `{"id":"pay_1","amount":1000,"currency":"INR","status":"captured","order_id":"order_1"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	np, err := a.Capture(context.Background(), "order_1", "pay_1", nil)
	require.NoError(t, err)
	assert.Equal(t, core.PaymentStatusPaid, np.Status)
}

func TestRazorpaySignatures(t *testing.T) {
	a := newRazorpay(t, func(w http.ResponseWriter, r *http.Request) {})

	sig := hmacHex(rzpKeySecret, []byte("order_1|pay_1"))
	assert.True(t, a.VerifyPaymentSignature("order_1", "pay_1", sig))
	assert.False(t, a.VerifyPaymentSignature("order_1", "pay_2", sig))
	assert.False(t, a.VerifyPaymentSignature("order_1", "pay_1", ""))

	payload := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":100,"currency":"INR","status":"captured","order_id":"order_1"}}}}`)
	header := http.Header{}
	header.Set(RazorpaySignatureHeader, hmacHex(rzpWebhookSecret, payload))
	header.Set(RazorpayEventIDHeader, "evt_1")
	ev, err := a.ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, mapper.WebhookPaymentSucceeded, ev.Kind)

	header.Set(RazorpaySignatureHeader, hmacHex("wrong", payload))
	_, err = a.ParseWebhook(payload, header)
	assert.True(t, core.IsKind(err, core.KindWebhookVerification))

	header.Set(RazorpaySignatureHeader, hmacHex(rzpWebhookSecret, []byte(`{}`)))
	_, err = a.ParseWebhook([]byte(`{}`), header)
	assert.True(t, core.IsKind(err, core.KindWebhookVerification))
}
