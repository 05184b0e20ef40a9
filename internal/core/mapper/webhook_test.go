package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

func TestParseStripePaymentSucceeded(t *testing.T) {
	body := `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"object": "payment_intent",
			"amount": 299900,
			"currency": "inr",
			"status": "succeeded",
			"latest_charge": "ch_1"
		}}
	}`

	ev, err := discardMapper().ParseStripeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, WebhookPaymentSucceeded, ev.Kind)
	require.NotNil(t, ev.Payment)
	assert.Equal(t, "pi_1", ev.Payment.IntentID)
	assert.Equal(t, "ch_1", ev.Payment.TransactionID)
	assert.Equal(t, core.PaymentStatusPaid, ev.Payment.Status)
	assert.Equal(t, "2999.00", ev.Payment.Amount.StringFixed(2))
}

func TestParseStripePaymentFailedCarriesReason(t *testing.T) {
	body := `{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {
			"id": "pi_2",
			"amount": 500,
			"currency": "usd",
			"status": "requires_payment_method",
			"last_payment_error": {"type": "card_error", "code": "card_declined", "decline_code": "insufficient_funds", "message": "Your card has insufficient funds."}
		}}
	}`

	ev, err := discardMapper().ParseStripeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookPaymentFailed, ev.Kind)
	assert.Equal(t, "insufficient_funds: Your card has insufficient funds.", ev.Payment.FailureReason)
}

func TestParseStripeRefundEvent(t *testing.T) {
	body := `{
		"id": "evt_3",
		"type": "charge.refund.updated",
		"data": {"object": {"id": "re_1", "amount": 5000, "currency": "inr", "status": "succeeded", "charge": "ch_1", "payment_intent": "pi_1"}}
	}`

	ev, err := discardMapper().ParseStripeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookRefundProcessed, ev.Kind)
	require.NotNil(t, ev.Refund)
	assert.Equal(t, "re_1", ev.Refund.RefundID)
	assert.Equal(t, "pi_1", ev.Refund.IntentID)
	assert.Equal(t, "50.00", ev.Refund.Amount.StringFixed(2))
}

func TestParseStripeUnknownEventIsUnhandled(t *testing.T) {
	body := `{"id":"evt_4","type":"customer.created","data":{"object":{"id":"cus_1"}}}`
	ev, err := discardMapper().ParseStripeEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookUnhandled, ev.Kind)
}

func TestParseStripeMalformed(t *testing.T) {
	_, err := discardMapper().ParseStripeEvent([]byte(`{"type":"payment_intent.succeeded"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = discardMapper().ParseStripeEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseRazorpayCaptured(t *testing.T) {
	body := `{
		"entity": "event",
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_1", "amount": 299900, "currency": "INR", "status": "captured",
			"order_id": "order_1", "method": "card", "notes": []
		}}},
		"created_at": 1700000000
	}`

	ev, err := discardMapper().ParseRazorpayEvent([]byte(body), "evt_rzp_1")
	require.NoError(t, err)
	assert.Equal(t, "evt_rzp_1", ev.EventID)
	assert.Equal(t, WebhookPaymentSucceeded, ev.Kind)
	assert.Equal(t, "order_1", ev.Payment.IntentID)
	assert.Equal(t, "pay_1", ev.Payment.TransactionID)
}

func TestParseRazorpayEventIDFallsBackToDigest(t *testing.T) {
	body := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","amount":100,"currency":"INR","payment_id":"pay_1","status":"processed"}}}}`)

	first, err := discardMapper().ParseRazorpayEvent(body, "")
	require.NoError(t, err)
	second, err := discardMapper().ParseRazorpayEvent(body, "")
	require.NoError(t, err)

	assert.Len(t, first.EventID, 64)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, WebhookRefundProcessed, first.Kind)
	assert.Equal(t, "pay_1", first.Refund.TransactionID)
}

func TestParseRazorpayMissingEntity(t *testing.T) {
	_, err := discardMapper().ParseRazorpayEvent([]byte(`{"event":"payment.failed","payload":{}}`), "e1")
	assert.ErrorIs(t, err, ErrMalformedEvent)

	ev, err := discardMapper().ParseRazorpayEvent([]byte(`{"event":"payment.authorized","payload":{}}`), "e2")
	require.NoError(t, err)
	assert.Equal(t, WebhookUnhandled, ev.Kind)
}
