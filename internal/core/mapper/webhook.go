package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// WebhookKind is the canonical meaning of a provider event
type WebhookKind string

const (
	WebhookPaymentSucceeded WebhookKind = "payment_succeeded"
	WebhookPaymentFailed    WebhookKind = "payment_failed"
	WebhookPaymentCancelled WebhookKind = "payment_cancelled"
	WebhookRefundProcessed  WebhookKind = "refund_processed"
	WebhookRefundFailed     WebhookKind = "refund_failed"
	WebhookUnhandled        WebhookKind = "unhandled"
)

// ErrMalformedEvent is returned when a verified body is not a usable envelope.
var ErrMalformedEvent = errors.New("malformed webhook envelope")

// WebhookEvent is a verified provider event in canonical form.
type WebhookEvent struct {
	Provider core.Provider
	EventID  string
	Type     string
	Kind     WebhookKind
	Payment  *NormalisedPayment
	Refund   *NormalisedRefund
}

// ParseStripeEvent decodes a {type, data: {object}} envelope.
func (m *Mapper) ParseStripeEvent(payload []byte) (*WebhookEvent, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" || ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, ErrMalformedEvent
	}

	out := &WebhookEvent{
		Provider: core.ProviderStripe,
		EventID:  ev.ID,
		Type:     string(ev.Type),
		Kind:     WebhookUnhandled,
	}

	switch string(ev.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if pi.ID == "" {
			return nil, ErrMalformedEvent
		}
		np := m.StripeIntent(&pi)
		out.Payment = &np
		switch string(ev.Type) {
		case "payment_intent.succeeded":
			out.Kind = WebhookPaymentSucceeded
		case "payment_intent.payment_failed":
			out.Kind = WebhookPaymentFailed
		default:
			out.Kind = WebhookPaymentCancelled
		}
	case "charge.refund.updated", "refund.created", "refund.updated":
		var r stripe.Refund
		if err := json.Unmarshal(ev.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if r.ID == "" {
			return nil, ErrMalformedEvent
		}
		nr := m.StripeRefund(&r)
		out.Refund = &nr
		out.Kind = refundKind(nr.Status)
	}
	return out, nil
}

type razorpayEnvelope struct {
	Entity  string `json:"entity"`
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity RazorpayPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity RazorpayOrder `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity RazorpayRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseRazorpayEvent decodes an {event, payload: {<entity>: {entity}}}
// envelope. eventID comes from the delivery header; when absent the body
// digest identifies the event.
func (m *Mapper) ParseRazorpayEvent(payload []byte, eventID string) (*WebhookEvent, error) {
	var env razorpayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, ErrMalformedEvent
	}
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = hex.EncodeToString(sum[:])
	}

	out := &WebhookEvent{
		Provider: core.ProviderRazorpay,
		EventID:  eventID,
		Type:     env.Event,
		Kind:     WebhookUnhandled,
	}

	switch env.Event {
	case "payment.captured", "order.paid", "payment.failed":
		if env.Payload.Payment == nil || env.Payload.Payment.Entity.ID == "" {
			return nil, ErrMalformedEvent
		}
		np := m.RazorpayPayment(env.Payload.Payment.Entity)
		if np.IntentID == "" && env.Payload.Order != nil {
			np.IntentID = env.Payload.Order.Entity.ID
		}
		out.Payment = &np
		if env.Event == "payment.failed" {
			out.Kind = WebhookPaymentFailed
		} else {
			out.Kind = WebhookPaymentSucceeded
		}
	case "refund.processed", "refund.failed":
		if env.Payload.Refund == nil || env.Payload.Refund.Entity.ID == "" {
			return nil, ErrMalformedEvent
		}
		nr := m.RazorpayRefund(env.Payload.Refund.Entity)
		if env.Payload.Payment != nil {
			nr.IntentID = env.Payload.Payment.Entity.OrderID
		}
		out.Refund = &nr
		if env.Event == "refund.failed" {
			out.Kind = WebhookRefundFailed
		} else {
			out.Kind = WebhookRefundProcessed
		}
	}
	return out, nil
}

func refundKind(s core.RefundStatus) WebhookKind {
	switch s {
	case core.RefundStatusProcessed:
		return WebhookRefundProcessed
	case core.RefundStatusFailed:
		return WebhookRefundFailed
	default:
		return WebhookUnhandled
	}
}
