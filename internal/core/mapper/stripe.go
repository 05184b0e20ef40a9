package mapper

import (
	"strings"

	"github.com/stripe/stripe-go/v76"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// StripeIntent converts a PaymentIntent. The transaction id is the latest
// charge when one exists.
func (m *Mapper) StripeIntent(pi *stripe.PaymentIntent) NormalisedPayment {
	out := NormalisedPayment{
		Provider:     core.ProviderStripe,
		IntentID:     pi.ID,
		Status:       m.StripeIntentStatus(pi.Status),
		RawStatus:    string(pi.Status),
		Capturable:   pi.Status == stripe.PaymentIntentStatusRequiresCapture,
		Amount:       ToMajorUnits(pi.Amount),
		Currency:     core.Currency(strings.ToUpper(string(pi.Currency))),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
		CreatedAt:    unixTime(pi.Created),
		Raw:          rawJSON(pi),
	}
	if pi.LatestCharge != nil {
		out.TransactionID = pi.LatestCharge.ID
	}
	for _, t := range pi.PaymentMethodTypes {
		if t == "card" {
			out.Method = core.PaymentMethodCard
			break
		}
	}
	if pi.LastPaymentError != nil {
		out.FailureReason = stripeFailureReason(pi.LastPaymentError)
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled && out.FailureReason == "" && pi.CancellationReason != "" {
		out.FailureReason = string(pi.CancellationReason)
	}
	return out
}

// StripeRefund converts a Stripe refund object.
func (m *Mapper) StripeRefund(r *stripe.Refund) NormalisedRefund {
	out := NormalisedRefund{
		Provider:  core.ProviderStripe,
		RefundID:  r.ID,
		Amount:    ToMajorUnits(r.Amount),
		Currency:  core.Currency(strings.ToUpper(string(r.Currency))),
		Status:    m.StripeRefundStatus(r.Status),
		RawStatus: string(r.Status),
		CreatedAt: unixTime(r.Created),
		Raw:       rawJSON(r),
	}
	if r.Charge != nil {
		out.TransactionID = r.Charge.ID
	}
	if r.PaymentIntent != nil {
		out.IntentID = r.PaymentIntent.ID
	}
	return out
}

func stripeFailureReason(e *stripe.Error) string {
	parts := make([]string, 0, 2)
	if e.DeclineCode != "" {
		parts = append(parts, string(e.DeclineCode))
	} else if e.Code != "" {
		parts = append(parts, string(e.Code))
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	return strings.Join(parts, ": ")
}
