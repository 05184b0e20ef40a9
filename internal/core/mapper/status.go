package mapper

import (
	"log/slog"

	"github.com/stripe/stripe-go/v76"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// Mapper translates provider vocabularies into canonical values. Unmapped
// provider statuses fall back to PENDING and are logged.
type Mapper struct {
	logger *slog.Logger
}

// New creates a mapper that reports unmapped values to logger.
func New(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{logger: logger}
}

func (m *Mapper) unmapped(provider core.Provider, kind, value string) {
	m.logger.Warn("unmapped provider status, defaulting",
		"provider", provider,
		"kind", kind,
		"value", value,
	)
}

// StripeIntentStatus maps a PaymentIntent status.
func (m *Mapper) StripeIntentStatus(s stripe.PaymentIntentStatus) core.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return core.PaymentStatusPending
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresCapture:
		return core.PaymentStatusProcessing
	case stripe.PaymentIntentStatusSucceeded:
		return core.PaymentStatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return core.PaymentStatusCancelled
	default:
		m.unmapped(core.ProviderStripe, "payment_intent", string(s))
		return core.PaymentStatusPending
	}
}

// StripeRefundStatus maps a Stripe refund status.
func (m *Mapper) StripeRefundStatus(s stripe.RefundStatus) core.RefundStatus {
	switch s {
	case stripe.RefundStatusSucceeded:
		return core.RefundStatusProcessed
	case stripe.RefundStatusFailed, stripe.RefundStatus("canceled"):
		return core.RefundStatusFailed
	case stripe.RefundStatusPending, stripe.RefundStatus("requires_action"):
		return core.RefundStatusPending
	default:
		m.unmapped(core.ProviderStripe, "refund", string(s))
		return core.RefundStatusPending
	}
}

// RazorpayPaymentStatus maps a Razorpay payment entity status.
func (m *Mapper) RazorpayPaymentStatus(s string) core.PaymentStatus {
	switch s {
	case "created":
		return core.PaymentStatusPending
	case "authorized":
		return core.PaymentStatusProcessing
	case "captured":
		return core.PaymentStatusPaid
	case "refunded":
		return core.PaymentStatusRefunded
	case "failed":
		return core.PaymentStatusFailed
	default:
		m.unmapped(core.ProviderRazorpay, "payment", s)
		return core.PaymentStatusPending
	}
}

// RazorpayOrderStatus maps a Razorpay order entity status.
func (m *Mapper) RazorpayOrderStatus(s string) core.PaymentStatus {
	switch s {
	case "created":
		return core.PaymentStatusPending
	case "attempted":
		return core.PaymentStatusProcessing
	case "paid":
		return core.PaymentStatusPaid
	default:
		m.unmapped(core.ProviderRazorpay, "order", s)
		return core.PaymentStatusPending
	}
}

// RazorpayRefundStatus maps a Razorpay refund entity status.
func (m *Mapper) RazorpayRefundStatus(s string) core.RefundStatus {
	switch s {
	case "processed":
		return core.RefundStatusProcessed
	case "failed":
		return core.RefundStatusFailed
	case "pending":
		return core.RefundStatusPending
	default:
		m.unmapped(core.ProviderRazorpay, "refund", s)
		return core.RefundStatusPending
	}
}

// RazorpayMethod maps the payment entity method field.
func RazorpayMethod(s string) core.PaymentMethod {
	switch s {
	case "card":
		return core.PaymentMethodCard
	case "upi":
		return core.PaymentMethodUPI
	case "netbanking":
		return core.PaymentMethodNetBanking
	case "wallet":
		return core.PaymentMethodWallet
	case "emi", "cardless_emi":
		return core.PaymentMethodEMI
	default:
		return ""
	}
}
