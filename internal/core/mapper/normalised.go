package mapper

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// NormalisedPayment is a provider payment reduced to the canonical shape.
// IntentID is the Stripe PaymentIntent id or the Razorpay order id;
// TransactionID is the Stripe charge id or the Razorpay payment id.
type NormalisedPayment struct {
	Provider      core.Provider
	IntentID      string
	TransactionID string
	Status        core.PaymentStatus
	RawStatus     string
	Capturable    bool
	Amount        decimal.Decimal
	Currency      core.Currency
	Method        core.PaymentMethod
	FailureReason string
	ClientSecret  string
	Metadata      map[string]string
	CreatedAt     time.Time
	Raw           json.RawMessage
}

// NormalisedRefund is a provider refund reduced to the canonical shape.
type NormalisedRefund struct {
	Provider      core.Provider
	RefundID      string
	IntentID      string
	TransactionID string
	Amount        decimal.Decimal
	Currency      core.Currency
	Status        core.RefundStatus
	RawStatus     string
	CreatedAt     time.Time
	Raw           json.RawMessage
}

// NormalisedOrder is a Razorpay order reduced to the canonical shape.
type NormalisedOrder struct {
	Provider   core.Provider
	OrderID    string
	Receipt    string
	Amount     decimal.Decimal
	AmountPaid decimal.Decimal
	AmountDue  decimal.Decimal
	Currency   core.Currency
	Status     core.PaymentStatus
	RawStatus  string
	Attempts   int
	CreatedAt  time.Time
	Raw        json.RawMessage
}

func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
