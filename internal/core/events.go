package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event topics published by the engine.
const (
	TopicOrderPaymentUpdated = "order.payment.updated"
	TopicPaymentFailed       = "payment.failed"
	TopicPaymentRefunded     = "payment.refunded"
	TopicPaymentCancelled    = "payment.cancelled"
)

// PaymentEvent is the payload of every payment topic
type PaymentEvent struct {
	PaymentID             uuid.UUID        `json:"payment_id"`
	OrderID               string           `json:"order_id"`
	CustomerID            string           `json:"customer_id"`
	Status                PaymentStatus    `json:"status"`
	Amount                decimal.Decimal  `json:"amount"`
	RefundedAmount        decimal.Decimal  `json:"refunded_amount"`
	RefundAmount          *decimal.Decimal `json:"refund_amount,omitempty"`
	Currency              Currency         `json:"currency"`
	Provider              Provider         `json:"provider"`
	ProviderTransactionID string           `json:"provider_transaction_id,omitempty"`
	Reason                string           `json:"reason,omitempty"`
	OccurredAt            time.Time        `json:"occurred_at"`
}

// NewPaymentEvent snapshots p into an event payload.
func NewPaymentEvent(p *Payment, reason string) PaymentEvent {
	return PaymentEvent{
		PaymentID:             p.ID,
		OrderID:               p.OrderID,
		CustomerID:            p.CustomerID,
		Status:                p.Status,
		Amount:                p.Amount,
		RefundedAmount:        p.RefundedAmount,
		Currency:              p.Currency,
		Provider:              p.Provider,
		ProviderTransactionID: p.ProviderTransactionID,
		Reason:                reason,
		OccurredAt:            time.Now().UTC(),
	}
}

// TopicFor returns the topic announcing that a payment entered status s, or
// "" when entering s is not announced.
func TopicFor(s PaymentStatus) string {
	switch s {
	case PaymentStatusPaid:
		return TopicOrderPaymentUpdated
	case PaymentStatusFailed:
		return TopicPaymentFailed
	case PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return TopicPaymentRefunded
	case PaymentStatusCancelled:
		return TopicPaymentCancelled
	default:
		return ""
	}
}
