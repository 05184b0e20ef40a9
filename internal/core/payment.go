package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
)

// AllStatuses lists every payment status in flow order.
var AllStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusPartiallyRefunded,
	PaymentStatusRefunded,
	PaymentStatusCancelled,
}

// SuccessfulStatuses are the statuses a payment can only hold after money was collected.
var SuccessfulStatuses = []PaymentStatus{
	PaymentStatusPaid,
	PaymentStatusPartiallyRefunded,
	PaymentStatusRefunded,
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsSuccessful reports whether s is PAID or one of the refund states.
func (s PaymentStatus) IsSuccessful() bool {
	for _, ok := range SuccessfulStatuses {
		if s == ok {
			return true
		}
	}
	return false
}

// Currency is an ISO 4217 currency code
type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// PaymentMethod is the instrument the customer pays with
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodUPI            PaymentMethod = "upi"
	PaymentMethodNetBanking     PaymentMethod = "netbanking"
	PaymentMethodWallet         PaymentMethod = "wallet"
	PaymentMethodEMI            PaymentMethod = "emi"
	PaymentMethodCashOnDelivery PaymentMethod = "cod"
)

var allMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodUPI,
	PaymentMethodNetBanking,
	PaymentMethodWallet,
	PaymentMethodEMI,
	PaymentMethodCashOnDelivery,
}

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	for _, known := range allMethods {
		if m == known {
			return true
		}
	}
	return false
}

// Provider identifies one of the two supported payment gateways
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderRazorpay Provider = "razorpay"
)

// Valid reports whether p is a supported gateway.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderRazorpay
}

// Reserved metadata keys used to attach raw gateway payloads.
const (
	MetadataKeyGatewayIntent  = "_gateway_intent"
	MetadataKeyGatewayPayment = "_gateway_payment"
	MetadataKeyGatewayRefund  = "_gateway_refund"
)

// Payment represents a payment domain entity
type Payment struct {
	ID         uuid.UUID
	OrderID    string
	CustomerID string

	Amount         decimal.Decimal
	Currency       Currency
	RefundedAmount decimal.Decimal

	Method                PaymentMethod
	Provider              Provider
	ProviderIntentID      string
	ProviderTransactionID string

	Status        PaymentStatus
	FailureReason string

	Metadata       map[string]any
	IdempotencyKey string

	Reconciled   bool
	ReconciledAt *time.Time

	PaidAt      *time.Time
	RefundedAt  *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPending checks if payment is in pending status
func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}

// IsTerminal checks if payment is in a state with no outgoing edge
func (p *Payment) IsTerminal() bool {
	return len(AllowedTransitions(p.Status)) == 0
}

// IsRefundable reports whether a refund may be issued against the payment.
func (p *Payment) IsRefundable() bool {
	return p.Status == PaymentStatusPaid || p.Status == PaymentStatusPartiallyRefunded
}

// RefundableAmount is amount minus what has already been refunded.
func (p *Payment) RefundableAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// RefundStatus tracks a single refund at the gateway
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusProcessed RefundStatus = "PROCESSED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// Refund is one partial or full refund booked against a payment
type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	Amount           decimal.Decimal
	Currency         Currency
	Reason           string
	ProviderRefundID string
	Status           RefundStatus
	ProcessedAt      *time.Time
	CreatedAt        time.Time
}

// HistoryAction names the operation recorded by a history entry
type HistoryAction string

const (
	HistoryActionCreated    HistoryAction = "CREATED"
	HistoryActionProcessing HistoryAction = "PROCESSING"
	HistoryActionPaid       HistoryAction = "PAID"
	HistoryActionFailed     HistoryAction = "FAILED"
	HistoryActionRetried    HistoryAction = "RETRIED"
	HistoryActionRefunded   HistoryAction = "REFUNDED"
	HistoryActionCancelled  HistoryAction = "CANCELLED"
)

// HistoryEntry is an append-only audit record of one state-changing operation
type HistoryEntry struct {
	Timestamp     time.Time
	Action        HistoryAction
	FromStatus    PaymentStatus
	ToStatus      PaymentStatus
	Amount        *decimal.Decimal
	TransactionID string
	Reason        string
}
