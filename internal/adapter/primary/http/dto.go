package http

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
)

// CreateIntentRequest represents the HTTP request to create a payment intent
type CreateIntentRequest struct {
	OrderID        string            `json:"order_id" validate:"required,max=64"`
	CustomerID     string            `json:"customer_id" validate:"required,max=64"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency" validate:"required,len=3,alpha"`
	Method         string            `json:"method" validate:"omitempty,oneof=card upi netbanking wallet emi cod"`
	Provider       string            `json:"provider" validate:"required,oneof=stripe razorpay"`
	IdempotencyKey string            `json:"idempotency_key" validate:"omitempty,max=128"`
	Metadata       map[string]string `json:"metadata"`
}

// ConfirmRequest is the body of process and verify calls
type ConfirmRequest struct {
	PaymentID     string `json:"payment_id" validate:"required,uuid"`
	TransactionID string `json:"transaction_id" validate:"omitempty,max=128"`
	Signature     string `json:"signature" validate:"omitempty,max=512"`
}

// RefundRequest represents a refund; omitting amount refunds the balance
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" validate:"required,max=500"`
}

// CaptureRequest optionally captures less than the authorized amount
type CaptureRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// CancelRequest carries an optional cancellation reason
type CancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// RetryRequest optionally switches the payment method
type RetryRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=card upi netbanking wallet emi cod"`
}

// ValidateAmountRequest checks an amount against the configured bounds
type ValidateAmountRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3,alpha"`
}

// ReconcileRequest runs reconciliation over [from, to]
type ReconcileRequest struct {
	From         time.Time `json:"from" validate:"required"`
	To           time.Time `json:"to" validate:"required"`
	CheckGateway bool      `json:"check_gateway"`
	Mark         bool      `json:"mark"`
}

// IntentResponse represents the HTTP response for a created intent
type IntentResponse struct {
	PaymentID        string          `json:"payment_id"`
	ClientSecret     string          `json:"client_secret"`
	ProviderIntentID string          `json:"provider_intent_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Replayed         bool            `json:"replayed"`
}

// PaymentResponse represents the HTTP response for a payment
type PaymentResponse struct {
	ID                    string          `json:"id"`
	OrderID               string          `json:"order_id"`
	CustomerID            string          `json:"customer_id"`
	Amount                decimal.Decimal `json:"amount"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	Currency              string          `json:"currency"`
	Method                string          `json:"method"`
	Provider              string          `json:"provider"`
	ProviderIntentID      string          `json:"provider_intent_id,omitempty"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	Status                string          `json:"status"`
	FailureReason         string          `json:"failure_reason,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
	Reconciled            bool            `json:"reconciled"`
	PaidAt                *string         `json:"paid_at,omitempty"`
	RefundedAt            *string         `json:"refunded_at,omitempty"`
	CancelledAt           *string         `json:"cancelled_at,omitempty"`
	CreatedAt             string          `json:"created_at"`
	UpdatedAt             string          `json:"updated_at"`
}

// PaymentListResponse is one page of payments
type PaymentListResponse struct {
	Items      []PaymentResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

// VerifyResponse reports the gateway view of a payment
type VerifyResponse struct {
	Payment       PaymentResponse `json:"payment"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
	Corrected     bool            `json:"corrected"`
	Drift         string          `json:"drift,omitempty"`
}

// RefundResponse represents one booked refund
type RefundResponse struct {
	ID               string          `json:"id"`
	PaymentID        string          `json:"payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reason           string          `json:"reason"`
	ProviderRefundID string          `json:"provider_refund_id"`
	Status           string          `json:"status"`
	ProcessedAt      *string         `json:"processed_at,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

// RefundResultResponse is the refunded payment plus the booked refund
type RefundResultResponse struct {
	Payment PaymentResponse `json:"payment"`
	Refund  RefundResponse  `json:"refund"`
}

// HistoryEntryResponse is one audit record
type HistoryEntryResponse struct {
	Timestamp     string           `json:"timestamp"`
	Action        string           `json:"action"`
	FromStatus    string           `json:"from_status,omitempty"`
	ToStatus      string           `json:"to_status,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// WebhookResponse acknowledges a provider delivery
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate"`
	Handled   bool   `json:"handled"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toIntentResponse(r *input.IntentResponse) IntentResponse {
	return IntentResponse{
		PaymentID:        r.PaymentID.String(),
		ClientSecret:     r.ClientSecret,
		ProviderIntentID: r.ProviderIntentID,
		Amount:           r.Amount,
		Currency:         string(r.Currency),
		Status:           string(r.Status),
		Replayed:         r.Replayed,
	}
}

// toPaymentResponse hides the raw gateway payloads kept under reserved keys
func toPaymentResponse(p *core.Payment) PaymentResponse {
	var meta map[string]any
	for k, v := range p.Metadata {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if meta == nil {
			meta = make(map[string]any, len(p.Metadata))
		}
		meta[k] = v
	}
	return PaymentResponse{
		ID:                    p.ID.String(),
		OrderID:               p.OrderID,
		CustomerID:            p.CustomerID,
		Amount:                p.Amount,
		RefundedAmount:        p.RefundedAmount,
		Currency:              string(p.Currency),
		Method:                string(p.Method),
		Provider:              string(p.Provider),
		ProviderIntentID:      p.ProviderIntentID,
		ProviderTransactionID: p.ProviderTransactionID,
		Status:                string(p.Status),
		FailureReason:         p.FailureReason,
		Metadata:              meta,
		Reconciled:            p.Reconciled,
		PaidAt:                formatTime(p.PaidAt),
		RefundedAt:            formatTime(p.RefundedAt),
		CancelledAt:           formatTime(p.CancelledAt),
		CreatedAt:             p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:             p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toPaymentResponses(ps []*core.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentResponse(p))
	}
	return out
}

func toRefundResponse(r *core.Refund) RefundResponse {
	return RefundResponse{
		ID:               r.ID.String(),
		PaymentID:        r.PaymentID.String(),
		Amount:           r.Amount,
		Currency:         string(r.Currency),
		Reason:           r.Reason,
		ProviderRefundID: r.ProviderRefundID,
		Status:           string(r.Status),
		ProcessedAt:      formatTime(r.ProcessedAt),
		CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toHistoryResponses(entries []core.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
			Action:        string(e.Action),
			FromStatus:    string(e.FromStatus),
			ToStatus:      string(e.ToStatus),
			Amount:        e.Amount,
			TransactionID: e.TransactionID,
			Reason:        e.Reason,
		})
	}
	return out
}
