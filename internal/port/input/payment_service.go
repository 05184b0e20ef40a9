package input

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// PaymentService is an input port (primary port) for payment operations.
// Primary adapters (HTTP handlers, CLI) use this
type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*IntentResponse, error)
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*core.Payment, error)
	VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyResult, error)
	CapturePayment(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*core.Payment, error)
	CancelPayment(ctx context.Context, id uuid.UUID, reason string) (*core.Payment, error)
	RetryFailedPayment(ctx context.Context, id uuid.UUID, newMethod core.PaymentMethod) (*core.Payment, error)

	GetPayment(ctx context.Context, id uuid.UUID) (*core.Payment, error)
	GetPaymentStatus(ctx context.Context, id uuid.UUID) (*PaymentStatusView, error)
	GetPaymentsByOrder(ctx context.Context, orderID string) ([]*core.Payment, error)
	GetPaymentByTransaction(ctx context.Context, transactionID string) (*core.Payment, error)
	ListPayments(ctx context.Context, filter output.PaymentFilter, opts output.ListOptions) (*PaymentPage, error)
	GetHistory(ctx context.Context, id uuid.UUID) ([]core.HistoryEntry, error)
	GetStatistics(ctx context.Context, from, to time.Time) (*core.Statistics, error)
	GetAnalytics(ctx context.Context, req AnalyticsRequest) ([]core.AnalyticsBucket, error)
	ValidateAmount(ctx context.Context, amount decimal.Decimal, currency core.Currency) AmountValidation
}

// RefundService is an input port for refund operations
type RefundService interface {
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*core.Refund, error)
}

// WebhookService is an input port for provider callbacks
type WebhookService interface {
	HandleWebhook(ctx context.Context, provider core.Provider, payload []byte, header http.Header) (*WebhookResult, error)
}

// ReconciliationService is an input port for reconciliation runs
type ReconciliationService interface {
	Reconcile(ctx context.Context, req ReconcileRequest) (*core.ReconciliationReport, error)
	MarkReconciled(ctx context.Context, id uuid.UUID) error
}

// CreateIntentRequest represents the request to create a payment intent
type CreateIntentRequest struct {
	OrderID        string
	CustomerID     string
	Amount         decimal.Decimal
	Currency       core.Currency
	Method         core.PaymentMethod
	Provider       core.Provider
	IdempotencyKey string
	Metadata       map[string]string
}

// IntentResponse represents the response for a created intent
type IntentResponse struct {
	PaymentID        uuid.UUID
	ClientSecret     string
	ProviderIntentID string
	Amount           decimal.Decimal
	Currency         core.Currency
	Status           core.PaymentStatus
	Replayed         bool
}

// ProcessPaymentRequest confirms a payment after checkout
type ProcessPaymentRequest struct {
	PaymentID             uuid.UUID
	ProviderTransactionID string
	Signature             string
}

// VerifyPaymentRequest asks for a gateway read-reconciliation
type VerifyPaymentRequest struct {
	PaymentID             uuid.UUID
	ProviderTransactionID string
	Signature             string
}

// VerifyResult reports the gateway view and whether the ledger was corrected
type VerifyResult struct {
	Payment       *core.Payment
	GatewayStatus core.PaymentStatus
	Corrected     bool
	Drift         string
}

// PaymentStatusView is the compact status read served from the cache
type PaymentStatusView struct {
	ID             uuid.UUID          `json:"id"`
	Status         core.PaymentStatus `json:"status"`
	FailureReason  string             `json:"failure_reason,omitempty"`
	PaidAt         *time.Time         `json:"paid_at,omitempty"`
	RefundedAmount decimal.Decimal    `json:"refunded_amount"`
}

// PaymentPage is one page of a filtered listing
type PaymentPage struct {
	Items      []*core.Payment
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

// AnalyticsRequest selects a period ending now and a bucket size
type AnalyticsRequest struct {
	Period  time.Duration
	GroupBy core.Granularity
}

// AmountValidation is the result of checking an amount against bounds
type AmountValidation struct {
	Valid    bool            `json:"valid"`
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Currency core.Currency   `json:"currency"`
	Message  string          `json:"message,omitempty"`
}

// RefundRequest represents a refund; a nil Amount refunds the full balance
type RefundRequest struct {
	PaymentID uuid.UUID
	Amount    *decimal.Decimal
	Reason    string
}

// RefundResult is the refunded payment plus the booked refund
type RefundResult struct {
	Payment *core.Payment
	Refund  *core.Refund
}

// WebhookResult describes what a delivery did
type WebhookResult struct {
	EventID   string
	Type      string
	Duplicate bool
	Handled   bool
}

// ReconcileRequest selects a date range; Mark flags clean payments reconciled
type ReconcileRequest struct {
	From         time.Time
	To           time.Time
	CheckGateway bool
	Mark         bool
}
