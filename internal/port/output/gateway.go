package output

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
)

// IntentRequest carries major-unit amounts; adapters convert at their edge.
type IntentRequest struct {
	PaymentID      uuid.UUID
	OrderID        string
	CustomerID     string
	Amount         decimal.Decimal
	Currency       core.Currency
	Method         core.PaymentMethod
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider reservation created for a payment
type Intent struct {
	ProviderIntentID string
	ClientSecret     string
	Payment          mapper.NormalisedPayment
}

// RefundRequest is a refund against a settled payment. A nil Amount refunds
// whatever the provider considers refundable.
type RefundRequest struct {
	PaymentID      uuid.UUID
	IntentID       string
	TransactionID  string
	Amount         *decimal.Decimal
	Currency       core.Currency
	Reason         string
	IdempotencyKey string
}

// Gateway is the capability set every provider adapter implements. Errors
// returned are *core.Error of KindGateway.
type Gateway interface {
	Provider() core.Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*mapper.NormalisedPayment, error)
	// RetrieveTransaction looks up a confirmed transaction. transactionID may
	// be empty, in which case the intent's latest attempt is used.
	RetrieveTransaction(ctx context.Context, intentID, transactionID string) (*mapper.NormalisedPayment, error)
	Capture(ctx context.Context, intentID, transactionID string, amount *decimal.Decimal) (*mapper.NormalisedPayment, error)
	Cancel(ctx context.Context, intentID string) error
	CreateRefund(ctx context.Context, req RefundRequest) (*mapper.NormalisedRefund, error)
	VerifySignature(payload []byte, signature, secret string) bool
	// ParseWebhook verifies the delivery signature before decoding the body.
	ParseWebhook(payload []byte, header http.Header) (*mapper.WebhookEvent, error)
	HealthCheck(ctx context.Context) error
}

// PaymentSignatureVerifier is implemented by gateways whose checkout returns a
// signature binding the intent to the transaction.
type PaymentSignatureVerifier interface {
	VerifyPaymentSignature(intentID, transactionID, signature string) bool
}

// Gateways is the closed set of adapters, built once at startup.
type Gateways map[core.Provider]Gateway

// Get returns the adapter for p or a validation error.
func (g Gateways) Get(p core.Provider) (Gateway, error) {
	gw, ok := g[p]
	if !ok {
		return nil, core.NewValidationError("unsupported provider", map[string]string{"provider": string(p)})
	}
	return gw, nil
}
