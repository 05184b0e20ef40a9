package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// StripeSignatureHeader carries the t=...,v1=... webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeConfig configures the card/wallet gateway
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	APIBase          string
	ManualCapture    bool
	WebhookTolerance time.Duration
	Retry            RetryPolicy
}

// StripeAdapter implements output.Gateway over stripe-go
type StripeAdapter struct {
	api    *client.API
	cfg    StripeConfig
	mapper *mapper.Mapper
	logger *slog.Logger
	retry  RetryPolicy
}

var _ output.Gateway = (*StripeAdapter)(nil)

// NewStripeAdapter builds a client with stripe-go's own retries disabled;
// RetryPolicy owns the retry budget.
func NewStripeAdapter(cfg StripeConfig, m *mapper.Mapper, logger *slog.Logger) *StripeAdapter {
	retry := cfg.Retry.withDefaults()
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = webhook.DefaultTolerance
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: retry.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIBase != "" {
		backendCfg.URL = stripe.String(cfg.APIBase)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &StripeAdapter{
		api:    client.New(cfg.SecretKey, backends),
		cfg:    cfg,
		mapper: m,
		logger: logger.With("provider", core.ProviderStripe),
		retry:  retry,
	}
}

// Provider returns the gateway tag
func (a *StripeAdapter) Provider() core.Provider { return core.ProviderStripe }

// CreateIntent creates a PaymentIntent for the payment
func (a *StripeAdapter) CreateIntent(ctx context.Context, req output.IntentRequest) (*output.Intent, error) {
	var pi *stripe.PaymentIntent
	err := a.retry.do(ctx, a.logger, core.ProviderStripe, "create_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:             stripe.Int64(mapper.ToMinorUnits(req.Amount)),
			Currency:           stripe.String(strings.ToLower(string(req.Currency))),
			PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
			Description:        stripe.String("order " + req.OrderID),
		}
		if a.cfg.ManualCapture {
			params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
		}
		params.Context = ctx
		params.AddMetadata("payment_id", req.PaymentID.String())
		params.AddMetadata("order_id", req.OrderID)
		params.AddMetadata("customer_id", req.CustomerID)
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		} else {
			params.SetIdempotencyKey("intent-" + req.PaymentID.String())
		}

		var err error
		pi, err = a.api.PaymentIntents.New(params)
		return a.classify("create_intent", err)
	})
	if err != nil {
		return nil, err
	}
	np := a.mapper.StripeIntent(pi)
	return &output.Intent{
		ProviderIntentID: pi.ID,
		ClientSecret:     pi.ClientSecret,
		Payment:          np,
	}, nil
}

// RetrieveIntent fetches the PaymentIntent
func (a *StripeAdapter) RetrieveIntent(ctx context.Context, intentID string) (*mapper.NormalisedPayment, error) {
	var pi *stripe.PaymentIntent
	err := a.retry.do(ctx, a.logger, core.ProviderStripe, "retrieve_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		var err error
		pi, err = a.api.PaymentIntents.Get(intentID, params)
		return a.classify("retrieve_intent", err)
	})
	if err != nil {
		return nil, err
	}
	np := a.mapper.StripeIntent(pi)
	return &np, nil
}

// RetrieveTransaction reads the intent; its latest charge is the transaction.
func (a *StripeAdapter) RetrieveTransaction(ctx context.Context, intentID, transactionID string) (*mapper.NormalisedPayment, error) {
	np, err := a.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if transactionID != "" && np.TransactionID != "" && np.TransactionID != transactionID {
		a.logger.Warn("transaction id differs from intent's latest charge",
			"intent_id", intentID,
			"claimed", transactionID,
			"latest_charge", np.TransactionID,
		)
	}
	return np, nil
}

// Capture captures an intent in requires_capture
func (a *StripeAdapter) Capture(ctx context.Context, intentID, _ string, amount *decimal.Decimal) (*mapper.NormalisedPayment, error) {
	var pi *stripe.PaymentIntent
	err := a.retry.do(ctx, a.logger, core.ProviderStripe, "capture", func(ctx context.Context) error {
		params := &stripe.PaymentIntentCaptureParams{}
		if amount != nil {
			params.AmountToCapture = stripe.Int64(mapper.ToMinorUnits(*amount))
		}
		params.Context = ctx
		params.SetIdempotencyKey("capture-" + intentID)
		var err error
		pi, err = a.api.PaymentIntents.Capture(intentID, params)
		return a.classify("capture", err)
	})
	if err != nil {
		return nil, err
	}
	np := a.mapper.StripeIntent(pi)
	return &np, nil
}

// Cancel cancels the intent at Stripe
func (a *StripeAdapter) Cancel(ctx context.Context, intentID string) error {
	return a.retry.do(ctx, a.logger, core.ProviderStripe, "cancel", func(ctx context.Context) error {
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		_, err := a.api.PaymentIntents.Cancel(intentID, params)
		return a.classify("cancel", err)
	})
}

// CreateRefund refunds against the PaymentIntent
func (a *StripeAdapter) CreateRefund(ctx context.Context, req output.RefundRequest) (*mapper.NormalisedRefund, error) {
	var r *stripe.Refund
	err := a.retry.do(ctx, a.logger, core.ProviderStripe, "refund", func(ctx context.Context) error {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(req.IntentID),
			Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		}
		if req.Amount != nil {
			params.Amount = stripe.Int64(mapper.ToMinorUnits(*req.Amount))
		}
		params.Context = ctx
		params.AddMetadata("payment_id", req.PaymentID.String())
		params.AddMetadata("reason", req.Reason)
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		var err error
		r, err = a.api.Refunds.New(params)
		return a.classify("refund", err)
	})
	if err != nil {
		return nil, err
	}
	nr := a.mapper.StripeRefund(r)
	if nr.IntentID == "" {
		nr.IntentID = req.IntentID
	}
	return &nr, nil
}

// VerifySignature checks a Stripe-Signature header against secret
func (a *StripeAdapter) VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return webhook.ValidatePayloadWithTolerance(payload, signature, secret, a.cfg.WebhookTolerance) == nil
}

// ParseWebhook verifies and decodes a delivery
func (a *StripeAdapter) ParseWebhook(payload []byte, header http.Header) (*mapper.WebhookEvent, error) {
	if !a.VerifySignature(payload, header.Get(StripeSignatureHeader), a.cfg.WebhookSecret) {
		return nil, core.NewWebhookVerificationError(errors.New("stripe signature mismatch"))
	}
	ev, err := a.mapper.ParseStripeEvent(payload)
	if err != nil {
		return nil, core.NewWebhookVerificationError(err)
	}
	return ev, nil
}

// HealthCheck reads the account balance
func (a *StripeAdapter) HealthCheck(ctx context.Context) error {
	params := &stripe.BalanceParams{}
	ctx, cancel := context.WithTimeout(ctx, a.retry.Timeout)
	defer cancel()
	params.Context = ctx
	_, err := a.api.Balance.Get(params)
	return a.classify("health", err)
}

func (a *StripeAdapter) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		class := stripeErrorClass(se)
		if class == core.GatewayUnknown {
			a.logger.Error("unrecognised stripe error", "op", op, "type", se.Type, "status", se.HTTPStatusCode, "code", se.Code)
		}
		msg := se.Msg
		if msg == "" {
			msg = fmt.Sprintf("stripe %s failed", op)
		}
		return core.NewGatewayError(core.ProviderStripe, class, msg, err)
	}
	if isConnectionError(err) {
		return core.NewGatewayError(core.ProviderStripe, core.GatewayConnection, "stripe unreachable", err)
	}
	a.logger.Error("unrecognised stripe failure", "op", op, "error", err)
	return core.NewGatewayError(core.ProviderStripe, core.GatewayUnknown, fmt.Sprintf("stripe %s failed", op), err)
}

func stripeErrorClass(se *stripe.Error) core.GatewayErrorClass {
	switch {
	case se.Type == stripe.ErrorTypeCard:
		return core.GatewayCardDeclined
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.Code == stripe.ErrorCodeRateLimit:
		return core.GatewayRateLimited
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		return core.GatewayAuthentication
	case se.Type == stripe.ErrorTypeInvalidRequest || se.Type == stripe.ErrorTypeIdempotency:
		return core.GatewayInvalidRequest
	case se.HTTPStatusCode >= http.StatusInternalServerError:
		return core.GatewayConnection
	default:
		return core.GatewayUnknown
	}
}
