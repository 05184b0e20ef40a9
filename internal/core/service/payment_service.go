package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// Dependencies are the collaborators shared by the services
type Dependencies struct {
	Ledger      output.LedgerStore
	Gateways    output.Gateways
	Orders      output.OrderService
	Idempotency output.IdempotencyStore
	Webhooks    output.WebhookEventStore
	Events      output.EventProducer
	Cache       output.Cache
	Logger      *slog.Logger
}

// PaymentServiceImpl implements the PaymentService input port. It owns the
// payment state machine.
type PaymentServiceImpl struct {
	ledger      output.LedgerStore
	gateways    output.Gateways
	orders      output.OrderService
	idempotency output.IdempotencyStore
	cache       output.Cache
	processor   *PaymentProcessor
	cfg         Config
	logger      *slog.Logger
}

var _ input.PaymentService = (*PaymentServiceImpl)(nil)

// NewPaymentService creates a new payment service
func NewPaymentService(deps Dependencies, processor *PaymentProcessor, cfg Config) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		ledger:      deps.Ledger,
		gateways:    deps.Gateways,
		orders:      deps.Orders,
		idempotency: deps.Idempotency,
		cache:       deps.Cache,
		processor:   processor,
		cfg:         cfg.withDefaults(),
		logger:      deps.Logger,
	}
}

// CreatePaymentIntent validates the request against the order, reserves the
// idempotency key, creates the provider intent and persists a PENDING payment.
func (s *PaymentServiceImpl) CreatePaymentIntent(ctx context.Context, req input.CreateIntentRequest) (*input.IntentResponse, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.Method == "" {
		req.Method = core.PaymentMethodCard
	}
	if err := s.validateIntent(ctx, req); err != nil {
		return nil, err
	}

	gw, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	total, err := s.orders.GetOrderTotal(ctx, req.OrderID)
	if err != nil {
		if _, ok := core.As(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch order total: %w", err)
	}
	if !total.Equal(req.Amount) {
		return nil, core.NewValidationError("amount does not match order total", map[string]string{
			"amount":      req.Amount.StringFixed(2),
			"order_total": total.StringFixed(2),
		})
	}

	if req.IdempotencyKey != "" {
		rec, created, err := s.idempotency.Begin(ctx, req.IdempotencyKey, fingerprint(req), s.cfg.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if !created {
			return s.replay(ctx, req, rec)
		}
	}

	resp, err := s.createIntent(ctx, gw, req)
	if err != nil {
		if req.IdempotencyKey != "" {
			if rerr := s.idempotency.Release(context.WithoutCancel(ctx), req.IdempotencyKey); rerr != nil {
				s.logger.Error("failed to release idempotency key", "key", req.IdempotencyKey, "error", rerr)
			}
		}
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if err := s.idempotency.Complete(ctx, req.IdempotencyKey, resp.PaymentID, resp.ClientSecret, resp.ProviderIntentID); err != nil {
			s.logger.Error("failed to complete idempotency key", "key", req.IdempotencyKey, "payment_id", resp.PaymentID, "error", err)
		}
	}
	return resp, nil
}

func (s *PaymentServiceImpl) validateIntent(ctx context.Context, req input.CreateIntentRequest) error {
	fields := map[string]string{}
	if req.OrderID == "" {
		fields["order_id"] = "required"
	}
	if req.CustomerID == "" {
		fields["customer_id"] = "required"
	}
	if !req.Provider.Valid() {
		fields["provider"] = "must be stripe or razorpay"
	}
	if !req.Method.Valid() {
		fields["method"] = "unsupported payment method"
	}
	if len(fields) > 0 {
		return core.NewValidationError("invalid payment intent request", fields)
	}
	if v := s.ValidateAmount(ctx, req.Amount, req.Currency); !v.Valid {
		return core.NewValidationError(v.Message, map[string]string{
			"amount":   req.Amount.String(),
			"currency": string(req.Currency),
		})
	}
	return nil
}

func (s *PaymentServiceImpl) replay(ctx context.Context, req input.CreateIntentRequest, rec *output.IdempotencyRecord) (*input.IntentResponse, error) {
	if rec.Fingerprint != fingerprint(req) {
		return nil, core.NewValidationError("idempotency key was used with a different request", map[string]string{
			"idempotency_key": req.IdempotencyKey,
		})
	}
	if rec.Status != output.IdempotencyCompleted {
		return nil, core.NewProcessingErrorf("a request with idempotency key %s is still in progress", req.IdempotencyKey)
	}
	p, err := s.processor.load(ctx, rec.PaymentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("replaying payment intent", "payment_id", p.ID, "key", req.IdempotencyKey)
	return &input.IntentResponse{
		PaymentID:        p.ID,
		ClientSecret:     rec.ClientSecret,
		ProviderIntentID: rec.ProviderIntentID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           p.Status,
		Replayed:         true,
	}, nil
}

func (s *PaymentServiceImpl) createIntent(ctx context.Context, gw output.Gateway, req input.CreateIntentRequest) (*input.IntentResponse, error) {
	paymentID := uuid.New()
	intent, err := gw.CreateIntent(ctx, output.IntentRequest{
		PaymentID:      paymentID,
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.logger.Error("failed to create provider intent",
			"payment_id", paymentID,
			"provider", req.Provider,
			"error", err,
		)
		return nil, err
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if len(intent.Payment.Raw) > 0 {
		metadata[core.MetadataKeyGatewayIntent] = intent.Payment.Raw
	}

	payment := &core.Payment{
		ID:               paymentID,
		OrderID:          req.OrderID,
		CustomerID:       req.CustomerID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		RefundedAmount:   decimal.Zero,
		Method:           req.Method,
		Provider:         req.Provider,
		ProviderIntentID: intent.ProviderIntentID,
		Status:           core.PaymentStatusPending,
		Metadata:         metadata,
		IdempotencyKey:   req.IdempotencyKey,
	}
	if err := s.ledger.Create(ctx, payment); err != nil {
		// the intent is orphaned at the provider; cancel it where possible
		if cerr := gw.Cancel(context.WithoutCancel(ctx), intent.ProviderIntentID); cerr != nil {
			s.logger.Error("failed to cancel orphaned intent", "intent_id", intent.ProviderIntentID, "error", cerr)
		}
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	s.logger.Info("payment intent created",
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
		"provider", payment.Provider,
		"intent_id", payment.ProviderIntentID,
		"amount", payment.Amount.StringFixed(2),
		"currency", payment.Currency,
	)
	return &input.IntentResponse{
		PaymentID:        payment.ID,
		ClientSecret:     intent.ClientSecret,
		ProviderIntentID: intent.ProviderIntentID,
		Amount:           payment.Amount,
		Currency:         payment.Currency,
		Status:           payment.Status,
	}, nil
}

// ProcessPayment confirms a PENDING payment with its gateway. Exactly one
// concurrent caller wins the move to PROCESSING; the others get the payment
// as it stands.
func (s *PaymentServiceImpl) ProcessPayment(ctx context.Context, req input.ProcessPaymentRequest) (*core.Payment, error) {
	p, err := s.processor.load(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsPending() {
		return nil, core.NewProcessingError(core.PaymentStatusProcessing, p.Status)
	}
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	if err := verifyCheckoutSignature(gw, p, req.ProviderTransactionID, req.Signature); err != nil {
		return nil, err
	}

	p, applied, err := s.processor.Apply(ctx, output.Transition{
		PaymentID: p.ID,
		From:      []core.PaymentStatus{core.PaymentStatusPending},
		To:        core.PaymentStatusProcessing,
		Action:    core.HistoryActionProcessing,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return p, nil
	}

	np, err := gw.RetrieveTransaction(ctx, p.ProviderIntentID, req.ProviderTransactionID)
	if err != nil {
		s.logger.Error("gateway confirmation failed", "payment_id", p.ID, "error", err)
		if _, _, ferr := s.fail(context.WithoutCancel(ctx), p, failureReason(err)); ferr != nil {
			s.logger.Error("failed to mark payment failed", "payment_id", p.ID, "error", ferr)
		}
		return nil, err
	}

	updated, _, err := s.settle(context.WithoutCancel(ctx), p, np)
	return updated, err
}

// settle moves an in-flight payment to the state the gateway reports.
// Gateway states that are still in flight leave the payment unchanged.
func (s *PaymentServiceImpl) settle(ctx context.Context, p *core.Payment, np *mapper.NormalisedPayment) (*core.Payment, bool, error) {
	return settleFromGateway(ctx, s.processor, s.logger, p, np)
}

func (s *PaymentServiceImpl) fail(ctx context.Context, p *core.Payment, reason string) (*core.Payment, bool, error) {
	return s.processor.Apply(ctx, output.Transition{
		PaymentID:     p.ID,
		From:          []core.PaymentStatus{core.PaymentStatusPending, core.PaymentStatusProcessing},
		To:            core.PaymentStatusFailed,
		Action:        core.HistoryActionFailed,
		FailureReason: &reason,
		Reason:        reason,
	})
}

// VerifyPayment reads the gateway's view and corrects in-flight payments that
// drifted from it. Settled payments are reported, never rewritten.
func (s *PaymentServiceImpl) VerifyPayment(ctx context.Context, req input.VerifyPaymentRequest) (*input.VerifyResult, error) {
	p, err := s.processor.load(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	txID := req.ProviderTransactionID
	if req.Signature != "" {
		if err := verifyCheckoutSignature(gw, p, txID, req.Signature); err != nil {
			return nil, err
		}
	}
	if txID == "" {
		txID = p.ProviderTransactionID
	}

	np, err := gw.RetrieveTransaction(ctx, p.ProviderIntentID, txID)
	if err != nil {
		return nil, err
	}

	result := &input.VerifyResult{Payment: p, GatewayStatus: np.Status}
	switch p.Status {
	case core.PaymentStatusPending, core.PaymentStatusProcessing:
		updated, applied, err := s.settle(ctx, p, np)
		if err != nil {
			return nil, err
		}
		result.Payment = updated
		result.Corrected = applied
		if applied {
			result.Drift = fmt.Sprintf("ledger %s, gateway %s", p.Status, np.Status)
		}
	default:
		result.Drift = describeDrift(p, np)
		if result.Drift != "" {
			s.logger.Warn("settled payment drifted from gateway",
				"payment_id", p.ID,
				"ledger_status", p.Status,
				"gateway_status", np.Status,
				"drift", result.Drift,
			)
		}
	}
	return result, nil
}

// CapturePayment captures an authorized intent and moves the payment to PAID.
func (s *PaymentServiceImpl) CapturePayment(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*core.Payment, error) {
	p, err := s.processor.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(p.Status, core.PaymentStatusPaid) {
		return nil, core.NewProcessingError(core.PaymentStatusPaid, p.Status)
	}
	if amount != nil && !mapper.FitsMinorUnits(*amount) {
		return nil, core.NewValidationError("capture amount must have at most two decimal places", map[string]string{"amount": amount.String()})
	}
	if amount != nil && (!amount.IsPositive() || amount.GreaterThan(p.Amount)) {
		return nil, core.NewValidationError("capture amount must be positive and not exceed the payment amount", map[string]string{
			"amount": amount.StringFixed(2),
			"max":    p.Amount.StringFixed(2),
		})
	}
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}

	current, err := gw.RetrieveTransaction(ctx, p.ProviderIntentID, p.ProviderTransactionID)
	if err != nil {
		return nil, err
	}
	if !current.Capturable {
		return nil, core.NewProcessingErrorf("payment %s is not capturable: gateway status %s", p.ID, current.RawStatus)
	}

	np, err := gw.Capture(ctx, p.ProviderIntentID, current.TransactionID, amount)
	if err != nil {
		return nil, err
	}
	if np.Status != core.PaymentStatusPaid {
		return nil, core.NewProcessingErrorf("capture left payment %s in gateway status %s", p.ID, np.RawStatus)
	}

	captured := p.Amount
	if amount != nil {
		captured = *amount
	}
	paidAt := time.Now().UTC()
	txID := np.TransactionID
	updated, _, err := s.processor.Apply(context.WithoutCancel(ctx), output.Transition{
		PaymentID:             p.ID,
		From:                  []core.PaymentStatus{core.PaymentStatusPending, core.PaymentStatusProcessing},
		To:                    core.PaymentStatusPaid,
		Action:                core.HistoryActionPaid,
		ProviderTransactionID: &txID,
		PaidAt:                &paidAt,
		HistoryAmount:         &captured,
		Metadata:              map[string]any{"captured_amount": captured.StringFixed(2)},
		Reason:                "captured",
	})
	return updated, err
}

// CancelPayment cancels an unsettled payment. The gateway cancel is best
// effort; the local move to CANCELLED always happens.
func (s *PaymentServiceImpl) CancelPayment(ctx context.Context, id uuid.UUID, reason string) (*core.Payment, error) {
	p, err := s.processor.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.CanTransitionTo(core.PaymentStatusCancelled); err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	if err := gw.Cancel(ctx, p.ProviderIntentID); err != nil {
		s.logger.Warn("gateway cancel failed, cancelling locally",
			"payment_id", p.ID,
			"intent_id", p.ProviderIntentID,
			"error", err,
		)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by request"
	}
	now := time.Now().UTC()
	updated, applied, err := s.processor.Apply(context.WithoutCancel(ctx), output.Transition{
		PaymentID:   p.ID,
		From:        []core.PaymentStatus{core.PaymentStatusPending, core.PaymentStatusProcessing},
		To:          core.PaymentStatusCancelled,
		Action:      core.HistoryActionCancelled,
		CancelledAt: &now,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}
	if !applied && updated.Status != core.PaymentStatusCancelled {
		return nil, core.NewProcessingError(core.PaymentStatusCancelled, updated.Status)
	}
	return updated, nil
}

// RetryFailedPayment returns a FAILED payment to PENDING, optionally switching
// the payment method.
func (s *PaymentServiceImpl) RetryFailedPayment(ctx context.Context, id uuid.UUID, newMethod core.PaymentMethod) (*core.Payment, error) {
	if newMethod != "" && !newMethod.Valid() {
		return nil, core.NewValidationError("unsupported payment method", map[string]string{"method": string(newMethod)})
	}
	p, err := s.processor.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != core.PaymentStatusFailed {
		return nil, core.NewProcessingError(core.PaymentStatusPending, p.Status)
	}

	cleared := ""
	t := output.Transition{
		PaymentID:     p.ID,
		From:          []core.PaymentStatus{core.PaymentStatusFailed},
		To:            core.PaymentStatusPending,
		Action:        core.HistoryActionRetried,
		FailureReason: &cleared,
		Reason:        "retry after: " + p.FailureReason,
	}
	if newMethod != "" {
		t.Method = &newMethod
	}
	updated, applied, err := s.processor.Apply(ctx, t)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, core.NewProcessingError(core.PaymentStatusPending, updated.Status)
	}
	return updated, nil
}

// verifyCheckoutSignature checks the checkout signature for gateways that
// issue one. The transaction id is not trusted before it passes.
func verifyCheckoutSignature(gw output.Gateway, p *core.Payment, txID, signature string) error {
	verifier, ok := gw.(output.PaymentSignatureVerifier)
	if !ok {
		return nil
	}
	if txID == "" || signature == "" {
		return core.NewValidationError("transaction id and signature are required", map[string]string{
			"provider_transaction_id": "required",
			"signature":               "required",
		})
	}
	if !verifier.VerifyPaymentSignature(p.ProviderIntentID, txID, signature) {
		return core.NewValidationError("invalid payment signature", map[string]string{"signature": "mismatch"})
	}
	return nil
}

// settleFromGateway applies the gateway's view to an in-flight payment. It
// returns the payment unchanged while the gateway is still in flight.
func settleFromGateway(ctx context.Context, proc *PaymentProcessor, logger *slog.Logger, p *core.Payment, np *mapper.NormalisedPayment) (*core.Payment, bool, error) {
	inFlight := []core.PaymentStatus{core.PaymentStatusPending, core.PaymentStatusProcessing}

	if reason := amountMismatch(p, np); reason != "" {
		logger.Error("gateway amount differs from ledger", "payment_id", p.ID, "reason", reason)
		return proc.Apply(ctx, output.Transition{
			PaymentID:     p.ID,
			From:          inFlight,
			To:            core.PaymentStatusFailed,
			Action:        core.HistoryActionFailed,
			FailureReason: &reason,
			Reason:        reason,
		})
	}

	switch {
	case np.Status == core.PaymentStatusPaid:
		paidAt := time.Now().UTC()
		txID := np.TransactionID
		t := output.Transition{
			PaymentID:             p.ID,
			From:                  inFlight,
			To:                    core.PaymentStatusPaid,
			Action:                core.HistoryActionPaid,
			ProviderTransactionID: &txID,
			PaidAt:                &paidAt,
			HistoryAmount:         &np.Amount,
		}
		if np.Method != "" && np.Method != p.Method {
			t.Method = &np.Method
		}
		if len(np.Raw) > 0 {
			t.Metadata = map[string]any{core.MetadataKeyGatewayPayment: np.Raw}
		}
		return proc.Apply(ctx, t)

	case np.Status == core.PaymentStatusFailed,
		np.Status == core.PaymentStatusPending && np.FailureReason != "":
		reason := np.FailureReason
		if reason == "" {
			reason = "payment failed at gateway"
		}
		return proc.Apply(ctx, output.Transition{
			PaymentID:     p.ID,
			From:          inFlight,
			To:            core.PaymentStatusFailed,
			Action:        core.HistoryActionFailed,
			FailureReason: &reason,
			Reason:        reason,
		})

	case np.Status == core.PaymentStatusCancelled:
		now := time.Now().UTC()
		return proc.Apply(ctx, output.Transition{
			PaymentID:   p.ID,
			From:        inFlight,
			To:          core.PaymentStatusCancelled,
			Action:      core.HistoryActionCancelled,
			CancelledAt: &now,
			Reason:      "cancelled at gateway",
		})

	default:
		logger.Info("gateway payment still in flight",
			"payment_id", p.ID,
			"gateway_status", np.RawStatus,
			"capturable", np.Capturable,
		)
		return p, false, nil
	}
}

// amountMismatch reports a gateway amount or currency that differs from the
// ledger. Zero gateway amounts are not compared.
func amountMismatch(p *core.Payment, np *mapper.NormalisedPayment) string {
	if np.Currency != "" && !strings.EqualFold(string(np.Currency), string(p.Currency)) {
		return fmt.Sprintf("currency mismatch: ledger %s, gateway %s", p.Currency, np.Currency)
	}
	if !np.Amount.IsZero() && !np.Amount.Equal(p.Amount) {
		return fmt.Sprintf("amount mismatch: ledger %s, gateway %s", p.Amount.StringFixed(2), np.Amount.StringFixed(2))
	}
	return ""
}

// describeDrift compares a settled payment with the gateway's view.
func describeDrift(p *core.Payment, np *mapper.NormalisedPayment) string {
	gatewayPaid := np.Status.IsSuccessful()
	switch {
	case p.Status.IsSuccessful() && !gatewayPaid:
		return fmt.Sprintf("status drift: ledger %s, gateway %s", p.Status, np.Status)
	case !p.Status.IsSuccessful() && gatewayPaid:
		return fmt.Sprintf("status drift: ledger %s, gateway %s", p.Status, np.Status)
	case p.Status.IsSuccessful() && np.TransactionID != "" && p.ProviderTransactionID != "" && np.TransactionID != p.ProviderTransactionID:
		return fmt.Sprintf("transaction drift: ledger %s, gateway %s", p.ProviderTransactionID, np.TransactionID)
	}
	return amountMismatch(p, np)
}

// failureReason renders err for the payment's failure_reason column.
func failureReason(err error) string {
	if e, ok := core.As(err); ok {
		if e.Kind == core.KindGateway {
			return fmt.Sprintf("%s: %s", e.GatewayClass, e.Message)
		}
		return e.Message
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "gateway confirmation interrupted"
	}
	return "internal error during processing"
}

// fingerprint binds an idempotency key to the request that first used it.
func fingerprint(req input.CreateIntentRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s",
		req.OrderID,
		req.CustomerID,
		req.Amount.StringFixed(2),
		strings.ToUpper(string(req.Currency)),
		req.Method,
		req.Provider,
	)
	return hex.EncodeToString(h.Sum(nil))
}
