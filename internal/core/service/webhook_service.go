package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// WebhookServiceImpl verifies provider callbacks and routes them into the
// payment state machine. Each (provider, event id) is applied at most once.
type WebhookServiceImpl struct {
	ledger    output.LedgerStore
	gateways  output.Gateways
	events    output.WebhookEventStore
	processor *PaymentProcessor
	logger    *slog.Logger
}

var _ input.WebhookService = (*WebhookServiceImpl)(nil)

// NewWebhookService creates a new webhook service
func NewWebhookService(deps Dependencies, processor *PaymentProcessor) *WebhookServiceImpl {
	return &WebhookServiceImpl{
		ledger:    deps.Ledger,
		gateways:  deps.Gateways,
		events:    deps.Webhooks,
		processor: processor,
		logger:    deps.Logger,
	}
}

// HandleWebhook verifies the delivery before anything else reads it. A
// verification failure is returned without touching the ledger. Deterministic
// apply failures are recorded and acknowledged; transient ones release the
// claim and are returned so the provider redelivers.
func (s *WebhookServiceImpl) HandleWebhook(ctx context.Context, provider core.Provider, payload []byte, header http.Header) (*input.WebhookResult, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	ev, err := gw.ParseWebhook(payload, header)
	if err != nil {
		s.logger.Warn("webhook rejected", "provider", provider, "error", err)
		if _, ok := core.As(err); ok {
			return nil, err
		}
		return nil, core.NewWebhookVerificationError(err)
	}

	result := &input.WebhookResult{EventID: ev.EventID, Type: ev.Type}
	claimed, err := s.events.Claim(ctx, output.WebhookRecord{
		Provider:   provider,
		EventID:    ev.EventID,
		EventType:  ev.Type,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		s.logger.Info("duplicate webhook ignored", "provider", provider, "event_id", ev.EventID, "type", ev.Type)
		result.Duplicate = true
		return result, nil
	}

	// once claimed, the event is applied even if the provider hangs up
	applyCtx := context.WithoutCancel(ctx)
	handled, err := s.apply(applyCtx, ev)
	if err != nil {
		if isDeterministic(err) {
			s.logger.Warn("webhook event not applicable",
				"provider", provider,
				"event_id", ev.EventID,
				"type", ev.Type,
				"error", err,
			)
			if rerr := s.events.RecordFailure(applyCtx, provider, ev.EventID, err.Error()); rerr != nil {
				s.logger.Error("failed to record webhook failure", "event_id", ev.EventID, "error", rerr)
			}
			return result, nil
		}
		s.logger.Error("webhook apply failed, releasing claim",
			"provider", provider,
			"event_id", ev.EventID,
			"type", ev.Type,
			"error", err,
		)
		if rerr := s.events.Release(applyCtx, provider, ev.EventID); rerr != nil {
			s.logger.Error("failed to release webhook claim", "event_id", ev.EventID, "error", rerr)
		}
		return nil, err
	}

	if err := s.events.MarkProcessed(applyCtx, provider, ev.EventID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark webhook processed", "event_id", ev.EventID, "error", err)
	}
	result.Handled = handled
	return result, nil
}

func (s *WebhookServiceImpl) apply(ctx context.Context, ev *mapper.WebhookEvent) (bool, error) {
	switch ev.Kind {
	case mapper.WebhookPaymentSucceeded, mapper.WebhookPaymentFailed, mapper.WebhookPaymentCancelled:
		return true, s.applyPayment(ctx, ev)
	case mapper.WebhookRefundProcessed:
		return true, s.applyRefundProcessed(ctx, ev)
	case mapper.WebhookRefundFailed:
		return true, s.applyRefundFailed(ctx, ev)
	default:
		s.logger.Info("unhandled webhook event acknowledged",
			"provider", ev.Provider,
			"event_id", ev.EventID,
			"type", ev.Type,
		)
		return false, nil
	}
}

func (s *WebhookServiceImpl) applyPayment(ctx context.Context, ev *mapper.WebhookEvent) error {
	np := ev.Payment
	if np == nil {
		return core.NewValidationError("payment event without payment", nil)
	}
	p, err := s.findPayment(ctx, ev.Provider, np.IntentID, np.TransactionID)
	if err != nil {
		return err
	}

	if !core.CanTransition(p.Status, core.PaymentStatusPaid) &&
		!core.CanTransition(p.Status, core.PaymentStatusFailed) {
		if ev.Kind == mapper.WebhookPaymentSucceeded && !p.Status.IsSuccessful() {
			s.logger.Warn("success event for unsettleable payment",
				"payment_id", p.ID,
				"status", p.Status,
				"event_id", ev.EventID,
			)
		}
		return nil
	}

	// the event names the outcome; the mapped status already says the same
	switch ev.Kind {
	case mapper.WebhookPaymentSucceeded:
		np.Status = core.PaymentStatusPaid
	case mapper.WebhookPaymentFailed:
		np.Status = core.PaymentStatusFailed
		if np.FailureReason == "" {
			np.FailureReason = "payment failed at gateway"
		}
	case mapper.WebhookPaymentCancelled:
		np.Status = core.PaymentStatusCancelled
	}
	_, _, err = settleFromGateway(ctx, s.processor, s.logger, p, np)
	return err
}

func (s *WebhookServiceImpl) applyRefundProcessed(ctx context.Context, ev *mapper.WebhookEvent) error {
	nr := ev.Refund
	if nr == nil || nr.RefundID == "" {
		return core.NewValidationError("refund event without refund id", nil)
	}

	existing, err := s.ledger.FindRefundByProviderID(ctx, nr.RefundID)
	switch {
	case err == nil:
		settled, serr := s.ledger.SettleRefund(ctx, existing.ID, core.RefundStatusProcessed, time.Now().UTC())
		if serr != nil {
			return serr
		}
		if settled {
			s.logger.Info("refund confirmed", "payment_id", existing.PaymentID, "provider_refund_id", nr.RefundID)
		}
		return nil
	case !errors.Is(err, output.ErrNotFound):
		return fmt.Errorf("failed to look up refund: %w", err)
	}

	// a refund issued outside this service, e.g. from the provider dashboard
	p, err := s.findPayment(ctx, ev.Provider, nr.IntentID, nr.TransactionID)
	if err != nil {
		return err
	}
	if nr.Amount.GreaterThan(p.RefundableAmount()) {
		return core.NewRefundError(fmt.Sprintf("external refund %s of %s exceeds refundable balance %s",
			nr.RefundID, nr.Amount.StringFixed(2), p.RefundableAmount().StringFixed(2)))
	}
	_, _, err = bookRefund(ctx, s.ledger, s.processor, s.logger, p, nr, "refund issued at "+string(ev.Provider))
	return err
}

func (s *WebhookServiceImpl) applyRefundFailed(ctx context.Context, ev *mapper.WebhookEvent) error {
	nr := ev.Refund
	if nr == nil || nr.RefundID == "" {
		return core.NewValidationError("refund event without refund id", nil)
	}
	existing, err := s.ledger.FindRefundByProviderID(ctx, nr.RefundID)
	if errors.Is(err, output.ErrNotFound) {
		s.logger.Warn("failure event for unknown refund", "provider_refund_id", nr.RefundID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up refund: %w", err)
	}
	settled, err := s.ledger.SettleRefund(ctx, existing.ID, core.RefundStatusFailed, time.Now().UTC())
	if err != nil {
		return err
	}
	if settled {
		// refunded_amount is not reversed; an operator decides how to redo it
		s.logger.Error("refund failed at gateway",
			"payment_id", existing.PaymentID,
			"provider_refund_id", nr.RefundID,
			"amount", existing.Amount.StringFixed(2),
		)
	}
	return nil
}

// findPayment resolves a provider event to a ledger payment, by intent id
// first and transaction id second.
func (s *WebhookServiceImpl) findPayment(ctx context.Context, provider core.Provider, intentID, transactionID string) (*core.Payment, error) {
	if intentID != "" {
		p, err := s.ledger.FindByProviderIntentID(ctx, provider, intentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, output.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up payment: %w", err)
		}
	}
	if transactionID != "" {
		p, err := s.ledger.FindByProviderTransactionID(ctx, transactionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, output.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up payment: %w", err)
		}
	}
	return nil, core.NewNotFoundError("payment for intent", intentID)
}

// isDeterministic reports errors a redelivery would hit again.
func isDeterministic(err error) bool {
	switch core.ErrorKindOf(err) {
	case core.KindValidation, core.KindNotFound, core.KindProcessing, core.KindRefund:
		return true
	default:
		return false
	}
}
