package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// refundBookingAttempts bounds how often a refund booking is retried after a
// concurrent change to the payment.
const refundBookingAttempts = 3

// RefundServiceImpl implements the RefundService input port
type RefundServiceImpl struct {
	ledger    output.LedgerStore
	gateways  output.Gateways
	processor *PaymentProcessor
	logger    *slog.Logger
}

var _ input.RefundService = (*RefundServiceImpl)(nil)

// NewRefundService creates a new refund service
func NewRefundService(deps Dependencies, processor *PaymentProcessor) *RefundServiceImpl {
	return &RefundServiceImpl{
		ledger:    deps.Ledger,
		gateways:  deps.Gateways,
		processor: processor,
		logger:    deps.Logger,
	}
}

// RefundPayment issues a refund at the gateway and books it. A gateway
// failure leaves the payment untouched.
func (s *RefundServiceImpl) RefundPayment(ctx context.Context, req input.RefundRequest) (*input.RefundResult, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, core.NewRefundError("refund reason is required")
	}
	p, err := s.processor.load(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsRefundable() {
		return nil, core.NewRefundError(fmt.Sprintf("payment in status %s cannot be refunded", p.Status))
	}

	refundable := p.RefundableAmount()
	amount := refundable
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return nil, core.NewValidationError("refund amount must be greater than zero", map[string]string{"amount": amount.String()})
	}
	if !mapper.FitsMinorUnits(amount) {
		return nil, core.NewValidationError("refund amount must have at most two decimal places", map[string]string{"amount": amount.String()})
	}
	if amount.GreaterThan(refundable) {
		return nil, core.NewRefundError(fmt.Sprintf("refund of %s exceeds refundable balance %s",
			amount.StringFixed(2), refundable.StringFixed(2)))
	}

	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	nr, err := gw.CreateRefund(ctx, output.RefundRequest{
		PaymentID:     p.ID,
		IntentID:      p.ProviderIntentID,
		TransactionID: p.ProviderTransactionID,
		Amount:        &amount,
		Currency:      p.Currency,
		Reason:        req.Reason,
		// same payment state and amount yields the same key, so a retried
		// request cannot refund twice at the gateway
		IdempotencyKey: fmt.Sprintf("refund-%s-%s-%s", p.ID, p.RefundedAmount.StringFixed(2), amount.StringFixed(2)),
	})
	if err != nil {
		s.logger.Error("gateway refund failed", "payment_id", p.ID, "amount", amount.StringFixed(2), "error", err)
		return nil, err
	}
	if nr.Status == core.RefundStatusFailed {
		return nil, core.NewGatewayError(p.Provider, core.GatewayUnknown, "gateway rejected the refund", nil)
	}

	// the money has left at the gateway; booking must not be abandoned on cancel
	updated, refund, err := s.book(context.WithoutCancel(ctx), p, nr, req.Reason)
	if err != nil {
		s.logger.Error("refund issued at gateway but not booked",
			"payment_id", p.ID,
			"provider_refund_id", nr.RefundID,
			"amount", nr.Amount.StringFixed(2),
			"error", err,
		)
		return nil, err
	}
	return &input.RefundResult{Payment: updated, Refund: refund}, nil
}

// book records a gateway refund against the payment. The refund row is
// unique on its provider id, so a refund booked twice is returned as is.
func (s *RefundServiceImpl) book(ctx context.Context, p *core.Payment, nr *mapper.NormalisedRefund, reason string) (*core.Payment, *core.Refund, error) {
	return bookRefund(ctx, s.ledger, s.processor, s.logger, p, nr, reason)
}

// ListRefunds lists the refunds booked against a payment
func (s *RefundServiceImpl) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*core.Refund, error) {
	if _, err := s.processor.load(ctx, paymentID); err != nil {
		return nil, err
	}
	refunds, err := s.ledger.FindRefunds(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	return refunds, nil
}

func bookRefund(ctx context.Context, ledger output.LedgerStore, proc *PaymentProcessor, logger *slog.Logger, p *core.Payment, nr *mapper.NormalisedRefund, reason string) (*core.Payment, *core.Refund, error) {
	refund := core.Refund{
		PaymentID:        p.ID,
		Amount:           nr.Amount,
		Currency:         p.Currency,
		Reason:           reason,
		ProviderRefundID: nr.RefundID,
		Status:           nr.Status,
	}
	if nr.Status == core.RefundStatusProcessed {
		now := time.Now().UTC()
		refund.ProcessedAt = &now
	}

	current := p
	for attempt := 1; ; attempt++ {
		if attempt > 1 || !current.IsRefundable() {
			// the provider's webhook may have booked this refund first
			if fresh, existing, err := findBookedRefund(ctx, ledger, proc, logger, nr.RefundID); err != nil || existing != nil {
				return fresh, existing, err
			}
		}
		if !current.IsRefundable() {
			return nil, nil, core.NewRefundError(fmt.Sprintf("payment in status %s cannot be refunded", current.Status))
		}
		updated, booked, err := ledger.ApplyRefund(ctx, output.RefundApplication{
			PaymentID:        current.ID,
			ExpectedStatus:   current.Status,
			ExpectedRefunded: current.RefundedAmount,
			Refund:           refund,
		})
		switch {
		case err == nil:
			logger.Info("refund booked",
				"payment_id", updated.ID,
				"from", current.Status,
				"to", updated.Status,
				"amount", booked.Amount.StringFixed(2),
				"refunded_amount", updated.RefundedAmount.StringFixed(2),
				"provider_refund_id", booked.ProviderRefundID,
			)
			proc.Invalidate(ctx, updated.ID)
			amount := booked.Amount
			proc.Publish(ctx, updated, reason, func(ev *core.PaymentEvent) {
				ev.RefundAmount = &amount
			})
			return updated, booked, nil

		case errors.Is(err, output.ErrDuplicate) && nr.RefundID != "":
			fresh, existing, ferr := findBookedRefund(ctx, ledger, proc, logger, nr.RefundID)
			if ferr != nil {
				return nil, nil, ferr
			}
			if existing == nil {
				return nil, nil, fmt.Errorf("failed to load booked refund %s: %w", nr.RefundID, output.ErrNotFound)
			}
			return fresh, existing, nil

		case errors.Is(err, output.ErrStaleTransition) && attempt < refundBookingAttempts:
			fresh, ferr := proc.load(ctx, current.ID)
			if ferr != nil {
				return nil, nil, ferr
			}
			current = fresh

		default:
			if core.IsKind(err, core.KindRefund) {
				if fresh, existing, ferr := findBookedRefund(ctx, ledger, proc, logger, nr.RefundID); ferr == nil && existing != nil {
					return fresh, existing, nil
				}
			}
			if _, ok := core.As(err); ok {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("failed to book refund: %w", err)
		}
	}
}

// findBookedRefund returns the refund already booked under providerRefundID
// with its payment reloaded, or nils when there is none.
func findBookedRefund(ctx context.Context, ledger output.LedgerStore, proc *PaymentProcessor, logger *slog.Logger, providerRefundID string) (*core.Payment, *core.Refund, error) {
	if providerRefundID == "" {
		return nil, nil, nil
	}
	existing, err := ledger.FindRefundByProviderID(ctx, providerRefundID)
	if errors.Is(err, output.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load booked refund: %w", err)
	}
	fresh, err := proc.load(ctx, existing.PaymentID)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("refund already booked", "payment_id", fresh.ID, "provider_refund_id", providerRefundID)
	return fresh, existing, nil
}
