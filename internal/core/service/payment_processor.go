package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// PaymentProcessor applies status transitions through the ledger and fans out
// the side effects every transition shares: the audit log line, the domain
// event and cache invalidation.
type PaymentProcessor struct {
	ledger output.LedgerStore
	events output.EventProducer
	cache  output.Cache
	logger *slog.Logger
}

// NewPaymentProcessor creates a new payment processor
func NewPaymentProcessor(ledger output.LedgerStore, events output.EventProducer, cache output.Cache, logger *slog.Logger) *PaymentProcessor {
	return &PaymentProcessor{
		ledger: ledger,
		events: events,
		cache:  cache,
		logger: logger,
	}
}

// Apply runs t as a compare-and-set. When another caller moved the payment
// first, the current row is returned with applied=false and no side effect
// fires.
func (p *PaymentProcessor) Apply(ctx context.Context, t output.Transition) (payment *core.Payment, applied bool, err error) {
	updated, err := p.ledger.Transition(ctx, t)
	if errors.Is(err, output.ErrStaleTransition) {
		current, ferr := p.load(ctx, t.PaymentID)
		if ferr != nil {
			return nil, false, ferr
		}
		p.logger.Info("transition already handled",
			"payment_id", t.PaymentID,
			"to", t.To,
			"current", current.Status,
		)
		return current, false, nil
	}
	if err != nil {
		if errors.Is(err, output.ErrNotFound) {
			return nil, false, core.NewNotFoundError("payment", t.PaymentID.String())
		}
		if _, ok := core.As(err); ok {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to transition payment: %w", err)
	}

	p.logger.Info("payment transitioned",
		"payment_id", updated.ID,
		"from", t.From,
		"to", updated.Status,
		"action", t.Action,
	)
	p.Invalidate(ctx, updated.ID)
	p.Publish(ctx, updated, t.Reason, nil)
	return updated, true, nil
}

// Publish announces that payment entered its current status. Delivery is
// fire-and-forget: failures are logged, never returned.
func (p *PaymentProcessor) Publish(ctx context.Context, payment *core.Payment, reason string, event func(*core.PaymentEvent)) {
	topic := core.TopicFor(payment.Status)
	if topic == "" {
		return
	}
	ev := core.NewPaymentEvent(payment, reason)
	if event != nil {
		event(&ev)
	}
	if err := p.events.Publish(ctx, topic, ev); err != nil {
		p.logger.Error("failed to publish payment event",
			"payment_id", payment.ID,
			"topic", topic,
			"error", err,
		)
	}
}

// Invalidate drops cached reads of the payment.
func (p *PaymentProcessor) Invalidate(ctx context.Context, id uuid.UUID) {
	if err := p.cache.Del(ctx, cacheKey(id)); err != nil {
		p.logger.Warn("failed to invalidate cached payment", "payment_id", id, "error", err)
	}
}

func (p *PaymentProcessor) load(ctx context.Context, id uuid.UUID) (*core.Payment, error) {
	payment, err := p.ledger.FindByID(ctx, id)
	if errors.Is(err, output.ErrNotFound) {
		return nil, core.NewNotFoundError("payment", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func cacheKey(id uuid.UUID) string {
	return "payment:" + id.String()
}
