package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

const defaultAnalyticsPeriod = 30 * 24 * time.Hour

// GetPayment retrieves a payment by ID
func (s *PaymentServiceImpl) GetPayment(ctx context.Context, id uuid.UUID) (*core.Payment, error) {
	return s.processor.load(ctx, id)
}

// GetPaymentStatus serves the compact status view read-through from the
// cache. Cache failures fall back to the ledger.
func (s *PaymentServiceImpl) GetPaymentStatus(ctx context.Context, id uuid.UUID) (*input.PaymentStatusView, error) {
	key := cacheKey(id)
	var view input.PaymentStatusView
	err := s.cache.Get(ctx, key, &view)
	if err == nil {
		return &view, nil
	}
	if !errors.Is(err, output.ErrCacheMiss) {
		s.logger.Warn("status cache read failed", "payment_id", id, "error", err)
	}

	p, err := s.processor.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view = input.PaymentStatusView{
		ID:             p.ID,
		Status:         p.Status,
		FailureReason:  p.FailureReason,
		PaidAt:         p.PaidAt,
		RefundedAmount: p.RefundedAmount,
	}
	if err := s.cache.Set(ctx, key, view, s.cfg.StatusCacheTTL); err != nil {
		s.logger.Warn("status cache write failed", "payment_id", id, "error", err)
	}
	return &view, nil
}

// GetPaymentsByOrder lists every payment attempt for an order
func (s *PaymentServiceImpl) GetPaymentsByOrder(ctx context.Context, orderID string) ([]*core.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, core.NewValidationError("order id is required", map[string]string{"order_id": "required"})
	}
	payments, err := s.ledger.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	return payments, nil
}

// GetPaymentByTransaction retrieves a payment by its provider transaction id
func (s *PaymentServiceImpl) GetPaymentByTransaction(ctx context.Context, transactionID string) (*core.Payment, error) {
	p, err := s.ledger.FindByProviderTransactionID(ctx, transactionID)
	if errors.Is(err, output.ErrNotFound) {
		return nil, core.NewNotFoundError("transaction", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// ListPayments returns one filtered page plus the total match count
func (s *PaymentServiceImpl) ListPayments(ctx context.Context, filter output.PaymentFilter, opts output.ListOptions) (*input.PaymentPage, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, core.NewValidationError("from must not be after to", map[string]string{"from": "after to"})
	}
	if filter.MinAmount != nil && filter.MaxAmount != nil && filter.MinAmount.GreaterThan(*filter.MaxAmount) {
		return nil, core.NewValidationError("minAmount must not exceed maxAmount", map[string]string{"min_amount": "exceeds max_amount"})
	}
	items, err := s.ledger.FindAll(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	total, err := s.ledger.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	page, limit := opts.Page, opts.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}
	return &input.PaymentPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: pages,
	}, nil
}

// GetHistory returns the payment's audit log in ascending time order
func (s *PaymentServiceImpl) GetHistory(ctx context.Context, id uuid.UUID) ([]core.HistoryEntry, error) {
	history, err := s.ledger.GetHistory(ctx, id)
	if errors.Is(err, output.ErrNotFound) {
		return nil, core.NewNotFoundError("payment", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return history, nil
}

// GetStatistics aggregates payments created in [from, to]
func (s *PaymentServiceImpl) GetStatistics(ctx context.Context, from, to time.Time) (*core.Statistics, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultAnalyticsPeriod)
	}
	if from.After(to) {
		return nil, core.NewValidationError("from must not be after to", map[string]string{"from": "after to"})
	}
	stats, err := s.ledger.GetStatistics(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return stats, nil
}

// GetAnalytics buckets the period ending now by the requested granularity
func (s *PaymentServiceImpl) GetAnalytics(ctx context.Context, req input.AnalyticsRequest) ([]core.AnalyticsBucket, error) {
	if req.Period <= 0 {
		req.Period = defaultAnalyticsPeriod
	}
	if req.GroupBy == "" {
		req.GroupBy = core.GranularityDay
	}
	if !req.GroupBy.Valid() {
		return nil, core.NewValidationError("groupBy must be hour, day, week or month", map[string]string{"group_by": string(req.GroupBy)})
	}
	to := time.Now().UTC()
	buckets, err := s.ledger.GetAnalytics(ctx, to.Add(-req.Period), to, req.GroupBy)
	if err != nil {
		if _, ok := core.As(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get analytics: %w", err)
	}
	return buckets, nil
}

// ValidateAmount checks amount against the configured bounds and currency set
func (s *PaymentServiceImpl) ValidateAmount(_ context.Context, amount decimal.Decimal, currency core.Currency) input.AmountValidation {
	v := input.AmountValidation{
		Valid:    true,
		Min:      s.cfg.MinAmount,
		Max:      s.cfg.MaxAmount,
		Currency: currency,
	}
	switch {
	case !s.cfg.supports(currency):
		v.Valid = false
		v.Message = fmt.Sprintf("currency %q is not supported", currency)
	case !amount.IsPositive():
		v.Valid = false
		v.Message = "amount must be greater than zero"
	case !mapper.FitsMinorUnits(amount):
		v.Valid = false
		v.Message = "amount must have at most two decimal places"
	case amount.LessThan(s.cfg.MinAmount):
		v.Valid = false
		v.Message = fmt.Sprintf("amount must be at least %s", s.cfg.MinAmount.StringFixed(2))
	case amount.GreaterThan(s.cfg.MaxAmount):
		v.Valid = false
		v.Message = fmt.Sprintf("amount must not exceed %s", s.cfg.MaxAmount.StringFixed(2))
	}
	return v
}
