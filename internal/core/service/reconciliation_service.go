package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

const reconcilePageSize = 100

// ReconciliationServiceImpl compares the ledger with gateway truth. It never
// corrects what it finds; the only write is the reconciled flag.
type ReconciliationServiceImpl struct {
	ledger      output.LedgerStore
	gateways    output.Gateways
	concurrency int
	logger      *slog.Logger
}

var _ input.ReconciliationService = (*ReconciliationServiceImpl)(nil)

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(deps Dependencies, cfg Config) *ReconciliationServiceImpl {
	cfg = cfg.withDefaults()
	return &ReconciliationServiceImpl{
		ledger:      deps.Ledger,
		gateways:    deps.Gateways,
		concurrency: cfg.ReconcileConcurrency,
		logger:      deps.Logger,
	}
}

// Reconcile reports discrepancies for payments created in [From, To]. With
// CheckGateway every settled or failed payment is also compared with its
// gateway; with Mark the clean ones are flagged reconciled.
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, req input.ReconcileRequest) (*core.ReconciliationReport, error) {
	if req.From.IsZero() || req.To.IsZero() {
		return nil, core.NewValidationError("from and to are required", map[string]string{"from": "required", "to": "required"})
	}
	if req.From.After(req.To) {
		return nil, core.NewValidationError("from must not be after to", map[string]string{"from": "after to"})
	}

	report, err := s.ledger.Reconcile(ctx, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile ledger: %w", err)
	}
	if !req.CheckGateway && !req.Mark {
		s.logReport(report)
		return report, nil
	}

	payments, err := s.scan(ctx, req.From, req.To, req.CheckGateway)
	if err != nil {
		return nil, err
	}

	flagged := make(map[uuid.UUID]bool, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		flagged[d.PaymentID] = true
	}

	if req.CheckGateway {
		// one discrepancy per payment; ledger findings win
		var pending []*core.Payment
		for _, p := range payments {
			if !flagged[p.ID] {
				pending = append(pending, p)
			}
		}
		found, err := s.checkGateways(ctx, pending)
		if err != nil {
			return nil, err
		}
		for _, d := range found {
			report.Discrepancies = append(report.Discrepancies, d)
			flagged[d.PaymentID] = true
		}
		report.TotalProcessed = len(payments)
		report.ReconciledCount = 0
		for _, p := range payments {
			if !flagged[p.ID] {
				report.ReconciledCount++
			}
		}
	}

	if req.Mark {
		now := time.Now().UTC()
		for _, p := range payments {
			if flagged[p.ID] || p.Reconciled {
				continue
			}
			if err := s.ledger.MarkReconciled(ctx, p.ID, now); err != nil {
				return nil, fmt.Errorf("failed to mark payment %s reconciled: %w", p.ID, err)
			}
		}
	}

	s.logReport(report)
	return report, nil
}

// MarkReconciled flags one payment as reconciled
func (s *ReconciliationServiceImpl) MarkReconciled(ctx context.Context, id uuid.UUID) error {
	err := s.ledger.MarkReconciled(ctx, id, time.Now().UTC())
	if errors.Is(err, output.ErrNotFound) {
		return core.NewNotFoundError("payment", id.String())
	}
	if err != nil {
		return err
	}
	s.logger.Info("payment marked reconciled", "payment_id", id)
	return nil
}

// scan pages through the payments a run covers: settled ones, plus failed
// ones when the gateway is consulted.
func (s *ReconciliationServiceImpl) scan(ctx context.Context, from, to time.Time, withFailed bool) ([]*core.Payment, error) {
	statuses := append([]core.PaymentStatus{}, core.SuccessfulStatuses...)
	if withFailed {
		statuses = append(statuses, core.PaymentStatusFailed)
	}
	filter := output.PaymentFilter{Statuses: statuses, From: &from, To: &to}

	var out []*core.Payment
	for page := 1; ; page++ {
		batch, err := s.ledger.FindAll(ctx, filter, output.ListOptions{
			Page:      page,
			Limit:     reconcilePageSize,
			SortBy:    "createdAt",
			SortOrder: "asc",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan payments: %w", err)
		}
		out = append(out, batch...)
		if len(batch) < reconcilePageSize {
			return out, nil
		}
	}
}

// checkGateways fetches each payment's intent with bounded concurrency. A
// failed lookup is itself a discrepancy; only cancellation aborts the run.
func (s *ReconciliationServiceImpl) checkGateways(ctx context.Context, payments []*core.Payment) ([]core.Discrepancy, error) {
	results := make([]string, len(payments))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range payments {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reason := s.checkOne(gctx, p)
			mu.Lock()
			results[i] = reason
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []core.Discrepancy
	for i, reason := range results {
		if reason != "" {
			out = append(out, core.Discrepancy{PaymentID: payments[i].ID, Reason: reason})
		}
	}
	return out, nil
}

func (s *ReconciliationServiceImpl) checkOne(ctx context.Context, p *core.Payment) string {
	if p.ProviderIntentID == "" {
		return "payment has no provider intent id"
	}
	gw, err := s.gateways.Get(p.Provider)
	if err != nil {
		return fmt.Sprintf("no gateway for provider %s", p.Provider)
	}
	np, err := gw.RetrieveTransaction(ctx, p.ProviderIntentID, p.ProviderTransactionID)
	if err != nil {
		s.logger.Warn("gateway lookup failed during reconciliation", "payment_id", p.ID, "error", err)
		return fmt.Sprintf("gateway lookup failed: %s", failureReason(err))
	}
	return describeDrift(p, np)
}

func (s *ReconciliationServiceImpl) logReport(r *core.ReconciliationReport) {
	s.logger.Info("reconciliation finished",
		"from", r.From,
		"to", r.To,
		"total", r.TotalProcessed,
		"reconciled", r.ReconciledCount,
		"discrepancies", len(r.Discrepancies),
	)
}
