package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/input"
)

// ErrScheduleExhausted is returned by Run when the rule has no further occurrences.
var ErrScheduleExhausted = errors.New("reconciliation schedule has no further occurrences")

// ReconcileScheduler is a primary adapter that drives reconciliation runs on
// an RFC 5545 recurrence rule. Each run covers the lookback window ending at
// the occurrence and flags clean payments reconciled.
type ReconcileScheduler struct {
	svc      input.ReconciliationService
	rule     *rrule.RRule
	lookback time.Duration
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewReconcileScheduler(svc input.ReconciliationService, rule *rrule.RRule, lookback time.Duration, logger *slog.Logger) *ReconcileScheduler {
	return &ReconcileScheduler{
		svc:      svc,
		rule:     rule,
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

// Run blocks until ctx is cancelled or the rule is exhausted. A failed run is
// logged and the next occurrence is still honoured.
func (s *ReconcileScheduler) Run(ctx context.Context) error {
	for {
		next := s.rule.After(s.now(), false)
		if next.IsZero() {
			return ErrScheduleExhausted
		}
		s.logger.Info("next reconciliation scheduled", "at", next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
		}

		if _, err := s.RunOnce(ctx, next); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("scheduled reconciliation failed", "at", next, "error", err)
		}
	}
}

// RunOnce reconciles the window ending at at
func (s *ReconcileScheduler) RunOnce(ctx context.Context, at time.Time) (*core.ReconciliationReport, error) {
	started := time.Now()
	report, err := s.svc.Reconcile(ctx, input.ReconcileRequest{
		From:         at.Add(-s.lookback),
		To:           at,
		CheckGateway: true,
		Mark:         true,
	})
	if err != nil {
		return nil, err
	}
	for _, d := range report.Discrepancies {
		s.logger.Warn("reconciliation discrepancy", "payment_id", d.PaymentID, "reason", d.Reason)
	}
	s.logger.Info("scheduled reconciliation finished",
		"from", report.From,
		"to", report.To,
		"total", report.TotalProcessed,
		"reconciled", report.ReconciledCount,
		"discrepancies", len(report.Discrepancies),
		"took", time.Since(started),
	)
	return report, nil
}
