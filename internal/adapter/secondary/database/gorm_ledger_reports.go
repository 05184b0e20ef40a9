package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
)

var hundred = decimal.NewFromInt(100)

type statusAggregate struct {
	Status   string
	Count    int64
	Amount   decimal.Decimal
	Refunded decimal.Decimal
}

type methodAggregate struct {
	Method string
	Count  int64
	Amount decimal.Decimal
}

// GetStatistics aggregates payments created in [from, to]
func (r *GormLedgerStore) GetStatistics(ctx context.Context, from, to time.Time) (*core.Statistics, error) {
	var byStatus []statusAggregate
	if err := r.gormDB.WithContext(ctx).Model(&db.Payment{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(refunded_amount), 0) AS refunded").
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}

	var byMethod []methodAggregate
	if err := r.gormDB.WithContext(ctx).Model(&db.Payment{}).
		Select("method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Where("status IN ?", statusStrings(core.SuccessfulStatuses)).
		Group("method").
		Scan(&byMethod).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate by method: %w", err)
	}

	stats := &core.Statistics{
		From:                from,
		To:                  to,
		ByStatus:            make(map[core.PaymentStatus]core.StatusTotal, len(byStatus)),
		ByMethod:            make(map[core.PaymentMethod]core.MethodTotal, len(byMethod)),
		TotalAmount:         decimal.Zero,
		RefundedAmount:      decimal.Zero,
		NetAmount:           decimal.Zero,
		AveragePaymentValue: decimal.Zero,
		SuccessRate:         decimal.Zero,
	}
	for _, a := range byStatus {
		s := core.PaymentStatus(a.Status)
		amount := a.Amount.Round(2)
		stats.ByStatus[s] = core.StatusTotal{Count: a.Count, Amount: amount}
		stats.TotalCount += a.Count
		if s.IsSuccessful() {
			stats.SuccessfulCount += a.Count
			stats.TotalAmount = stats.TotalAmount.Add(amount)
			stats.RefundedAmount = stats.RefundedAmount.Add(a.Refunded.Round(2))
		}
	}
	for _, m := range byMethod {
		stats.ByMethod[core.PaymentMethod(m.Method)] = core.MethodTotal{Count: m.Count, Amount: m.Amount.Round(2)}
	}

	stats.NetAmount = stats.TotalAmount.Sub(stats.RefundedAmount)
	if stats.SuccessfulCount > 0 {
		stats.AveragePaymentValue = stats.TotalAmount.Div(decimal.NewFromInt(stats.SuccessfulCount)).Round(2)
	}
	if stats.TotalCount > 0 {
		stats.SuccessRate = decimal.NewFromInt(stats.SuccessfulCount).
			Mul(hundred).
			Div(decimal.NewFromInt(stats.TotalCount)).
			Round(2)
	}
	return stats, nil
}

type analyticsRow struct {
	CreatedAt time.Time
	Amount    decimal.Decimal
	Status    string
}

// GetAnalytics buckets payments created in [from, to]. Buckets are derived in
// Go so the key format does not depend on the SQL dialect.
func (r *GormLedgerStore) GetAnalytics(ctx context.Context, from, to time.Time, groupBy core.Granularity) ([]core.AnalyticsBucket, error) {
	if !groupBy.Valid() {
		return nil, core.NewValidationError("unsupported groupBy", map[string]string{"groupBy": string(groupBy)})
	}

	var rows []analyticsRow
	if err := r.gormDB.WithContext(ctx).Model(&db.Payment{}).
		Select("created_at, amount, status").
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load analytics rows: %w", err)
	}

	index := make(map[string]*core.AnalyticsBucket)
	var keys []string
	for _, row := range rows {
		key := groupBy.BucketKey(row.CreatedAt)
		b, ok := index[key]
		if !ok {
			b = &core.AnalyticsBucket{Bucket: key, Amount: decimal.Zero}
			index[key] = b
			keys = append(keys, key)
		}
		b.Count++
		status := core.PaymentStatus(row.Status)
		switch {
		case status.IsSuccessful():
			b.SuccessCount++
			b.Amount = b.Amount.Add(row.Amount.Round(2))
		case status == core.PaymentStatusFailed:
			b.FailureCount++
		}
	}

	sort.Strings(keys)
	out := make([]core.AnalyticsBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *index[k])
	}
	return out, nil
}

// Reconcile scans settled payments in [from, to] and flags those without a
// provider transaction id. It mutates nothing.
func (r *GormLedgerStore) Reconcile(ctx context.Context, from, to time.Time) (*core.ReconciliationReport, error) {
	var rows []db.Payment
	if err := r.gormDB.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", from.UTC(), to.UTC()).
		Where("status IN ?", statusStrings(core.SuccessfulStatuses)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}

	report := &core.ReconciliationReport{
		From:           from,
		To:             to,
		TotalProcessed: len(rows),
		Discrepancies:  []core.Discrepancy{},
	}
	for _, row := range rows {
		if row.ProviderTransactionID == nil || *row.ProviderTransactionID == "" {
			report.Discrepancies = append(report.Discrepancies, core.Discrepancy{
				PaymentID: row.ID,
				Reason:    fmt.Sprintf("%s payment has no provider transaction id", row.Status),
			})
			continue
		}
		report.ReconciledCount++
	}
	return report, nil
}

// GetHistory returns the audit log of a payment in ascending time order. Rows
// written before the log existed are synthesized from the payment's fields.
func (r *GormLedgerStore) GetHistory(ctx context.Context, id uuid.UUID) ([]core.HistoryEntry, error) {
	var p db.Payment
	if err := r.gormDB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err)
	}

	var rows []db.PaymentHistory
	if err := r.gormDB.WithContext(ctx).
		Where("payment_id = ?", id).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(rows) == 0 {
		return synthesizeHistory(toCore(&p)), nil
	}

	out := make([]core.HistoryEntry, 0, len(rows))
	for i := range rows {
		out = append(out, historyToCore(&rows[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func synthesizeHistory(p *core.Payment) []core.HistoryEntry {
	amount := p.Amount
	out := []core.HistoryEntry{{
		Timestamp: p.CreatedAt,
		Action:    core.HistoryActionCreated,
		ToStatus:  core.PaymentStatusPending,
		Amount:    &amount,
	}}
	if p.PaidAt != nil {
		out = append(out, core.HistoryEntry{
			Timestamp:     *p.PaidAt,
			Action:        core.HistoryActionPaid,
			ToStatus:      core.PaymentStatusPaid,
			Amount:        &amount,
			TransactionID: p.ProviderTransactionID,
		})
	}
	if p.RefundedAt != nil {
		refunded := p.RefundedAmount
		out = append(out, core.HistoryEntry{
			Timestamp: *p.RefundedAt,
			Action:    core.HistoryActionRefunded,
			ToStatus:  p.Status,
			Amount:    &refunded,
		})
	}
	if p.Status == core.PaymentStatusFailed {
		out = append(out, core.HistoryEntry{
			Timestamp: p.UpdatedAt,
			Action:    core.HistoryActionFailed,
			ToStatus:  core.PaymentStatusFailed,
			Reason:    p.FailureReason,
		})
	}
	if p.CancelledAt != nil {
		out = append(out, core.HistoryEntry{
			Timestamp: *p.CancelledAt,
			Action:    core.HistoryActionCancelled,
			ToStatus:  core.PaymentStatusCancelled,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
