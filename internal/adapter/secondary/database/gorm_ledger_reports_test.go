package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

func TestGetStatistics(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	seedPayment(t, s, func(p *core.Payment) {
		p.Status = core.PaymentStatusPaid
		p.Amount = decimal.RequireFromString("1000.00")
		p.ProviderTransactionID = "pay_a"
	})
	seedPayment(t, s, func(p *core.Payment) {
		p.Status = core.PaymentStatusPartiallyRefunded
		p.Amount = decimal.RequireFromString("500.00")
		p.RefundedAmount = decimal.RequireFromString("200.00")
		p.Method = core.PaymentMethodUPI
		p.ProviderTransactionID = "pay_b"
	})
	seedPayment(t, s, func(p *core.Payment) { p.Status = core.PaymentStatusFailed })
	seedPayment(t, s, nil)

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)
	stats, err := s.GetStatistics(ctx, from, to)
	require.NoError(t, err)

	assert.EqualValues(t, 4, stats.TotalCount)
	assert.EqualValues(t, 2, stats.SuccessfulCount)
	assert.Equal(t, "1500.00", stats.TotalAmount.StringFixed(2))
	assert.Equal(t, "200.00", stats.RefundedAmount.StringFixed(2))
	assert.Equal(t, "1300.00", stats.NetAmount.StringFixed(2))
	assert.Equal(t, "750.00", stats.AveragePaymentValue.StringFixed(2))
	assert.Equal(t, "50.00", stats.SuccessRate.StringFixed(2))
	assert.EqualValues(t, 1, stats.ByStatus[core.PaymentStatusFailed].Count)
	assert.EqualValues(t, 1, stats.ByMethod[core.PaymentMethodUPI].Count)
	assert.Equal(t, "1000.00", stats.ByMethod[core.PaymentMethodCard].Amount.StringFixed(2))
}

func TestGetStatisticsEmptyRange(t *testing.T) {
	s := newStore(t)
	stats, err := s.GetStatistics(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCount)
	assert.True(t, stats.SuccessRate.IsZero())
	assert.True(t, stats.AveragePaymentValue.IsZero())
}

func TestGetAnalyticsBucketsByDay(t *testing.T) {
	ctx := context.Background()
	gdb := db.NewTestDB(t)
	s := NewGormLedgerStore(gdb.DB)

	day1 := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)
	rows := []db.Payment{
		{OrderID: "o1", CustomerID: "c", Amount: decimal.NewFromInt(100), Currency: "INR", Method: "card", Provider: "stripe", Status: "PAID", CreatedAt: day1},
		{OrderID: "o2", CustomerID: "c", Amount: decimal.NewFromInt(50), Currency: "INR", Method: "card", Provider: "stripe", Status: "FAILED", CreatedAt: day1.Add(time.Hour)},
		{OrderID: "o3", CustomerID: "c", Amount: decimal.NewFromInt(70), Currency: "INR", Method: "card", Provider: "stripe", Status: "REFUNDED", CreatedAt: day2},
	}
	for i := range rows {
		require.NoError(t, gdb.Create(&rows[i]).Error)
	}

	buckets, err := s.GetAnalytics(ctx, day1.Add(-time.Hour), day2.Add(time.Hour), core.GranularityDay)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, "2024-03-12", buckets[0].Bucket)
	assert.EqualValues(t, 2, buckets[0].Count)
	assert.EqualValues(t, 1, buckets[0].SuccessCount)
	assert.EqualValues(t, 1, buckets[0].FailureCount)
	assert.Equal(t, "100", buckets[0].Amount.String())

	assert.Equal(t, "2024-03-13", buckets[1].Bucket)
	assert.Equal(t, "70", buckets[1].Amount.String())

	weeks, err := s.GetAnalytics(ctx, day1.Add(-time.Hour), day2.Add(time.Hour), core.GranularityWeek)
	require.NoError(t, err)
	require.Len(t, weeks, 1)
	assert.Equal(t, "2024-03-10", weeks[0].Bucket)

	_, err = s.GetAnalytics(ctx, day1, day2, core.Granularity("year"))
	assert.True(t, core.IsKind(err, core.KindValidation))
}

func TestReconcileFlagsPaidWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	clean := seedPayment(t, s, func(p *core.Payment) {
		p.Status = core.PaymentStatusPaid
		p.ProviderTransactionID = "pay_clean"
	})
	broken := seedPayment(t, s, func(p *core.Payment) { p.Status = core.PaymentStatusPaid })
	seedPayment(t, s, nil)

	before, err := s.FindByID(ctx, broken.ID)
	require.NoError(t, err)

	report, err := s.Reconcile(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalProcessed)
	assert.Equal(t, 1, report.ReconciledCount)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, broken.ID, report.Discrepancies[0].PaymentID)

	after, err := s.FindByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	c, err := s.FindByID(ctx, clean.ID)
	require.NoError(t, err)
	assert.False(t, c.Reconciled)
}

func TestGetHistoryPersisted(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p := seedPayment(t, s, nil)

	_, err := s.Transition(ctx, output.Transition{
		PaymentID: p.ID,
		From:      []core.PaymentStatus{core.PaymentStatusPending},
		To:        core.PaymentStatusFailed,
		Action:    core.HistoryActionFailed,
		Reason:    "card_declined",
	})
	require.NoError(t, err)

	history, err := s.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.HistoryActionCreated, history[0].Action)
	assert.Equal(t, core.HistoryActionFailed, history[1].Action)
	assert.Equal(t, core.PaymentStatusPending, history[1].FromStatus)
	assert.Equal(t, "card_declined", history[1].Reason)
}

func TestGetHistorySynthesizedForLegacyRows(t *testing.T) {
	ctx := context.Background()
	gdb := db.NewTestDB(t)
	s := NewGormLedgerStore(gdb.DB)

	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	paid := created.Add(time.Minute)
	refunded := created.Add(time.Hour)
	txID := "pay_legacy"
	row := db.Payment{
		ID: uuid.New(), OrderID: "o", CustomerID: "c",
		Amount: decimal.NewFromInt(100), RefundedAmount: decimal.NewFromInt(100),
		Currency: "INR", Method: "card", Provider: "razorpay", Status: "REFUNDED",
		ProviderTransactionID: &txID, PaidAt: &paid, RefundedAt: &refunded, CreatedAt: created,
	}
	require.NoError(t, gdb.Create(&row).Error)

	history, err := s.GetHistory(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, core.HistoryActionCreated, history[0].Action)
	assert.Equal(t, core.HistoryActionPaid, history[1].Action)
	assert.Equal(t, "pay_legacy", history[1].TransactionID)
	assert.Equal(t, core.HistoryActionRefunded, history[2].Action)

	_, err = s.GetHistory(ctx, uuid.New())
	assert.ErrorIs(t, err, output.ErrNotFound)
}
