package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusTotal is the count and summed amount of payments in one status
type StatusTotal struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// MethodTotal is the per-method breakdown of successful payments
type MethodTotal struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Statistics summarises the ledger over a date range.
//
// TotalAmount sums successful payments (PAID, PARTIALLY_REFUNDED, REFUNDED);
// NetAmount is TotalAmount minus RefundedAmount.
type Statistics struct {
	From                time.Time                     `json:"from"`
	To                  time.Time                     `json:"to"`
	TotalCount          int64                         `json:"total_count"`
	SuccessfulCount     int64                         `json:"successful_count"`
	ByStatus            map[PaymentStatus]StatusTotal `json:"by_status"`
	ByMethod            map[PaymentMethod]MethodTotal `json:"by_method"`
	TotalAmount         decimal.Decimal               `json:"total_amount"`
	RefundedAmount      decimal.Decimal               `json:"refunded_amount"`
	NetAmount           decimal.Decimal               `json:"net_amount"`
	AveragePaymentValue decimal.Decimal               `json:"average_payment_value"`
	SuccessRate         decimal.Decimal               `json:"success_rate"`
}

// Granularity of an analytics bucket
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Valid reports whether g is a supported bucket size.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// BucketKey derives the bucket a timestamp falls into. Hours and days
// truncate, weeks start on Sunday, months are year-month. All keys are UTC.
func (g Granularity) BucketKey(t time.Time) string {
	t = t.UTC()
	switch g {
	case GranularityHour:
		return t.Truncate(time.Hour).Format("2006-01-02T15:00")
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -int(day.Weekday())).Format("2006-01-02")
	case GranularityMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// AnalyticsBucket is one point of a time series
type AnalyticsBucket struct {
	Bucket       string          `json:"bucket"`
	Count        int64           `json:"count"`
	Amount       decimal.Decimal `json:"amount"`
	SuccessCount int64           `json:"success_count"`
	FailureCount int64           `json:"failure_count"`
}

// Discrepancy is one payment whose ledger record disagrees with expectations
type Discrepancy struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Reason    string    `json:"reason"`
}

// ReconciliationReport is the outcome of a reconciliation run
type ReconciliationReport struct {
	From            time.Time     `json:"from"`
	To              time.Time     `json:"to"`
	TotalProcessed  int           `json:"total_processed"`
	ReconciledCount int           `json:"reconciled_count"`
	Discrepancies   []Discrepancy `json:"discrepancies"`
}
