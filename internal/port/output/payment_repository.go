package output

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrStaleTransition is returned when a conditional update finds the row
	// no longer in the expected state. Callers treat it as "already handled".
	ErrStaleTransition = errors.New("stale transition: payment changed concurrently")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate record")
)

// PaymentFilter composes conditions on FindAll/Count. Zero values are ignored.
type PaymentFilter struct {
	Statuses      []core.PaymentStatus
	Methods       []core.PaymentMethod
	Provider      core.Provider
	CustomerID    string
	OrderID       string
	TransactionID string
	From          *time.Time
	To            *time.Time
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	Reconciled    *bool
}

// ListOptions controls pagination and sorting
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// Transition is a compare-and-set status change. It applies only when the
// row is currently in one of From; otherwise ErrStaleTransition is returned.
// Nil pointer fields are left untouched.
type Transition struct {
	PaymentID             uuid.UUID
	From                  []core.PaymentStatus
	To                    core.PaymentStatus
	Action                core.HistoryAction
	ProviderTransactionID *string
	FailureReason         *string
	Method                *core.PaymentMethod
	PaidAt                *time.Time
	CancelledAt           *time.Time
	Metadata              map[string]any
	HistoryAmount         *decimal.Decimal
	Reason                string
}

// RefundApplication books a refund against a payment whose status and
// refunded amount still equal the expected values.
type RefundApplication struct {
	PaymentID        uuid.UUID
	ExpectedStatus   core.PaymentStatus
	ExpectedRefunded decimal.Decimal
	Refund           core.Refund
}

// PaymentUpdate is a plain field edit that does not touch status.
type PaymentUpdate struct {
	Metadata         map[string]any
	ProviderIntentID *string
}

// LedgerStore is an output port (secondary port) for the payment ledger.
// It is the only component allowed to write payment status.
type LedgerStore interface {
	Create(ctx context.Context, payment *core.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*core.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) ([]*core.Payment, error)
	FindByProviderTransactionID(ctx context.Context, transactionID string) (*core.Payment, error)
	FindByProviderIntentID(ctx context.Context, provider core.Provider, intentID string) (*core.Payment, error)
	FindAll(ctx context.Context, filter PaymentFilter, opts ListOptions) ([]*core.Payment, error)
	Count(ctx context.Context, filter PaymentFilter) (int64, error)

	// Update applies a plain field edit (metadata enrichment).
	Update(ctx context.Context, id uuid.UUID, upd PaymentUpdate) error

	// Transition applies a conditional status change and appends a history row
	// in the same transaction.
	Transition(ctx context.Context, t Transition) (*core.Payment, error)

	// ApplyRefund increments the refunded amount, derives the refund status,
	// inserts the refund record and a history row in one transaction.
	ApplyRefund(ctx context.Context, app RefundApplication) (*core.Payment, *core.Refund, error)

	FindRefunds(ctx context.Context, paymentID uuid.UUID) ([]*core.Refund, error)
	FindRefundByProviderID(ctx context.Context, providerRefundID string) (*core.Refund, error)

	// SettleRefund moves a PENDING refund to PROCESSED or FAILED. It reports
	// false when the refund had already left PENDING.
	SettleRefund(ctx context.Context, refundID uuid.UUID, status core.RefundStatus, at time.Time) (bool, error)

	GetStatistics(ctx context.Context, from, to time.Time) (*core.Statistics, error)
	GetAnalytics(ctx context.Context, from, to time.Time, groupBy core.Granularity) ([]core.AnalyticsBucket, error)

	// Reconcile is a read-only scan flagging PAID payments without a
	// provider transaction id.
	Reconcile(ctx context.Context, from, to time.Time) (*core.ReconciliationReport, error)
	MarkReconciled(ctx context.Context, id uuid.UUID, at time.Time) error

	GetHistory(ctx context.Context, id uuid.UUID) ([]core.HistoryEntry, error)
	Ping(ctx context.Context) error
}
