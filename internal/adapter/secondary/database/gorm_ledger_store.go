package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"paidAt":    "paid_at",
	"amount":    "amount",
	"status":    "status",
}

// GormLedgerStore is a secondary adapter that implements the LedgerStore output port
type GormLedgerStore struct {
	gormDB *gorm.DB
}

// NewGormLedgerStore creates a new GORM ledger store
func NewGormLedgerStore(gormDB *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{gormDB: gormDB}
}

var _ output.LedgerStore = (*GormLedgerStore)(nil)

// Create inserts a new payment and its CREATED history row
func (r *GormLedgerStore) Create(ctx context.Context, payment *core.Payment) error {
	row, err := fromCore(payment)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}
	err = r.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return translate(err)
		}
		amount := row.Amount
		return tx.Create(&db.PaymentHistory{
			ID:        uuid.New(),
			PaymentID: row.ID,
			Action:    string(core.HistoryActionCreated),
			ToStatus:  row.Status,
			Amount:    &amount,
			CreatedAt: row.CreatedAt,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	// Update core entity with values set by GORM hooks
	payment.ID = row.ID
	payment.CreatedAt = row.CreatedAt
	payment.UpdatedAt = row.UpdatedAt
	return nil
}

// FindByID retrieves a payment by its ID
func (r *GormLedgerStore) FindByID(ctx context.Context, id uuid.UUID) (*core.Payment, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByProviderTransactionID retrieves the payment settled by a gateway transaction
func (r *GormLedgerStore) FindByProviderTransactionID(ctx context.Context, transactionID string) (*core.Payment, error) {
	return r.findOne(ctx, "provider_transaction_id = ?", transactionID)
}

// FindByProviderIntentID retrieves the payment owning a provider intent
func (r *GormLedgerStore) FindByProviderIntentID(ctx context.Context, provider core.Provider, intentID string) (*core.Payment, error) {
	return r.findOne(ctx, "provider = ? AND provider_intent_id = ?", string(provider), intentID)
}

func (r *GormLedgerStore) findOne(ctx context.Context, query string, args ...any) (*core.Payment, error) {
	var row db.Payment
	if err := r.gormDB.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return toCore(&row), nil
}

// FindByOrderID lists every payment attempt for an order, newest first
func (r *GormLedgerStore) FindByOrderID(ctx context.Context, orderID string) ([]*core.Payment, error) {
	var rows []db.Payment
	if err := r.gormDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find payments for order: %w", err)
	}
	return toCoreSlice(rows), nil
}

// FindAll returns one page of payments matching filter
func (r *GormLedgerStore) FindAll(ctx context.Context, filter output.PaymentFilter, opts output.ListOptions) ([]*core.Payment, error) {
	page, limit := normalisePage(opts.Page, opts.Limit)

	col, ok := sortColumns[opts.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		dir = "ASC"
	}

	var rows []db.Payment
	err := applyFilter(r.gormDB.WithContext(ctx).Model(&db.Payment{}), filter).
		Order(col + " " + dir).
		Order("id").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return toCoreSlice(rows), nil
}

// Count returns the number of payments matching filter
func (r *GormLedgerStore) Count(ctx context.Context, filter output.PaymentFilter) (int64, error) {
	var n int64
	if err := applyFilter(r.gormDB.WithContext(ctx).Model(&db.Payment{}), filter).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

// Update applies a plain field edit. Metadata keys are merged.
func (r *GormLedgerStore) Update(ctx context.Context, id uuid.UUID, upd output.PaymentUpdate) error {
	return r.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur db.Payment
		if err := tx.Where("id = ?", id).First(&cur).Error; err != nil {
			return translate(err)
		}
		updates := map[string]any{"updated_at": time.Now().UTC()}
		if upd.ProviderIntentID != nil {
			updates["provider_intent_id"] = *upd.ProviderIntentID
		}
		if len(upd.Metadata) > 0 {
			meta, err := mergeMetadata(cur, upd.Metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = meta
		}
		return tx.Model(&db.Payment{}).Where("id = ?", id).Updates(updates).Error
	})
}

// Transition applies a compare-and-set status change. The row is updated only
// while its status is still one of t.From; otherwise ErrStaleTransition.
func (r *GormLedgerStore) Transition(ctx context.Context, t output.Transition) (*core.Payment, error) {
	if len(t.From) == 0 {
		return nil, errors.New("transition requires at least one expected status")
	}
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		if !core.CanTransition(s, t.To) {
			return nil, core.NewProcessingError(t.To, s)
		}
		from = append(from, string(s))
	}

	var out db.Payment
	err := r.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur db.Payment
		if err := tx.Where("id = ?", t.PaymentID).First(&cur).Error; err != nil {
			return translate(err)
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":     string(t.To),
			"updated_at": now,
		}
		if t.ProviderTransactionID != nil {
			updates["provider_transaction_id"] = nullable(*t.ProviderTransactionID)
		}
		if t.FailureReason != nil {
			updates["failure_reason"] = nullable(truncate(*t.FailureReason, 500))
		}
		if t.Method != nil {
			updates["method"] = string(*t.Method)
		}
		if t.PaidAt != nil {
			updates["paid_at"] = *t.PaidAt
		}
		if t.CancelledAt != nil {
			updates["cancelled_at"] = *t.CancelledAt
		}
		if len(t.Metadata) > 0 {
			meta, err := mergeMetadata(cur, t.Metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = meta
		}

		res := tx.Model(&db.Payment{}).
			Where("id = ? AND status IN ?", t.PaymentID, from).
			Updates(updates)
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return output.ErrStaleTransition
		}

		txID := ""
		if t.ProviderTransactionID != nil {
			txID = *t.ProviderTransactionID
		}
		if err := tx.Create(&db.PaymentHistory{
			ID:            uuid.New(),
			PaymentID:     t.PaymentID,
			Action:        string(t.Action),
			FromStatus:    cur.Status,
			ToStatus:      string(t.To),
			Amount:        t.HistoryAmount,
			TransactionID: txID,
			Reason:        truncate(t.Reason, 500),
			CreatedAt:     now,
		}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", t.PaymentID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return toCore(&out), nil
}

// ApplyRefund books a refund. The payment row is updated only while its
// status and refunded amount still match the caller's snapshot.
func (r *GormLedgerStore) ApplyRefund(ctx context.Context, app output.RefundApplication) (*core.Payment, *core.Refund, error) {
	var (
		out    db.Payment
		refund db.PaymentRefund
	)
	err := r.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur db.Payment
		if err := tx.Where("id = ?", app.PaymentID).First(&cur).Error; err != nil {
			return translate(err)
		}

		newRefunded := app.ExpectedRefunded.Add(app.Refund.Amount)
		if newRefunded.GreaterThan(cur.Amount) {
			return core.NewRefundError("refund exceeds refundable balance")
		}
		to := core.PaymentStatusPartiallyRefunded
		if newRefunded.Equal(cur.Amount) {
			to = core.PaymentStatusRefunded
		}
		if !core.CanTransition(app.ExpectedStatus, to) {
			return core.NewProcessingError(to, app.ExpectedStatus)
		}

		now := time.Now().UTC()
		res := tx.Model(&db.Payment{}).
			Where("id = ? AND status = ? AND refunded_amount = ?",
				app.PaymentID, string(app.ExpectedStatus), app.ExpectedRefunded).
			Updates(map[string]any{
				"refunded_amount": newRefunded,
				"status":          string(to),
				"refunded_at":     now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return output.ErrStaleTransition
		}

		status := app.Refund.Status
		if status == "" {
			status = core.RefundStatusPending
		}
		refund = db.PaymentRefund{
			ID:               uuid.New(),
			PaymentID:        app.PaymentID,
			Amount:           app.Refund.Amount,
			Currency:         cur.Currency,
			Reason:           truncate(app.Refund.Reason, 500),
			ProviderRefundID: nullable(app.Refund.ProviderRefundID),
			Status:           string(status),
			ProcessedAt:      app.Refund.ProcessedAt,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Create(&refund).Error; err != nil {
			return translate(err)
		}

		amount := app.Refund.Amount
		if err := tx.Create(&db.PaymentHistory{
			ID:            uuid.New(),
			PaymentID:     app.PaymentID,
			Action:        string(core.HistoryActionRefunded),
			FromStatus:    cur.Status,
			ToStatus:      string(to),
			Amount:        &amount,
			TransactionID: app.Refund.ProviderRefundID,
			Reason:        truncate(app.Refund.Reason, 500),
			CreatedAt:     now,
		}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", app.PaymentID).First(&out).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return toCore(&out), refundToCore(&refund), nil
}

// FindRefunds lists refunds of a payment in booking order
func (r *GormLedgerStore) FindRefunds(ctx context.Context, paymentID uuid.UUID) ([]*core.Refund, error) {
	var rows []db.PaymentRefund
	if err := r.gormDB.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	out := make([]*core.Refund, 0, len(rows))
	for i := range rows {
		out = append(out, refundToCore(&rows[i]))
	}
	return out, nil
}

// FindRefundByProviderID retrieves a refund by the gateway refund id
func (r *GormLedgerStore) FindRefundByProviderID(ctx context.Context, providerRefundID string) (*core.Refund, error) {
	var row db.PaymentRefund
	if err := r.gormDB.WithContext(ctx).
		Where("provider_refund_id = ?", providerRefundID).
		First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return refundToCore(&row), nil
}

// SettleRefund moves a PENDING refund to its final status
func (r *GormLedgerStore) SettleRefund(ctx context.Context, refundID uuid.UUID, status core.RefundStatus, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": at,
	}
	if status == core.RefundStatusProcessed {
		updates["processed_at"] = at
	}
	res := r.gormDB.WithContext(ctx).Model(&db.PaymentRefund{}).
		Where("id = ? AND status = ?", refundID, string(core.RefundStatusPending)).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to settle refund: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkReconciled sets the reconciled flag. It never touches status or amounts.
func (r *GormLedgerStore) MarkReconciled(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.gormDB.WithContext(ctx).Model(&db.Payment{}).
		Where("id = ?", id).
		Updates(map[string]any{"reconciled": true, "reconciled_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to mark payment reconciled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return output.ErrNotFound
	}
	return nil
}

// Ping checks database connectivity
func (r *GormLedgerStore) Ping(ctx context.Context) error {
	sqlDB, err := r.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func applyFilter(q *gorm.DB, f output.PaymentFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if len(f.Methods) > 0 {
		methods := make([]string, 0, len(f.Methods))
		for _, m := range f.Methods {
			methods = append(methods, string(m))
		}
		q = q.Where("method IN ?", methods)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", string(f.Provider))
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.TransactionID != "" {
		q = q.Where("provider_transaction_id = ?", f.TransactionID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	if f.Reconciled != nil {
		q = q.Where("reconciled = ?", *f.Reconciled)
	}
	return q
}

func mergeMetadata(cur db.Payment, add map[string]any) (any, error) {
	merged := decodeMetadata(cur.Metadata)
	if merged == nil {
		merged = make(map[string]any, len(add))
	}
	for k, v := range add {
		merged[k] = v
	}
	return encodeMetadata(merged)
}

func statusStrings(in []core.PaymentStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func toCoreSlice(rows []db.Payment) []*core.Payment {
	out := make([]*core.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, toCore(&rows[i]))
	}
	return out
}

func normalisePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

// truncate cuts s to at most n characters, never inside a rune
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
