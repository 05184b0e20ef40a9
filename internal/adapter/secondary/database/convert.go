package database

import (
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cashflow/payment-orchestrator/internal/constant/model/db"
	"github.com/cashflow/payment-orchestrator/internal/core"
	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// toCore converts db.Payment to core.Payment
func toCore(p *db.Payment) *core.Payment {
	out := &core.Payment{
		ID:               p.ID,
		OrderID:          p.OrderID,
		CustomerID:       p.CustomerID,
		Amount:           p.Amount.Round(2),
		RefundedAmount:   p.RefundedAmount.Round(2),
		Currency:         core.Currency(p.Currency),
		Method:           core.PaymentMethod(p.Method),
		Provider:         core.Provider(p.Provider),
		ProviderIntentID: p.ProviderIntentID,
		Status:           core.PaymentStatus(p.Status),
		Reconciled:       p.Reconciled,
		ReconciledAt:     p.ReconciledAt,
		PaidAt:           p.PaidAt,
		RefundedAt:       p.RefundedAt,
		CancelledAt:      p.CancelledAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.ProviderTransactionID != nil {
		out.ProviderTransactionID = *p.ProviderTransactionID
	}
	if p.FailureReason != nil {
		out.FailureReason = *p.FailureReason
	}
	if p.IdempotencyKey != nil {
		out.IdempotencyKey = *p.IdempotencyKey
	}
	out.Metadata = decodeMetadata(p.Metadata)
	return out
}

// fromCore converts core.Payment to db.Payment
func fromCore(p *core.Payment) (*db.Payment, error) {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}
	return &db.Payment{
		ID:                    p.ID,
		OrderID:               p.OrderID,
		CustomerID:            p.CustomerID,
		Amount:                p.Amount,
		RefundedAmount:        p.RefundedAmount,
		Currency:              string(p.Currency),
		Method:                string(p.Method),
		Provider:              string(p.Provider),
		ProviderIntentID:      p.ProviderIntentID,
		ProviderTransactionID: nullable(p.ProviderTransactionID),
		Status:                string(p.Status),
		FailureReason:         nullable(p.FailureReason),
		Metadata:              meta,
		IdempotencyKey:        nullable(p.IdempotencyKey),
		Reconciled:            p.Reconciled,
		ReconciledAt:          p.ReconciledAt,
		PaidAt:                p.PaidAt,
		RefundedAt:            p.RefundedAt,
		CancelledAt:           p.CancelledAt,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}, nil
}

func refundToCore(r *db.PaymentRefund) *core.Refund {
	out := &core.Refund{
		ID:          r.ID,
		PaymentID:   r.PaymentID,
		Amount:      r.Amount.Round(2),
		Currency:    core.Currency(r.Currency),
		Reason:      r.Reason,
		Status:      core.RefundStatus(r.Status),
		ProcessedAt: r.ProcessedAt,
		CreatedAt:   r.CreatedAt,
	}
	if r.ProviderRefundID != nil {
		out.ProviderRefundID = *r.ProviderRefundID
	}
	return out
}

func historyToCore(h *db.PaymentHistory) core.HistoryEntry {
	e := core.HistoryEntry{
		Timestamp:     h.CreatedAt,
		Action:        core.HistoryAction(h.Action),
		FromStatus:    core.PaymentStatus(h.FromStatus),
		ToStatus:      core.PaymentStatus(h.ToStatus),
		TransactionID: h.TransactionID,
		Reason:        h.Reason,
	}
	if h.Amount != nil {
		a := h.Amount.Round(2)
		e.Amount = &a
	}
	return e
}

func encodeMetadata(m map[string]any) (datatypes.JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeMetadata(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// translate maps driver errors onto output-port sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return output.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return output.ErrDuplicate
	default:
		return err
	}
}
