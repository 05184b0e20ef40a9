package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment represents a payment row in the database
type Payment struct {
	ID                    uuid.UUID       `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID               string          `gorm:"type:varchar(64);not null;index" json:"order_id"`
	CustomerID            string          `gorm:"type:varchar(64);not null;index" json:"customer_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	RefundedAmount        decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"refunded_amount"`
	Currency              string          `gorm:"type:varchar(3);not null" json:"currency"`
	Method                string          `gorm:"type:varchar(20);not null" json:"method"`
	Provider              string          `gorm:"type:varchar(20);not null;index:idx_payments_provider_intent,priority:1" json:"provider"`
	ProviderIntentID      string          `gorm:"type:varchar(128);index:idx_payments_provider_intent,priority:2" json:"provider_intent_id"`
	ProviderTransactionID *string         `gorm:"type:varchar(128);uniqueIndex" json:"provider_transaction_id"`
	Status                string          `gorm:"type:varchar(24);not null;index" json:"status"`
	FailureReason         *string         `gorm:"type:varchar(500)" json:"failure_reason"`
	Metadata              datatypes.JSON  `json:"metadata"`
	IdempotencyKey        *string         `gorm:"type:varchar(128);index" json:"idempotency_key"`
	Reconciled            bool            `gorm:"not null;default:false" json:"reconciled"`
	ReconciledAt          *time.Time      `json:"reconciled_at"`
	PaidAt                *time.Time      `json:"paid_at"`
	RefundedAt            *time.Time      `json:"refunded_at"`
	CancelledAt           *time.Time      `json:"cancelled_at"`
	CreatedAt             time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return nil
}

// PaymentHistory is one append-only audit row
type PaymentHistory struct {
	ID            uuid.UUID        `gorm:"type:varchar(36);primaryKey"`
	PaymentID     uuid.UUID        `gorm:"type:varchar(36);not null;index"`
	Action        string           `gorm:"type:varchar(24);not null"`
	FromStatus    string           `gorm:"type:varchar(24)"`
	ToStatus      string           `gorm:"type:varchar(24);not null"`
	Amount        *decimal.Decimal `gorm:"type:decimal(15,2)"`
	TransactionID string           `gorm:"type:varchar(128)"`
	Reason        string           `gorm:"type:varchar(500)"`
	CreatedAt     time.Time        `gorm:"not null;index"`
}

// TableName specifies the table name for GORM
func (PaymentHistory) TableName() string {
	return "payment_history"
}

// PaymentRefund is one refund booked against a payment
type PaymentRefund struct {
	ID               uuid.UUID       `gorm:"type:varchar(36);primaryKey"`
	PaymentID        uuid.UUID       `gorm:"type:varchar(36);not null;index"`
	Amount           decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Currency         string          `gorm:"type:varchar(3);not null"`
	Reason           string          `gorm:"type:varchar(500);not null"`
	ProviderRefundID *string         `gorm:"type:varchar(128);uniqueIndex"`
	Status           string          `gorm:"type:varchar(20);not null"`
	ProcessedAt      *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM
func (PaymentRefund) TableName() string {
	return "payment_refunds"
}

// WebhookEvent is a received provider event, unique per provider and event id
type WebhookEvent struct {
	ID           uuid.UUID      `gorm:"type:varchar(36);primaryKey"`
	Provider     string         `gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID      string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType    string         `gorm:"type:varchar(64);not null"`
	Payload      datatypes.JSON `gorm:"not null"`
	ReceivedAt   time.Time      `gorm:"not null"`
	ProcessedAt  *time.Time
	ProcessError *string `gorm:"type:varchar(255)"`
}

// TableName specifies the table name for GORM
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// IdempotencyRecord remembers the outcome of an intent creation
type IdempotencyRecord struct {
	Key              string     `gorm:"column:idempotency_key;type:varchar(128);primaryKey"`
	Fingerprint      string     `gorm:"type:varchar(64);not null"`
	Status           string     `gorm:"type:varchar(20);not null"`
	PaymentID        *uuid.UUID `gorm:"type:varchar(36)"`
	ClientSecret     string     `gorm:"type:varchar(255)"`
	ProviderIntentID string     `gorm:"type:varchar(128)"`
	ExpiresAt        time.Time  `gorm:"not null;index"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName specifies the table name for GORM
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

// AllModels lists every table owned by the service, in migration order.
func AllModels() []any {
	return []any{
		&Payment{},
		&PaymentHistory{},
		&PaymentRefund{},
		&WebhookEvent{},
		&IdempotencyRecord{},
	}
}
