package output

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderService exposes the canonical order total used to validate intents.
type OrderService interface {
	GetOrderTotal(ctx context.Context, orderID string) (decimal.Decimal, error)
}
