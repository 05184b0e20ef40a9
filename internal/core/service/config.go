package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// Config holds the business limits the services enforce
type Config struct {
	MinAmount            decimal.Decimal
	MaxAmount            decimal.Decimal
	Currencies           []core.Currency
	IdempotencyTTL       time.Duration
	StatusCacheTTL       time.Duration
	ReconcileConcurrency int
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MinAmount:            decimal.NewFromInt(1),
		MaxAmount:            decimal.NewFromInt(1_000_000),
		Currencies:           []core.Currency{core.CurrencyINR, core.CurrencyUSD, core.CurrencyEUR},
		IdempotencyTTL:       24 * time.Hour,
		StatusCacheTTL:       5 * time.Minute,
		ReconcileConcurrency: 8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinAmount.IsZero() {
		c.MinAmount = d.MinAmount
	}
	if c.MaxAmount.IsZero() {
		c.MaxAmount = d.MaxAmount
	}
	if len(c.Currencies) == 0 {
		c.Currencies = d.Currencies
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = d.IdempotencyTTL
	}
	if c.StatusCacheTTL <= 0 {
		c.StatusCacheTTL = d.StatusCacheTTL
	}
	if c.ReconcileConcurrency <= 0 {
		c.ReconcileConcurrency = d.ReconcileConcurrency
	}
	return c
}

func (c Config) supports(cur core.Currency) bool {
	for _, s := range c.Currencies {
		if s == cur {
			return true
		}
	}
	return false
}
