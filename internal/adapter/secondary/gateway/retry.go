package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/cashflow/payment-orchestrator/internal/core"
)

// RetryPolicy bounds every outbound gateway call. Only connection and
// rate-limit failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy is three attempts with a 30s per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Timeout:     30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// do runs fn with a per-attempt timeout until it succeeds, returns a
// non-retryable error, or the attempt budget is spent.
func (p RetryPolicy) do(ctx context.Context, logger *slog.Logger, provider core.Provider, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		ge, ok := core.As(err)
		if !ok || !ge.GatewayClass.Retryable() || attempt >= p.MaxAttempts {
			return err
		}

		wait := p.delay(attempt)
		logger.Warn("gateway call failed, retrying",
			"provider", provider,
			"op", op,
			"attempt", attempt,
			"class", ge.GatewayClass,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}

// isConnectionError reports transport-level failures: timeouts, refused
// connections, DNS and TLS errors.
func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
