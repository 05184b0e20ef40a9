package gateway

import (
	"io"
	"log/slog"
	"time"

	"github.com/cashflow/payment-orchestrator/internal/core/mapper"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMapper() *mapper.Mapper {
	return mapper.New(testLogger())
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: 2 * time.Second}
}
