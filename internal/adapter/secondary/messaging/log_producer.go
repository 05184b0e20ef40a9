package messaging

import (
	"context"
	"log/slog"

	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// LogProducer writes events to the log instead of a broker. Used by the
// operator CLI and by deployments without RabbitMQ.
type LogProducer struct {
	logger *slog.Logger
}

var _ output.EventProducer = (*LogProducer)(nil)

func NewLogProducer(logger *slog.Logger) *LogProducer {
	return &LogProducer{logger: logger}
}

func (p *LogProducer) Publish(_ context.Context, topic string, payload any) error {
	p.logger.Info("event", "topic", topic, "payload", payload)
	return nil
}

func (p *LogProducer) Close() error { return nil }
