package output

import "context"

// EventProducer is an output port (secondary port) for domain events.
// Delivery is fire-and-forget; callers log failures and carry on.
type EventProducer interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close() error
}
