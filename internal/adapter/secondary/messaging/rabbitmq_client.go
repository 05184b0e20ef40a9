package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cashflow/payment-orchestrator/internal/port/output"
)

// DefaultExchange is the topic exchange domain events are published to.
const DefaultExchange = "payments.events"

const publishTimeout = 5 * time.Second

// channel is the part of *amqp.Channel the producer uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQClient is a secondary adapter that implements the EventProducer
// output port. Each topic is used as the routing key on a durable topic
// exchange, so consumers bind queues to the topics they care about.
type RabbitMQClient struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *slog.Logger
}

var _ output.EventProducer = (*RabbitMQClient)(nil)

// NewRabbitMQClient dials the broker and declares the exchange
func NewRabbitMQClient(amqpURL, exchange string, logger *slog.Logger) (*RabbitMQClient, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	c := newClient(ch, exchange, logger)
	c.conn = conn
	return c, nil
}

func newClient(ch channel, exchange string, logger *slog.Logger) *RabbitMQClient {
	return &RabbitMQClient{channel: ch, exchange: exchange, logger: logger}
}

// Publish sends payload as a persistent JSON message routed by topic
func (c *RabbitMQClient) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msgID := uuid.NewString()
	err = c.channel.PublishWithContext(ctx,
		c.exchange,
		topic,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msgID,
			Type:         topic,
			Body:         body,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	c.logger.Debug("event published", "topic", topic, "message_id", msgID)
	return nil
}

// Close closes the channel and the connection
func (c *RabbitMQClient) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
