// Package rabbitmq provides an outbox Transport that publishes messages
// to a RabbitMQ exchange.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dailydevops/outbox"
)

// Channel is the subset of *amqp.Channel used by the Transport. It is an
// interface so tests can substitute a fake.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Tx() error
	TxCommit() error
	TxRollback() error
	IsClosed() bool
}

// RoutingKeyFunc derives the routing key for a message.
type RoutingKeyFunc func(msg *outbox.Message) string

// Transport publishes outbox messages to a RabbitMQ exchange. Messages
// are published persistent, with the event type and correlation ID
// attached as headers.
//
// Batches are published inside an AMQP channel transaction, so a batch
// is either accepted as a whole or rolled back. Once a batch has been
// sent the channel stays in transactional mode and single sends commit
// per message.
type Transport struct {
	mu          sync.Mutex
	ch          Channel
	exchange    string
	contentType string
	routingKey  RoutingKeyFunc
	txMode      bool
}

// Option is a function that configures a Transport instance.
type Option func(*Transport)

// WithExchange sets the exchange messages are published to.
// Default is the empty string (the default exchange).
func WithExchange(exchange string) Option {
	return func(t *Transport) {
		t.exchange = exchange
	}
}

// WithContentType sets the content type of published messages.
// Default is "application/json".
func WithContentType(contentType string) Option {
	return func(t *Transport) {
		t.contentType = contentType
	}
}

// WithRoutingKey sets the function deriving the routing key for a
// message. Default is the message's event type.
func WithRoutingKey(fn RoutingKeyFunc) Option {
	return func(t *Transport) {
		t.routingKey = fn
	}
}

// NewTransport creates a Transport publishing through the given channel.
func NewTransport(ch Channel, opts ...Option) *Transport {
	t := &Transport{
		ch:          ch,
		contentType: "application/json",
		routingKey: func(msg *outbox.Message) string {
			return msg.EventType
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Healthy reports whether the underlying channel is open.
func (t *Transport) Healthy(_ context.Context) bool {
	return !t.ch.IsClosed()
}

// Send publishes a single message.
func (t *Transport) Send(ctx context.Context, msg *outbox.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.publish(ctx, msg); err != nil {
		if t.txMode {
			_ = t.ch.TxRollback()
		}
		return err
	}

	if t.txMode {
		if err := t.ch.TxCommit(); err != nil {
			return fmt.Errorf("committing publish: %w", err)
		}
	}
	return nil
}

// SendBatch publishes the messages inside one AMQP transaction. On any
// error the transaction is rolled back and none of the messages is
// delivered.
func (t *Transport) SendBatch(ctx context.Context, msgs []*outbox.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.txMode {
		if err := t.ch.Tx(); err != nil {
			return fmt.Errorf("entering transactional mode: %w", err)
		}
		t.txMode = true
	}

	for _, msg := range msgs {
		if err := t.publish(ctx, msg); err != nil {
			_ = t.ch.TxRollback()
			return err
		}
	}

	if err := t.ch.TxCommit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (t *Transport) publish(ctx context.Context, msg *outbox.Message) error {
	headers := amqp.Table{
		"event_type": msg.EventType,
	}
	if msg.CorrelationID != "" {
		headers["correlation_id"] = msg.CorrelationID
	}

	err := t.ch.PublishWithContext(ctx, t.exchange, t.routingKey(msg), false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   t.contentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID.String(),
		CorrelationId: msg.CorrelationID,
		Timestamp:     msg.CreatedAt,
		Type:          msg.EventType,
		Body:          msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("publishing message %s: %w", msg.ID, err)
	}
	return nil
}
