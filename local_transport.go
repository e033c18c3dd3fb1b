package outbox

import (
	"context"
	"fmt"
	"sync"
)

// Decoder turns a stored payload back into a typed event.
type Decoder func(payload []byte) (any, error)

// Handler processes a decoded event. The message is passed alongside for
// access to metadata such as the correlation ID.
type Handler func(ctx context.Context, event any, msg *Message) error

// LocalTransport delivers messages to handlers within the same process.
// Each event type is bound to exactly one decoder and handler through an
// explicit registry; messages with an unregistered event type fail and
// follow the normal retry path.
type LocalTransport struct {
	mu       sync.RWMutex
	bindings map[string]binding
}

type binding struct {
	decode Decoder
	handle Handler
}

// NewLocalTransport creates an empty in-process transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		bindings: make(map[string]binding),
	}
}

// Register binds an event type to a decoder and a handler. Registering
// the same event type again replaces the previous binding.
func (t *LocalTransport) Register(eventType string, decode Decoder, handle Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[eventType] = binding{decode: decode, handle: handle}
}

// JSONDecoder returns a Decoder that unmarshals the payload into a new
// value produced by newEvent, using the given codec.
//
// Example:
//
//	transport.Register("order.created",
//		outbox.JSONDecoder(codec, func() any { return &OrderCreated{} }),
//		handleOrderCreated)
func JSONDecoder(codec Codec, newEvent func() any) Decoder {
	return func(payload []byte) (any, error) {
		event := newEvent()
		if err := codec.Unmarshal(payload, event); err != nil {
			return nil, err
		}
		return event, nil
	}
}

// Healthy always reports true; in-process delivery has no connection to lose.
func (t *LocalTransport) Healthy(_ context.Context) bool {
	return true
}

// Send decodes the message payload and invokes the registered handler.
func (t *LocalTransport) Send(ctx context.Context, msg *Message) error {
	t.mu.RLock()
	b, ok := t.bindings[msg.EventType]
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for event type %q", msg.EventType)
	}

	event, err := b.decode(msg.Payload)
	if err != nil {
		return fmt.Errorf("decoding event %q: %w", msg.EventType, err)
	}

	return b.handle(ctx, event, msg)
}

// SendBatch delivers the messages sequentially and stops at the first
// failure.
func (t *LocalTransport) SendBatch(ctx context.Context, msgs []*Message) error {
	for _, msg := range msgs {
		if err := t.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
