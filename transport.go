package outbox

import "context"

// Transport delivers outbox messages to an external system, typically a
// message broker.
//
// Delivery is at least once: Send may be called multiple times for the
// same message, so consumers must be idempotent and handle duplicates.
type Transport interface {
	// Healthy reports whether the transport is able to deliver messages.
	// The processor skips claiming entirely while the transport is down,
	// so messages rest in storage instead of burning retry budget.
	Healthy(ctx context.Context) bool

	// Send delivers a single message. Return nil on success; on error the
	// message is retried according to the processor's retry settings or
	// dead lettered once the budget is exhausted.
	Send(ctx context.Context, msg *Message) error

	// SendBatch delivers a batch of messages in one operation. An error
	// means the batch as a whole was not accepted; the processor then
	// falls back to sending each message individually.
	SendBatch(ctx context.Context, msgs []*Message) error
}
