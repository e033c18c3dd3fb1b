package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Maximum lengths enforced when a message is stored.
const (
	MaxEventTypeLength     = 500
	MaxCorrelationIDLength = 100
)

// MessageOption is a function that can be used to configure a Message.
type MessageOption func(*Message)

// Message represents a single unit of work flowing through the outbox:
// a persisted event waiting to be delivered to an external system.
type Message struct {
	// ID is a unique identifier for the message.
	ID uuid.UUID

	// EventType identifies the kind of event carried in the payload.
	// Consumers use it for routing and to pick the right decoder.
	EventType string

	// Payload contains the serialized event data, opaque to the outbox.
	Payload []byte

	// CorrelationID is an optional identifier to trace the message back
	// to the operation that produced it. Empty when unused.
	CorrelationID string

	// Status is the current lifecycle state of the message.
	Status Status

	// RetryCount is the number of delivery attempts that have failed.
	// Read only field.
	RetryCount int32

	// LastError holds the error text of the most recent failed attempt.
	LastError string

	// CreatedAt is the UTC timestamp when the message was stored.
	CreatedAt time.Time

	// UpdatedAt is the UTC timestamp of the last status transition.
	UpdatedAt time.Time

	// ProcessedAt is set once the message completes successfully, nil otherwise.
	ProcessedAt *time.Time
}

// WithID sets the unique identifier of the message.
// If not provided, a new UUID will be generated.
func WithID(id uuid.UUID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

// WithCorrelationID attaches a correlation identifier to the message.
func WithCorrelationID(correlationID string) MessageOption {
	return func(m *Message) {
		m.CorrelationID = correlationID
	}
}

// WithCreatedAt sets the time the message was created.
// If not provided, the current time will be used.
func WithCreatedAt(createdAt time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = createdAt
		m.UpdatedAt = createdAt
	}
}

// NewMessage creates a new pending Message with the given event type and payload.
func NewMessage(eventType string, payload []byte, opts ...MessageOption) *Message {
	now := time.Now().UTC()

	m := &Message{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Validate checks the length constraints that the storage schema enforces.
// It is called before any write so that an oversized field never reaches
// the database.
func (m *Message) Validate() error {
	if m.EventType == "" {
		return &ValidationError{Field: "EventType", Max: MaxEventTypeLength, Len: 0}
	}
	if len(m.EventType) > MaxEventTypeLength {
		return &ValidationError{Field: "EventType", Max: MaxEventTypeLength, Len: len(m.EventType)}
	}
	if len(m.CorrelationID) > MaxCorrelationIDLength {
		return &ValidationError{Field: "CorrelationID", Max: MaxCorrelationIDLength, Len: len(m.CorrelationID)}
	}
	return nil
}

// ValidationError indicates that a message field violates a length
// constraint enforced at write time.
type ValidationError struct {
	Field string
	Max   int
	Len   int
}

func (e *ValidationError) Error() string {
	if e.Len == 0 {
		return fmt.Sprintf("message field %s must not be empty", e.Field)
	}
	return fmt.Sprintf("message field %s exceeds %d characters (got %d)", e.Field, e.Max, e.Len)
}
