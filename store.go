package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is the producer facing description of something that happened.
// The Store turns it into a persisted outbox Message.
type Event struct {
	// ID is an optional identifier. When it parses as a UUID it becomes
	// the message ID, otherwise a new UUID is generated.
	ID string

	// Type identifies the kind of event. Required, at most
	// MaxEventTypeLength characters.
	Type string

	// Payload is the event body. A []byte payload is stored as-is, any
	// other value is marshalled through the configured codec.
	Payload any

	// CorrelationID optionally ties the event to the operation that
	// produced it. At most MaxCorrelationIDLength characters.
	CorrelationID string
}

// Store persists events in the outbox table as part of the producer's
// database transaction, so that the event is committed if and only if
// the business change is.
type Store struct {
	dbCtx  *DBContext
	repo   Repository
	codec  Codec
	logger *zap.Logger
}

// StoreOption is a function that configures a Store instance.
type StoreOption func(*Store)

// WithCodec sets the codec used to marshal event payloads.
// Default is JSONCodec.
func WithCodec(codec Codec) StoreOption {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithStoreLogger sets the logger used by the Store.
// Default is a no-op logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a new Store with the given database context,
// repository and options.
func NewStore(dbCtx *DBContext, repo Repository, opts ...StoreOption) *Store {
	s := &Store{
		dbCtx:  dbCtx,
		repo:   repo,
		codec:  JSONCodec(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Publish validates and stores an event as a pending outbox message.
//
// When tx is non-nil the message takes part in the caller's transaction
// and becomes visible to the processor only after that transaction
// commits. With a nil tx the message is stored immediately.
//
// Validation happens before any write: an event whose type or
// correlation ID exceeds the schema limits is rejected with a
// *ValidationError and nothing is stored.
func (s *Store) Publish(ctx context.Context, tx TxQueryer, event Event) (*Message, error) {
	msg, err := s.buildMessage(event)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Add(ctx, tx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug("stored outbox message",
		zap.String("message_id", msg.ID.String()),
		zap.String("event_type", msg.EventType))

	return msg, nil
}

// StoreWorkFunc is the user supplied callback for [Store.Within].
// It executes user defined queries and publishes events within the same
// transaction. The Store commits or rolls back the transaction once the
// callback completes.
type StoreWorkFunc func(ctx context.Context, tx TxQueryer, events EventStorer) error

// EventStorer publishes events inside a managed transaction.
type EventStorer interface {
	// Publish stores an event in the outbox table. The event is
	// committed when the enclosing transaction commits.
	Publish(ctx context.Context, event Event) (*Message, error)
}

// Within executes user defined queries and publishes events within the
// same managed transaction.
//
// The transaction commits if the callback returns nil, or rolls back if
// it returns an error or panics. Events are committed atomically with
// the caller's database changes.
//
// Example:
//
//	err := store.Within(ctx, func(ctx context.Context, tx outbox.TxQueryer, events outbox.EventStorer) error {
//	    _, err := tx.ExecContext(ctx,
//	        "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, accountID)
//	    if err != nil {
//	        return err
//	    }
//
//	    _, err = events.Publish(ctx, outbox.Event{
//	        Type:          "account.debited",
//	        Payload:       AccountDebited{AccountID: accountID, Amount: amount},
//	        CorrelationID: requestID,
//	    })
//	    return err
//	})
func (s *Store) Within(ctx context.Context, fn StoreWorkFunc) error {
	tx, err := s.dbCtx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	var txCommitted bool
	defer func() {
		if !txCommitted {
			_ = tx.Rollback()
		}
	}()

	err = fn(ctx, tx, &txEventStorer{store: s, tx: tx})
	if err != nil {
		return err
	}

	err = tx.Commit()
	txCommitted = err == nil
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

type txEventStorer struct {
	store *Store
	tx    Tx
}

func (e *txEventStorer) Publish(ctx context.Context, event Event) (*Message, error) {
	return e.store.Publish(ctx, e.tx, event)
}

func (s *Store) buildMessage(event Event) (*Message, error) {
	payload, err := s.marshalPayload(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling event payload: %w", err)
	}

	opts := make([]MessageOption, 0, 2)
	if event.ID != "" {
		if id, parseErr := uuid.Parse(event.ID); parseErr == nil {
			opts = append(opts, WithID(id))
		}
	}
	if event.CorrelationID != "" {
		opts = append(opts, WithCorrelationID(event.CorrelationID))
	}

	msg := NewMessage(event.Type, payload, opts...)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	default:
		return s.codec.Marshal(p)
	}
}
