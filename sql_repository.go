package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLRepository is the reference Repository implementation on top of a
// DBContext. It works with any database/sql driver for the supported
// dialects and keeps all lifecycle transitions in single guarded
// statements so that concurrent processors stay consistent.
type SQLRepository struct {
	dbCtx       *DBContext
	retryWindow time.Duration
}

// SQLRepositoryOption is a function that configures a SQLRepository instance.
type SQLRepositoryOption func(*SQLRepository)

// WithRetryWindow sets the minimum time a Failed message must rest before
// it becomes eligible for retry claiming.
// Default is 0, meaning failed messages are eligible immediately.
func WithRetryWindow(window time.Duration) SQLRepositoryOption {
	return func(r *SQLRepository) {
		if window > 0 {
			r.retryWindow = window
		}
	}
}

// NewSQLRepository creates a new SQLRepository with the given database
// context and options.
func NewSQLRepository(dbCtx *DBContext, opts ...SQLRepositoryOption) *SQLRepository {
	r := &SQLRepository{
		dbCtx: dbCtx,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add inserts msg in the Pending state, inside the caller's transaction
// when tx is non-nil.
func (r *SQLRepository) Add(ctx context.Context, tx TxQueryer, msg *Message) error {
	var q Queryer = r.dbCtx.db
	if tx != nil {
		q = tx
	}

	// nolint:gosec
	query := fmt.Sprintf(`INSERT INTO %s (id, event_type, payload, correlation_id, status, retry_count, last_error, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getSQLPlaceholder(2),
		r.dbCtx.getSQLPlaceholder(3),
		r.dbCtx.getSQLPlaceholder(4),
		r.dbCtx.getSQLPlaceholder(5),
		r.dbCtx.getSQLPlaceholder(6),
		r.dbCtx.getSQLPlaceholder(7),
		r.dbCtx.getSQLPlaceholder(8),
		r.dbCtx.getSQLPlaceholder(9))

	_, err := q.ExecContext(ctx, query,
		r.dbCtx.formatIDForDB(msg.ID),
		msg.EventType,
		msg.Payload,
		msg.CorrelationID,
		StatusPending,
		msg.RetryCount,
		msg.LastError,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing message in outbox: %w", err)
	}
	return nil
}

// ClaimPending atomically claims up to batchSize pending messages.
func (r *SQLRepository) ClaimPending(ctx context.Context, batchSize int) ([]*Message, error) {
	where := fmt.Sprintf("status = %s", r.dbCtx.getSQLPlaceholder(1))
	msgs, err := r.claim(ctx, where, "created_at ASC", []any{StatusPending}, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claiming pending messages: %w", err)
	}
	return msgs, nil
}

// ClaimFailedForRetry atomically claims up to batchSize failed messages
// that still have retry budget left.
func (r *SQLRepository) ClaimFailedForRetry(ctx context.Context, maxRetryCount int32, batchSize int) ([]*Message, error) {
	where := fmt.Sprintf("status = %s AND retry_count < %s",
		r.dbCtx.getSQLPlaceholder(1), r.dbCtx.getSQLPlaceholder(2))
	args := []any{StatusFailed, maxRetryCount}

	if r.retryWindow > 0 {
		where += fmt.Sprintf(" AND updated_at <= %s", r.dbCtx.getSQLPlaceholder(3))
		args = append(args, time.Now().UTC().Add(-r.retryWindow))
	}

	msgs, err := r.claim(ctx, where, "updated_at ASC", args, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claiming failed messages: %w", err)
	}
	return msgs, nil
}

// claim selects matching rows with a skip-locked lock, flips them to
// Processing and commits, all inside a single transaction. The returned
// messages carry the post-transition state.
func (r *SQLRepository) claim(ctx context.Context, where string, orderBy string, args []any, batchSize int) ([]*Message, error) {
	tx, err := r.dbCtx.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	var txCommitted bool
	defer func() {
		if !txCommitted {
			_ = tx.Rollback()
		}
	}()

	query := r.dbCtx.buildClaimQuery(where, orderBy, len(args)+1)
	msgs, err := r.queryMessages(ctx, tx, query, append(args, batchSize)...)
	if err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		err = tx.Commit()
		txCommitted = err == nil
		if err != nil {
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
		return nil, nil
	}

	err = r.markClaimed(ctx, tx, msgs)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	txCommitted = err == nil
	if err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	now := time.Now().UTC()
	for _, msg := range msgs {
		msg.Status = StatusProcessing
		msg.UpdatedAt = now
	}
	return msgs, nil
}

// markClaimed transitions the selected rows to Processing. The status
// guard makes the update a no-op for rows that changed underneath us.
func (r *SQLRepository) markClaimed(ctx context.Context, tx TxQueryer, msgs []*Message) error {
	placeholders := make([]string, 0, len(msgs))
	args := make([]any, 0, len(msgs)+1)
	args = append(args, StatusProcessing)
	for idx, msg := range msgs {
		placeholders = append(placeholders, r.dbCtx.getSQLPlaceholder(idx+2))
		args = append(args, r.dbCtx.formatIDForDB(msg.ID))
	}

	// nolint:gosec
	query := fmt.Sprintf("UPDATE %s SET status = %s, updated_at = %s WHERE id IN (%s)",
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getCurrentTimestampInUTC(),
		strings.Join(placeholders, ", "))

	_, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("marking messages as processing: %w", err)
	}
	return nil
}

// MarkCompleted transitions a Processing message to Completed.
// Unknown or already completed ids are a no-op.
func (r *SQLRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	// nolint:gosec
	query := fmt.Sprintf("UPDATE %s SET status = %s, processed_at = %s, updated_at = %s WHERE id = %s AND status = %s",
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getCurrentTimestampInUTC(),
		r.dbCtx.getCurrentTimestampInUTC(),
		r.dbCtx.getSQLPlaceholder(2),
		r.dbCtx.getSQLPlaceholder(3))

	_, err := r.dbCtx.db.ExecContext(ctx, query, StatusCompleted, r.dbCtx.formatIDForDB(id), StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking message %s as completed: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The CASE keeps the increment and
// the terminal decision in one statement: a message whose incremented
// retry count reaches maxRetryCount goes straight to DeadLetter without
// an intermediate Failed hop.
func (r *SQLRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause string, maxRetryCount int32) error {
	// nolint:gosec
	query := fmt.Sprintf(`UPDATE %s SET
		status = CASE WHEN retry_count + 1 >= %s THEN %s ELSE %s END,
		retry_count = retry_count + 1,
		last_error = %s,
		updated_at = %s
		WHERE id = %s AND status = %s`,
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getSQLPlaceholder(2),
		r.dbCtx.getSQLPlaceholder(3),
		r.dbCtx.getSQLPlaceholder(4),
		r.dbCtx.getCurrentTimestampInUTC(),
		r.dbCtx.getSQLPlaceholder(5),
		r.dbCtx.getSQLPlaceholder(6))

	_, err := r.dbCtx.db.ExecContext(ctx, query,
		maxRetryCount, StatusDeadLetter, StatusFailed, cause,
		r.dbCtx.formatIDForDB(id), StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking message %s as failed: %w", id, err)
	}
	return nil
}

// MarkDeadLetter transitions a message to DeadLetter. Repeated calls and
// unknown ids are a no-op.
func (r *SQLRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, cause string) error {
	// nolint:gosec
	query := fmt.Sprintf("UPDATE %s SET status = %s, last_error = %s, updated_at = %s WHERE id = %s AND status IN (%s, %s)",
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getSQLPlaceholder(2),
		r.dbCtx.getCurrentTimestampInUTC(),
		r.dbCtx.getSQLPlaceholder(3),
		r.dbCtx.getSQLPlaceholder(4),
		r.dbCtx.getSQLPlaceholder(5))

	_, err := r.dbCtx.db.ExecContext(ctx, query,
		StatusDeadLetter, cause, r.dbCtx.formatIDForDB(id), StatusProcessing, StatusFailed)
	if err != nil {
		return fmt.Errorf("marking message %s as dead letter: %w", id, err)
	}
	return nil
}

// DeleteCompletedOlderThan removes completed messages processed more than
// age ago and returns the number of rows removed.
func (r *SQLRepository) DeleteCompletedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	// nolint:gosec
	query := fmt.Sprintf("DELETE FROM %s WHERE status = %s AND processed_at <= %s",
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getSQLPlaceholder(2))

	result, err := r.dbCtx.db.ExecContext(ctx, query, StatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting completed messages: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted messages: %w", err)
	}
	return deleted, nil
}

// ReclaimStuck recovers Processing messages whose claim went stale. The
// lost attempt is charged against the retry budget; messages that exhaust
// it move to DeadLetter, the rest stay claimed and are returned for
// immediate redelivery.
func (r *SQLRepository) ReclaimStuck(ctx context.Context, olderThan time.Duration, maxRetryCount int32, batchSize int) ([]*Message, error) {
	tx, err := r.dbCtx.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	var txCommitted bool
	defer func() {
		if !txCommitted {
			_ = tx.Rollback()
		}
	}()

	cutoff := time.Now().UTC().Add(-olderThan)
	where := fmt.Sprintf("status = %s AND updated_at <= %s",
		r.dbCtx.getSQLPlaceholder(1), r.dbCtx.getSQLPlaceholder(2))

	query := r.dbCtx.buildClaimQuery(where, "updated_at ASC", 3)
	msgs, err := r.queryMessages(ctx, tx, query, StatusProcessing, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("reclaiming stuck messages: %w", err)
	}

	if len(msgs) == 0 {
		err = tx.Commit()
		txCommitted = err == nil
		if err != nil {
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
		return nil, nil
	}

	err = r.chargeLostAttempt(ctx, tx, msgs, maxRetryCount)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	txCommitted = err == nil
	if err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	now := time.Now().UTC()
	reclaimed := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		msg.RetryCount++
		msg.LastError = staleClaimCause
		msg.UpdatedAt = now
		if msg.RetryCount >= maxRetryCount {
			msg.Status = StatusDeadLetter
			continue
		}
		reclaimed = append(reclaimed, msg)
	}
	return reclaimed, nil
}

const staleClaimCause = "processing claim expired"

// chargeLostAttempt increments the retry count of stale rows and dead
// letters the ones that ran out of budget, in one statement.
func (r *SQLRepository) chargeLostAttempt(ctx context.Context, tx TxQueryer, msgs []*Message, maxRetryCount int32) error {
	placeholders := make([]string, 0, len(msgs))
	args := make([]any, 0, len(msgs)+4)
	args = append(args, maxRetryCount, StatusDeadLetter, StatusProcessing, staleClaimCause)
	for idx, msg := range msgs {
		placeholders = append(placeholders, r.dbCtx.getSQLPlaceholder(idx+5))
		args = append(args, r.dbCtx.formatIDForDB(msg.ID))
	}

	// nolint:gosec
	query := fmt.Sprintf(`UPDATE %s SET
		status = CASE WHEN retry_count + 1 >= %s THEN %s ELSE %s END,
		retry_count = retry_count + 1,
		last_error = %s,
		updated_at = %s
		WHERE id IN (%s)`,
		r.dbCtx.qualifiedTableName(),
		r.dbCtx.getSQLPlaceholder(1),
		r.dbCtx.getSQLPlaceholder(2),
		r.dbCtx.getSQLPlaceholder(3),
		r.dbCtx.getSQLPlaceholder(4),
		r.dbCtx.getCurrentTimestampInUTC(),
		strings.Join(placeholders, ", "))

	_, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("charging lost attempt: %w", err)
	}
	return nil
}

func (r *SQLRepository) queryMessages(ctx context.Context, q Queryer, query string, args ...any) ([]*Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outbox messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var correlationID, lastError sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.EventType, &msg.Payload, &correlationID, &msg.Status,
			&msg.RetryCount, &lastError, &msg.CreatedAt, &msg.UpdatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox message: %w", err)
		}
		msg.CorrelationID = correlationID.String
		msg.LastError = lastError.String
		if processedAt.Valid {
			t := processedAt.Time
			msg.ProcessedAt = &t
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox messages: %w", err)
	}
	return messages, nil
}
