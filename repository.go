package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract of the outbox. Implementations must
// guarantee that claim operations are atomic: a message claimed by one
// processor is invisible to concurrent claimers until it leaves the
// Processing state.
//
// Storage errors are returned as-is; the repository never retries.
type Repository interface {
	// Add inserts msg in the Pending state. When tx is non-nil the insert
	// participates in the caller's transaction and becomes visible only
	// when that transaction commits. When tx is nil the insert runs as a
	// standalone statement.
	Add(ctx context.Context, tx TxQueryer, msg *Message) error

	// ClaimPending atomically selects up to batchSize Pending messages,
	// oldest CreatedAt first, transitions them to Processing and returns
	// them. Rows locked by concurrent claimers are skipped, never waited
	// on. Returns an empty slice when nothing is eligible.
	ClaimPending(ctx context.Context, batchSize int) ([]*Message, error)

	// ClaimFailedForRetry behaves like ClaimPending over Failed messages
	// whose RetryCount is below maxRetryCount, oldest UpdatedAt first.
	ClaimFailedForRetry(ctx context.Context, maxRetryCount int32, batchSize int) ([]*Message, error)

	// MarkCompleted transitions a Processing message to Completed and
	// records the processing time. Unknown ids are a silent no-op.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed delivery attempt: it increments
	// RetryCount, stores cause as the last error and transitions the
	// message to Failed, or straight to DeadLetter when the incremented
	// count reaches maxRetryCount.
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, maxRetryCount int32) error

	// MarkDeadLetter transitions a message to DeadLetter. Calling it on a
	// message already dead lettered or unknown is a no-op.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, cause string) error

	// DeleteCompletedOlderThan removes Completed messages processed more
	// than age ago and returns the number of rows removed.
	DeleteCompletedOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// ReclaimStuck recovers Processing messages whose claim went stale,
	// meaning UpdatedAt is older than olderThan. The lost attempt counts
	// against the retry budget: exhausted messages move to DeadLetter,
	// the rest are returned still claimed for immediate redelivery.
	ReclaimStuck(ctx context.Context, olderThan time.Duration, maxRetryCount int32, batchSize int) ([]*Message, error)
}
