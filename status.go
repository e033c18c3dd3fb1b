package outbox

import "fmt"

// Status represents the lifecycle state of an outbox message.
// It is stored as a small integer and must never be reordered,
// as the numeric values are persisted.
type Status int16

// Message lifecycle states.
const (
	// StatusPending indicates the message is stored and waiting to be claimed.
	StatusPending Status = iota
	// StatusProcessing indicates the message is claimed by a processor
	// and a delivery attempt is in flight.
	StatusProcessing
	// StatusCompleted indicates the message was delivered successfully.
	// Terminal state.
	StatusCompleted
	// StatusFailed indicates the last delivery attempt failed and the
	// message is waiting to be retried.
	StatusFailed
	// StatusDeadLetter indicates the message exhausted its retry budget
	// and requires manual intervention. Terminal state.
	StatusDeadLetter
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("unknown(%d)", int16(s))
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
//
// Legal transitions:
//
//	Pending    -> Processing
//	Processing -> Completed | Failed | DeadLetter
//	Failed     -> Processing | DeadLetter
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusDeadLetter
	case StatusFailed:
		return next == StatusProcessing || next == StatusDeadLetter
	default:
		return false
	}
}
