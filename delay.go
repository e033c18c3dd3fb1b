package outbox

import (
	"math"
	"time"
)

// DelayFunc returns the wait before the next processing cycle given the
// number of consecutive idle cycles so far.
type DelayFunc func(attempt int) time.Duration

// Fixed returns a DelayFunc that waits the same duration every time.
func Fixed(delay time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return delay
	}
}

// Exponential returns a DelayFunc that doubles the delay after every idle
// cycle, starting at delay and capped at maxDelay. Useful to back off
// database polling while the outbox stays empty.
//
// For example, with a delay of 200 milliseconds and maxDelay of 1 minute:
//
// Delay after attempt 0: 200ms
// Delay after attempt 1: 400ms
// Delay after attempt 2: 800ms
// Delay after attempt 3: 1.6s
// Delay after attempt 4: 3.2s
// ...
// Delay after attempt 9: 1m0s
// Delay after attempt 10: 1m0s
func Exponential(delay time.Duration, maxDelay time.Duration) DelayFunc {
	// Pre-calculate max shifts to prevent overflow
	logDelay := math.Floor(math.Log2(float64(delay)))
	var maxShifts uint
	if logDelay >= 62 {
		// If delay is already near maximum, no shifts allowed to prevent overflow
		maxShifts = 0
	} else {
		maxShifts = 62 - uint(logDelay)
	}

	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return min(delay, maxDelay)
		}

		// nolint:gosec
		n := min(uint(attempt), maxShifts)

		nextDelay := delay << n
		return min(nextDelay, maxDelay)
	}
}
