package world

import (
	"time"
)

// ToPtr returns a pointer to the given value.
// This is useful for creating pointers to literals or converting values to pointers.
func ToPtr[T any](v T) *T {
	return &v
}

// CalculateBackoff calculates the redelivery delay for a failed delivery.
// It supports three strategies:
//   - EXPONENTIAL: baseDelay * 2^(attempt-1)
//   - LINEAR: baseDelay * attempt
//   - NONE: baseDelay for every attempt
//
// attempt is the 1-based delivery attempt that just failed. The result is
// capped at maxDelay when maxDelay is positive.
func CalculateBackoff(baseDelay time.Duration, attempt int, strategy BackoffStrategy, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch strategy {
	case BackoffExponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		delay = baseDelay * time.Duration(1<<shift)
	case BackoffNone:
		delay = baseDelay
	default:
		delay = baseDelay * time.Duration(attempt)
	}

	if maxDelay > 0 && (delay > maxDelay || delay < 0) {
		return maxDelay
	}
	return delay
}

// truncateMillis drops sub-millisecond precision so timestamps round-trip
// identically through every backend
func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
