// Package backoff provides the exponential delay policy shared by dispatch
// retries and change-feed error recovery.
package backoff

import "time"

// Delay returns the wait before a retry attempt, doubling from base and
// capped at max. Attempt is 1-based: attempt 1 waits base, attempt 2 waits
// base*2, and so on.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
