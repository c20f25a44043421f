// Package cooldown implements the shared notification rate limiter.
//
// Invitation resends (1 hour) and relationship nudges (14 days) both gate
// on the time elapsed since a persisted timestamp. The window check lives
// here so the boundary behavior is identical at both call sites: an action
// exactly at the end of the window is allowed.
package cooldown

import (
	"fmt"
	"time"
)

// Allow reports whether an action whose previous occurrence was at last may
// run again at now, given the required window between occurrences. A zero
// last means the action never happened and is always allowed. When the
// action is denied, retryAfter holds the remaining wait.
func Allow(last time.Time, window time.Duration, now time.Time) (allowed bool, retryAfter time.Duration) {
	if last.IsZero() {
		return true, 0
	}
	elapsed := now.Sub(last)
	if elapsed >= window {
		return true, 0
	}
	return false, window - elapsed
}

// RateLimitedError is returned by services when an action is inside its
// cooldown window. RetryAfter is the exact remaining wait; callers round it
// up to whatever unit their response contract uses.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
