package submission

import "time"

// Policy configures automated review retries.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
	// ClaimLease is how long an ai_reviewing claim may stay open before the
	// sweep counts it as a failed attempt.
	ClaimLease time.Duration
}

// DefaultPolicy matches the config defaults.
var DefaultPolicy = Policy{
	BaseDelay:   2 * time.Minute,
	MaxAttempts: 3,
	ClaimLease:  5 * time.Minute,
}

// NextCheckAt is the deadline of the given attempt: createdAt + attempt*base.
// Deadlines are anchored to creation so retries never compound.
func NextCheckAt(createdAt time.Time, attempt int, base time.Duration) time.Time {
	if attempt < 0 {
		attempt = 0
	}
	return createdAt.Add(time.Duration(attempt) * base)
}

// RetryDelay is how long to wait before the given attempt. It is zero once the
// deadline has passed.
func RetryDelay(createdAt time.Time, attempt int, base time.Duration, now time.Time) time.Duration {
	d := NextCheckAt(createdAt, attempt, base).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
