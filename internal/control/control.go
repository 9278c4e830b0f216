package control

import "time"

// Policy defines limits and retry behavior for upstream provider calls.
type Policy struct {
	CallTimeout time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the default provider-call policy.
func DefaultPolicy() Policy {
	return Policy{
		CallTimeout: 60 * time.Second,
		MaxAttempts: 3,
	}
}

// RetryBackoff computes exponential backoff with a fixed cap.
func RetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// ShouldRetry reports whether another attempt is allowed after the given
// number of completed attempts. MaxAttempts bounds the total, so a policy
// with MaxAttempts 1 never retries.
func ShouldRetry(p Policy, attempts int) bool {
	return attempts < p.MaxAttempts
}
