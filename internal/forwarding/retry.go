package forwarding

import (
	"context"
	"time"
)

// retryableStatus is the narrow retry set the spec chooses in its Open
// Questions: 502/503/504 only, never a generic 5xx. A connection failure
// before headers are received (status == 0) is also retryable.
func retryableStatus(status int) bool {
	return status == 0 || status == 502 || status == 503 || status == 504
}

// attempt is one forward attempt's observable outcome: either a response
// (with a status code) or a transport error.
type attempt struct {
	status int
	err    error
}

// retryLoop runs fn up to retryCount+1 times, stopping at the first
// non-retryable outcome, backing off by base*2^(n-1) between attempts.
// retryCount == 0 disables retries (exactly one attempt). The loop
// observes ctx cancellation between attempts and during backoff sleeps,
// consistent with §5's cooperative-cancellation requirement.
func retryLoop(ctx context.Context, retryCount int, base time.Duration, fn func(ctx context.Context) attempt) attempt {
	maxAttempts := retryCount + 1
	var last attempt

	for n := 1; n <= maxAttempts; n++ {
		select {
		case <-ctx.Done():
			return attempt{err: ctx.Err()}
		default:
		}

		last = fn(ctx)
		retryable := last.err != nil || retryableStatus(last.status)
		if !retryable || n == maxAttempts {
			break
		}

		backoff := base * time.Duration(1<<(n-1))
		select {
		case <-ctx.Done():
			return attempt{err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	return last
}
