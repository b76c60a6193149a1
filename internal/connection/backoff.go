package connection

import "time"

// RetryDelay computes the linear backoff delay before retry number
// retryCount (1-based): base * retryCount, capped at max. Pure function so
// retry behavior is testable without real timers.
func RetryDelay(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := base * time.Duration(retryCount)
	if d > max {
		d = max
	}
	return d
}
