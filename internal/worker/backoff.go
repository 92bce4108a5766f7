package worker

import "time"

// Backoff delay parameters. retry_count=0 waits 30s, doubling each attempt
// until the one hour cap.
const (
	backoffBase = 30 * time.Second
	backoffCap  = 3600 * time.Second
)

// RetryDelay returns how long to wait before the next delivery attempt:
// min(base * 2^retryCount, cap). Deterministic, no jitter.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	// 2^7 * 30s already exceeds the cap; guard the shift against overflow.
	if retryCount > 7 {
		return backoffCap
	}

	delay := backoffBase << uint(retryCount)
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}

// NextRetryTime returns the wall-clock time of the next attempt.
func NextRetryTime(now time.Time, retryCount int) time.Time {
	return now.Add(RetryDelay(retryCount))
}
