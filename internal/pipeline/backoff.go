package pipeline

import "time"

// Backoff returns the re-enqueue delay before the given attempt is retried.
// Delays double per attempt starting from base and never exceed max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
