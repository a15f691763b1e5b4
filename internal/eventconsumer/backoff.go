package eventconsumer

import "time"

// Backoff returns min(base*2^(attempt-1), max). attempt counts from 1.
func Backoff(attempt int64, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := int64(1); i < attempt; i++ {
		if delay > max-delay {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
