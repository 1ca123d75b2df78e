package client

import "time"

// reconnectDelay returns the backoff delay for reconnection attempt N:
// min(base * 2^N, max).
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// A shift past 62 bits would wrap; the ceiling applies long before.
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
