package state

import "time"

const (
	backoffStep = 50 * time.Millisecond
	backoffCap  = time.Second
)

// Backoff returns the delay before reconnect attempt n (1-based):
// min(n*50ms, 1s). Non-positive attempts get no delay.
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt >= int(backoffCap/backoffStep) {
		return backoffCap
	}
	return time.Duration(attempt) * backoffStep
}
