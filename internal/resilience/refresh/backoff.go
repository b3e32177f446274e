package refresh

import "time"

const (
	firstBackoff = 15 * time.Second
	baseBackoff  = 30 * time.Second
	maxBackoff   = 300 * time.Second
)

// BackoffDelay returns the minimum spacing between refresh attempts after
// failures consecutive failures: 15s with none, then 30s doubling up to 300s.
func BackoffDelay(failures int) time.Duration {
	if failures <= 0 {
		return firstBackoff
	}
	d := baseBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
