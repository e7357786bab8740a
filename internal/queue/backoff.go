package queue

import "time"

// BackoffKind selects the retry delay curve.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff computes retry delays. The zero value behaves like linear
// backoff with a one-minute base.
type Backoff struct {
	Kind BackoffKind   `json:"kind"`
	Base time.Duration `json:"base"`
}

// Delay returns the wait before the attempt-th retry (attempt >= 1).
// Both curves are strictly monotonically increasing in attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	switch b.Kind {
	case BackoffExponential:
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > 24*time.Hour {
				return 24 * time.Hour
			}
		}
		return d
	default:
		return time.Duration(attempt) * base
	}
}
