package client

import (
	"math/rand"
	"time"
)

// BackoffStrategy yields the wait before a retry attempt.
type BackoffStrategy interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Factor per attempt, capped at Max,
// with optional +/- Jitter (0.0 to 1.0).
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff is the user-facing retry policy: 1s, 2s, 4s, then 5s,
// without jitter so the countdown shown to the user is exact.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   time.Second,
		Max:    5 * time.Second,
		Factor: 2.0,
	}
}

// Next returns the delay for attempt (0-based).
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.Base)
	for i := 0; i < attempt && delay < float64(b.Max); i++ {
		delay *= b.Factor
	}
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * b.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
