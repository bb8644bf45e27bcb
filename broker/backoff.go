package broker

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Initial to the
// Max cap, with optional proportional jitter. The base delay is strictly
// non-decreasing across attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64 // fraction of the base delay added as jitter, 0 disables
}

// DefaultBackoff returns the reconnect policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: time.Second,
		Max:     time.Minute,
		Jitter:  0.25,
	}
}

// Delay returns the delay before reconnect attempt n (1-based). Attempt
// values below one are treated as one.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := b.Max
	if maxDelay < initial {
		maxDelay = initial
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay || delay < 0 {
			delay = maxDelay
			break
		}
	}

	if b.Jitter > 0 {
		span := time.Duration(float64(delay) * b.Jitter)
		if span > 0 {
			delay += rand.N(span)
		}
	}

	return delay
}
