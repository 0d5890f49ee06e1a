package store

import (
	"math/rand/v2"
	"time"
)

// decorrelatedJitterBackoff spaces startup connection attempts so that a
// fleet restarting together does not hammer the counter backend in step.
// sleep = min(cap, random_between(base, sleep * 3))
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDuration <= 0 {
		maxDuration = 10 * time.Second
	}
	if maxDuration < initial {
		maxDuration = initial
	}
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	lo := float64(b.initial)
	hi := float64(b.current) * 3

	//nolint:gosec // jitter does not need a cryptographic source
	backoff := lo + rand.Float64()*(hi-lo)
	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}
