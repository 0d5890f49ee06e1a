// Package store provides atomic counter backends for rate limiting.
//
// A counter backend owns all accumulation: the limiter above it keeps no
// state between calls, so every gateway instance sharing a backend shares
// one quota.
package store

import (
	"context"
	"errors"
	"time"
)

// Counter performs one atomic increment-and-check per call.
type Counter interface {
	// IncrementAndCheck adds one hit to key. The first hit opens a window
	// of the given length; the result reports whether the running count
	// for that window is still within limit.
	IncrementAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error)
}

// Result is the outcome of a successful counter evaluation.
type Result struct {
	// WithinLimit is true when Count <= limit.
	WithinLimit bool

	// Count is the number of hits recorded in the current window,
	// including this one.
	Count int64

	// ResetAfter is the time until the current window expires.
	ResetAfter time.Duration
}

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("counter store closed")

func newResult(count, limit int64, resetAfter time.Duration) *Result {
	if resetAfter < 0 {
		resetAfter = 0
	}
	return &Result{
		WithinLimit: count <= limit,
		Count:       count,
		ResetAfter:  resetAfter,
	}
}
