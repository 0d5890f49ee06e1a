// Package ratelimit decides whether a request fits its quota.
//
// The Limiter holds no state of its own. Every call performs exactly one
// atomic increment-and-check on a shared store.Counter, and any failure
// to evaluate the counter denies the request.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit/store"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Error codes surfaced in response bodies.
const (
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "rate_limit_unavailable"
)

var (
	// ErrLimitExceeded means the counter was evaluated and the quota is spent.
	ErrLimitExceeded = errors.New("rate limit exceeded")

	// ErrUnavailable means the counter could not be evaluated.
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Decision is the outcome of one Enforce call.
type Decision struct {
	Allowed bool

	// Err is nil when allowed, otherwise ErrLimitExceeded or ErrUnavailable.
	Err error

	// Status is the HTTP status to answer with when denied.
	Status int

	// RetryAfter is the time until the window resets; set on ErrLimitExceeded.
	RetryAfter time.Duration
}

// Code returns the machine-readable error code of a denial.
func (d Decision) Code() string {
	switch {
	case d.Allowed:
		return ""
	case errors.Is(d.Err, ErrLimitExceeded):
		return CodeRateLimited
	default:
		return CodeUnavailable
	}
}

var unavailable = Decision{
	Allowed: false,
	Err:     ErrUnavailable,
	Status:  http.StatusServiceUnavailable,
}

// Limiter enforces quotas against a store.Counter.
type Limiter struct {
	counter store.Counter
	logger  observability.Logger
	metrics *Metrics
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the limiter logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics sets the limiter metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter creates a Limiter over counter.
func NewLimiter(counter store.Counter, opts ...Option) *Limiter {
	l := &Limiter{
		counter: counter,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}
	return l
}

// Enforce counts one hit for identity within scope and reports whether it
// fits limit per window. A counter error, a panic, or a non-positive limit
// or window all deny with ErrUnavailable; nothing here ever fails open.
func (l *Limiter) Enforce(ctx context.Context, scope string, identity Identity, limit int64, window time.Duration) Decision {
	key := Key(scope, identity)

	decision, err := util.FailClosed(unavailable, func() (Decision, error) {
		if limit <= 0 || window <= 0 {
			return unavailable, errors.New("rate limit misconfigured: limit and window must be positive")
		}

		res, err := l.counter.IncrementAndCheck(ctx, key, limit, window)
		if err != nil {
			return unavailable, err
		}
		if res == nil {
			return unavailable, errors.New("counter returned no result")
		}

		if !res.WithinLimit {
			return Decision{
				Allowed:    false,
				Err:        ErrLimitExceeded,
				Status:     http.StatusTooManyRequests,
				RetryAfter: res.ResetAfter,
			}, nil
		}
		return Decision{Allowed: true, Status: http.StatusOK}, nil
	})

	if err != nil {
		l.logger.WithContext(ctx).Warn("rate limit counter unavailable",
			observability.String("scope", scope),
			observability.String("identity_kind", identity.Kind.String()),
			observability.Error(err),
		)
	}

	l.metrics.record(scope, identity.Kind, decision)
	return decision
}
