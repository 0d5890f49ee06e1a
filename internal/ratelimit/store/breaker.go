package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls to an
// unhealthy counter backend.
var ErrCircuitOpen = errors.New("counter circuit breaker open")

// BreakerConfig configures a BreakerCounter.
type BreakerConfig struct {
	Name string

	// Threshold is the minimum number of calls in an interval before the
	// failure ratio is considered.
	Threshold int

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	Logger  *zap.Logger
	Metrics *Metrics
}

// BreakerCounter guards a Counter with a circuit breaker. While the
// breaker is open calls fail fast with ErrCircuitOpen instead of waiting
// on a dead backend; the limiter turns that into a 503 like any other
// counter error.
type BreakerCounter struct {
	next    Counter
	cb      *gobreaker.CircuitBreaker
	name    string
	metrics *Metrics
}

// NewBreakerCounter wraps next with a circuit breaker.
func NewBreakerCounter(next Counter, cfg BreakerConfig) *BreakerCounter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.Name == "" {
		cfg.Name = "counter"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	threshold := safeIntToUint32(cfg.Threshold)
	if threshold == 0 {
		threshold = 5
	}

	b := &BreakerCounter{next: next, name: cfg.Name, metrics: metrics}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Timeout,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("counter circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.breakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about backend health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	metrics.breakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return b
}

// IncrementAndCheck implements Counter.
func (b *BreakerCounter) IncrementAndCheck(
	ctx context.Context,
	key string,
	limit int64,
	window time.Duration,
) (*Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.IncrementAndCheck(ctx, key, limit, window)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
		}
		return nil, err
	}

	res, ok := out.(*Result)
	if !ok || res == nil {
		return nil, errors.New("counter returned no result")
	}
	return res, nil
}

// State returns the current breaker state.
func (b *BreakerCounter) State() gobreaker.State {
	return b.cb.State()
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
