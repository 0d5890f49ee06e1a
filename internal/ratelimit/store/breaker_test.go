package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	calls int
	res   *Result
	err   error
}

func (s *stubCounter) IncrementAndCheck(context.Context, string, int64, time.Duration) (*Result, error) {
	s.calls++
	return s.res, s.err
}

func TestBreakerCounter_PassesThrough(t *testing.T) {
	t.Parallel()

	next := &stubCounter{res: &Result{WithinLimit: true, Count: 1}}
	b := NewBreakerCounter(next, BreakerConfig{Name: "test"})

	res, err := b.IncrementAndCheck(context.Background(), "k", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.WithinLimit)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerCounter_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	errDown := errors.New("connection refused")
	next := &stubCounter{err: errDown}
	b := NewBreakerCounter(next, BreakerConfig{Name: "test", Threshold: 3, Timeout: time.Minute})

	for range 3 {
		_, err := b.IncrementAndCheck(context.Background(), "k", 5, time.Minute)
		assert.ErrorIs(t, err, errDown)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.IncrementAndCheck(context.Background(), "k", 5, time.Minute)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, next.calls)
}

func TestBreakerCounter_CancelledCallerDoesNotTrip(t *testing.T) {
	t.Parallel()

	next := &stubCounter{err: context.Canceled}
	b := NewBreakerCounter(next, BreakerConfig{Threshold: 1})

	for range 5 {
		_, err := b.IncrementAndCheck(context.Background(), "k", 5, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerCounter_NilResult(t *testing.T) {
	t.Parallel()

	b := NewBreakerCounter(&stubCounter{}, BreakerConfig{})

	_, err := b.IncrementAndCheck(context.Background(), "k", 5, time.Minute)
	assert.Error(t, err)
}

func TestSafeIntToUint32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), safeIntToUint32(-1))
	assert.Equal(t, uint32(7), safeIntToUint32(7))
}
