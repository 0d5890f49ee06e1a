package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is satisfied by the redis counter and the postgres pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function into a Check.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckFunc creates a named Check from fn.
func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name returns the check name.
func (f *CheckFunc) Name() string { return f.name }

// Check runs the function.
func (f *CheckFunc) Check(ctx context.Context) error { return f.fn(ctx) }

// PingCheck reports whether p answers a ping.
func PingCheck(name string, p Pinger) Check {
	return NewCheckFunc(name, func(ctx context.Context) error {
		if p == nil {
			return errors.New("not configured")
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
		return nil
	})
}
