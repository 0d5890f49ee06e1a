package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

const bearerScheme = "Bearer"

// Verifier resolves a bearer token to the principal it was issued for.
// Implementations return an error for any token they cannot vouch for.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Principal, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Principal, error) {
	return f(ctx, token)
}

// Authenticator turns a request into a Principal.
type Authenticator struct {
	verifier Verifier
	logger   observability.Logger
	metrics  *Metrics
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the authenticator logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) { a.logger = logger }
}

// WithMetrics sets the authenticator metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// NewAuthenticator creates an Authenticator over verifier.
func NewAuthenticator(verifier Verifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(nil)
	}
	return a
}

// Authenticate returns the request's principal, or an error that matches
// exactly one of ErrMissingToken and ErrInvalidToken. The verifier is
// called at most once.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	start := time.Now()

	token, ok := BearerToken(r)
	if !ok {
		a.metrics.observe(outcomeMissing, time.Since(start))
		return nil, ErrMissingToken
	}

	principal, err := util.FailClosed[*Principal](nil, func() (*Principal, error) {
		p, err := a.verifier.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		if p == nil || p.ID == "" {
			return nil, errors.New("verifier returned no principal")
		}
		return p, nil
	})
	if err != nil {
		a.metrics.observe(outcomeInvalid, time.Since(start))
		a.logger.WithContext(ctx).Info("bearer token rejected", observability.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	a.metrics.observe(outcomeSuccess, time.Since(start))
	return principal, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched exactly and the token must be non-empty.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.Split(header, " ")
	if len(parts) < 2 || parts[0] != bearerScheme || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
