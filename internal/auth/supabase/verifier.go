// Package supabase verifies access tokens against a Supabase project's
// GoTrue user endpoint.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vyrodovalexey/avaguard/internal/auth"
)

const (
	userPath           = "/auth/v1/user"
	defaultTimeout     = 5 * time.Second
	maxUserPayloadSize = 1 << 20
)

// ErrRejected is returned when the provider answers but does not accept
// the token.
var ErrRejected = errors.New("supabase: token rejected")

// Config configures a Verifier.
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string

	// ServiceKey is sent as the apikey header.
	ServiceKey string

	// Timeout bounds each verification call. Defaults to 5s.
	Timeout time.Duration

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// Verifier implements auth.Verifier using GET /auth/v1/user.
type Verifier struct {
	endpoint   string
	serviceKey string
	timeout    time.Duration
	client     *http.Client
}

var _ auth.Verifier = (*Verifier)(nil)

// NewVerifier creates a Verifier from cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("supabase: URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, errors.New("supabase: service key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Verifier{
		endpoint:   base + userPath,
		serviceKey: cfg.ServiceKey,
		timeout:    timeout,
		client:     client,
	}, nil
}

type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// Verify asks the provider who token belongs to. Any non-200 answer,
// transport failure or malformed body is an error.
func (v *Verifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("supabase: build request: %w", err)
	}
	req.Header.Set("apikey", v.serviceKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase: request user: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserPayloadSize))
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserPayloadSize)).Decode(&user); err != nil {
		return nil, fmt.Errorf("supabase: decode user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: response has no user id", ErrRejected)
	}

	return &auth.Principal{
		ID:               user.ID,
		Email:            user.Email,
		EmailConfirmedAt: parseConfirmedAt(user.EmailConfirmedAt),
		Metadata:         user.UserMetadata,
	}, nil
}

// parseConfirmedAt treats null, empty and unparsable timestamps as an
// unconfirmed email.
func parseConfirmedAt(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &ts
}
