package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaguard/internal/auth"
	"github.com/vyrodovalexey/avaguard/internal/authz"
	"github.com/vyrodovalexey/avaguard/internal/middleware"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/profile"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit/store"
)

type enforceCall struct {
	scope    string
	identity ratelimit.Identity
	limit    int64
}

type fakeLimiter struct {
	mu        sync.Mutex
	calls     []enforceCall
	decisions map[ratelimit.IdentityKind]ratelimit.Decision
}

func (l *fakeLimiter) Enforce(_ context.Context, scope string, id ratelimit.Identity, limit int64, _ time.Duration) ratelimit.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, enforceCall{scope: scope, identity: id, limit: limit})
	if d, ok := l.decisions[id.Kind]; ok {
		return d
	}
	return ratelimit.Decision{Allowed: true, Status: http.StatusOK}
}

type fakeAuthenticator struct {
	calls     int
	principal *auth.Principal
	err       error
}

func (a *fakeAuthenticator) Authenticate(context.Context, *http.Request) (*auth.Principal, error) {
	a.calls++
	return a.principal, a.err
}

type fakeAuthorizer struct {
	calls int
	admin bool
}

func (a *fakeAuthorizer) IsAdmin(context.Context, *auth.Principal) bool {
	a.calls++
	return a.admin
}

var (
	limited = ratelimit.Decision{
		Err:        ratelimit.ErrLimitExceeded,
		Status:     http.StatusTooManyRequests,
		RetryAfter: 1500 * time.Millisecond,
	}
	unavailable = ratelimit.Decision{
		Err:    ratelimit.ErrUnavailable,
		Status: http.StatusServiceUnavailable,
	}
	adminPolicy = Policy{
		Methods:      GetOnly,
		Scope:        "admin:status",
		IPLimit:      20,
		UserLimit:    20,
		Window:       300 * time.Second,
		RequireAdmin: true,
	}
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGate_Protect(t *testing.T) {
	t.Parallel()

	alice := &auth.Principal{ID: "u-alice", Email: "alice@example.com"}

	tests := []struct {
		name          string
		method        string
		policy        Policy
		limiter       *fakeLimiter
		authenticator *fakeAuthenticator
		authorizer    *fakeAuthorizer

		wantStatus     int
		wantCode       string
		wantHandler    bool
		wantLimiter    int
		wantAuthCalls  int
		wantAdminCalls int
		wantAllow      string
		wantRetryAfter string
	}{
		{
			name:          "unsupported method stops before any check",
			method:        http.MethodPost,
			policy:        adminPolicy,
			limiter:       &fakeLimiter{},
			authenticator: &fakeAuthenticator{principal: alice},
			authorizer:    &fakeAuthorizer{admin: true},
			wantStatus:    http.StatusMethodNotAllowed,
			wantCode:      "method_not_allowed",
			wantAllow:     "GET",
		},
		{
			name:          "address quota exceeded",
			method:        http.MethodGet,
			policy:        adminPolicy,
			limiter:       &fakeLimiter{decisions: map[ratelimit.IdentityKind]ratelimit.Decision{ratelimit.IdentityAddress: limited}},
			authenticator: &fakeAuthenticator{principal: alice},
			authorizer:    &fakeAuthorizer{admin: true},
			wantStatus:     http.StatusTooManyRequests,
			wantCode:       "rate_limited",
			wantLimiter:    1,
			wantRetryAfter: "2",
		},
		{
			name:          "counter unavailable fails closed",
			method:        http.MethodGet,
			policy:        adminPolicy,
			limiter:       &fakeLimiter{decisions: map[ratelimit.IdentityKind]ratelimit.Decision{ratelimit.IdentityAddress: unavailable}},
			authenticator: &fakeAuthenticator{principal: alice},
			authorizer:    &fakeAuthorizer{admin: true},
			wantStatus:    http.StatusServiceUnavailable,
			wantCode:      "rate_limit_unavailable",
			wantLimiter:   1,
		},
		{
			name:          "missing token never reaches authorizer",
			method:        http.MethodGet,
			policy:        adminPolicy,
			limiter:       &fakeLimiter{},
			authenticator: &fakeAuthenticator{err: auth.ErrMissingToken},
			authorizer:    &fakeAuthorizer{admin: true},
			wantStatus:    http.StatusUnauthorized,
			wantCode:      "missing_token",
			wantLimiter:   1,
			wantAuthCalls: 1,
		},
		{
			name:          "invalid token",
			method:        http.MethodGet,
			policy:        adminPolicy,
			limiter:       &fakeLimiter{},
			authenticator: &fakeAuthenticator{err: fmt.Errorf("%w: %w", auth.ErrInvalidToken, errors.New("expired"))},
			authorizer:    &fakeAuthorizer{admin: true},
			wantStatus:    http.StatusUnauthorized,
			wantCode:      "invalid_token",
			wantLimiter:   1,
			wantAuthCalls: 1,
		},
		{
			name:          "user quota exceeded",
			method:        http.MethodGet,
			policy:        adminPolicy,
			limiter:       &fakeLimiter{decisions: map[ratelimit.IdentityKind]ratelimit.Decision{ratelimit.IdentityUser: limited}},
			authenticator: &fakeAuthenticator{principal: alice},
			authorizer:    &fakeAuthorizer{admin: true},
			wantStatus:     http.StatusTooManyRequests,
			wantCode:       "rate_limited",
			wantLimiter:    2,
			wantAuthCalls:  1,
			wantRetryAfter: "2",
		},
		{
			name:           "not an admin",
			method:         http.MethodGet,
			policy:         adminPolicy,
			limiter:        &fakeLimiter{},
			authenticator:  &fakeAuthenticator{principal: alice},
			authorizer:     &fakeAuthorizer{admin: false},
			wantStatus:     http.StatusForbidden,
			wantCode:       "forbidden",
			wantLimiter:    2,
			wantAuthCalls:  1,
			wantAdminCalls: 1,
		},
		{
			name:           "admin proceeds",
			method:         http.MethodGet,
			policy:         adminPolicy,
			limiter:        &fakeLimiter{},
			authenticator:  &fakeAuthenticator{principal: alice},
			authorizer:     &fakeAuthorizer{admin: true},
			wantStatus:     http.StatusOK,
			wantHandler:    true,
			wantLimiter:    2,
			wantAuthCalls:  1,
			wantAdminCalls: 1,
		},
		{
			name:          "authenticated route skips authorizer",
			method:        http.MethodGet,
			policy:        Policy{Methods: GetOnly, Scope: "me", IPLimit: 60, Window: time.Minute, RequireAuth: true},
			limiter:       &fakeLimiter{},
			authenticator: &fakeAuthenticator{principal: alice},
			authorizer:    &fakeAuthorizer{},
			wantStatus:    http.StatusOK,
			wantHandler:   true,
			wantLimiter:   1,
			wantAuthCalls: 1,
		},
		{
			name:          "public route skips authentication",
			method:        http.MethodGet,
			policy:        Policy{Methods: GetOnly, Scope: "public", IPLimit: 60, Window: time.Minute},
			limiter:       &fakeLimiter{},
			authenticator: &fakeAuthenticator{err: auth.ErrMissingToken},
			authorizer:    &fakeAuthorizer{},
			wantStatus:    http.StatusOK,
			wantHandler:   true,
			wantLimiter:   1,
		},
		{
			name:          "method match is case-insensitive in policy",
			method:        http.MethodGet,
			policy:        Policy{Methods: []string{"get"}},
			limiter:       &fakeLimiter{},
			authenticator: &fakeAuthenticator{},
			authorizer:    &fakeAuthorizer{},
			wantStatus:    http.StatusOK,
			wantHandler:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := New(middleware.NewTrustConfig(false, nil), tt.limiter, tt.authenticator, tt.authorizer)

			var handlerCalled bool
			h, err := g.Protect(tt.policy, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				if tt.policy.requiresAuth() {
					p, ok := auth.PrincipalFromContext(r.Context())
					assert.True(t, ok)
					assert.Equal(t, tt.authenticator.principal, p)
				}
				assert.Equal(t, tt.policy.RequireAdmin, AdminFromContext(r.Context()))
				w.WriteHeader(http.StatusOK)
			}))
			require.NoError(t, err)

			req := httptest.NewRequest(tt.method, "/api/admin/status", nil)
			req = req.WithContext(observability.ContextWithRequestID(req.Context(), "req-123"))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantHandler, handlerCalled)
			assert.Len(t, tt.limiter.calls, tt.wantLimiter)
			assert.Equal(t, tt.wantAuthCalls, tt.authenticator.calls)
			assert.Equal(t, tt.wantAdminCalls, tt.authorizer.calls)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Allow"))
			assert.Equal(t, tt.wantRetryAfter, rec.Header().Get("Retry-After"))

			if tt.wantCode != "" {
				body := decodeError(t, rec)
				assert.Equal(t, tt.wantCode, body.Error)
				assert.Equal(t, "req-123", body.TraceID)
				assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestGate_LimiterIdentities(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{}
	g := New(middleware.NewTrustConfig(false, nil), limiter,
		&fakeAuthenticator{principal: &auth.Principal{ID: "u-1"}}, &fakeAuthorizer{admin: true})

	h, err := g.Protect(adminPolicy, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	req.Header.Set("X-Real-Ip", "203.0.113.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, limiter.calls, 2)
	assert.Equal(t, enforceCall{scope: "admin:status", identity: ratelimit.AddressIdentity("198.51.100.7"), limit: 20}, limiter.calls[0])
	assert.Equal(t, enforceCall{scope: "admin:status", identity: ratelimit.UserIdentity("u-1"), limit: 20}, limiter.calls[1])
}

func TestGate_UsesResolvedAddressFromContext(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{}
	g := New(middleware.NewTrustConfig(false, nil), limiter, &fakeAuthenticator{}, &fakeAuthorizer{})

	protected, err := g.Protect(Policy{Methods: GetOnly, Scope: "public", IPLimit: 5, Window: time.Minute},
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	require.NoError(t, err)
	h := middleware.ClientIP(middleware.NewTrustConfig(true, nil))(protected)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "unknown, 203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, limiter.calls, 1)
	assert.Equal(t, "203.0.113.9", limiter.calls[0].identity.Value)
}

func TestGate_UserIDReachesHandlerLogs(t *testing.T) {
	t.Parallel()

	g := New(middleware.NewTrustConfig(false, nil), &fakeLimiter{},
		&fakeAuthenticator{principal: &auth.Principal{ID: "u-9"}}, &fakeAuthorizer{})

	var seen string
	h, err := g.Protect(Policy{Methods: GetOnly, Scope: "me", RequireAuth: true},
		http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen = observability.UserIDFromContext(r.Context())
		}))
	require.NoError(t, err)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "u-9", seen)
}

func TestGate_TraceIDGeneratedWhenAbsent(t *testing.T) {
	t.Parallel()

	g := New(middleware.NewTrustConfig(false, nil), &fakeLimiter{}, &fakeAuthenticator{}, &fakeAuthorizer{})
	h, err := g.Protect(Policy{Methods: GetOnly}, http.NotFoundHandler())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec).TraceID)
}

func TestGate_ProtectRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	g := New(middleware.NewTrustConfig(false, nil), &fakeLimiter{}, &fakeAuthenticator{}, &fakeAuthorizer{})

	tests := []struct {
		name   string
		policy Policy
	}{
		{name: "no methods", policy: Policy{}},
		{name: "limit without scope", policy: Policy{Methods: GetOnly, IPLimit: 1, Window: time.Second}},
		{name: "limit without window", policy: Policy{Methods: GetOnly, Scope: "x", IPLimit: 1}},
		{name: "negative limit", policy: Policy{Methods: GetOnly, Scope: "x", IPLimit: -1, Window: time.Second}},
		{name: "user limit without auth", policy: Policy{Methods: GetOnly, Scope: "x", UserLimit: 1, Window: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, err := g.Protect(tt.policy, http.NotFoundHandler())
			assert.Error(t, err)
			assert.Nil(t, h)
		})
	}
}

func TestGate_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	g := New(middleware.NewTrustConfig(false, nil), &fakeLimiter{},
		&fakeAuthenticator{err: auth.ErrMissingToken}, &fakeAuthorizer{}, WithMetrics(m))

	h, err := g.Protect(adminPolicy, http.NotFoundHandler())
	require.NoError(t, err)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("admin:status", "missing_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("admin:status", "method_not_allowed")))
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(10*time.Millisecond))
	assert.Equal(t, 1, retryAfterSeconds(time.Second))
	assert.Equal(t, 2, retryAfterSeconds(1001*time.Millisecond))
	assert.Equal(t, 300, retryAfterSeconds(300*time.Second))
}

// TestGate_EndToEnd wires the real limiter, authenticator and authorizer
// over in-memory backends.
func TestGate_EndToEnd(t *testing.T) {
	t.Parallel()

	counter := store.NewMemoryStore(nil)
	t.Cleanup(func() { _ = counter.Close() })

	confirmed := time.Now()
	verifier := auth.VerifierFunc(func(_ context.Context, token string) (*auth.Principal, error) {
		switch token {
		case "admin-token":
			return &auth.Principal{ID: "new-admin-id", Email: "root@example.com", EmailConfirmedAt: &confirmed}, nil
		case "user-token":
			return &auth.Principal{ID: "user-id", Email: "user@example.com", EmailConfirmedAt: &confirmed}, nil
		default:
			return nil, errors.New("unknown token")
		}
	})
	profiles := profile.NewMemoryStore(profile.Profile{ID: "legacy-id", Email: "root@example.com", IsAdmin: true})

	g := New(
		middleware.NewTrustConfig(false, nil),
		ratelimit.NewLimiter(counter),
		auth.NewAuthenticator(verifier),
		authz.NewAdminAuthorizer(profiles),
	)

	policy := adminPolicy
	policy.IPLimit = 3
	policy.UserLimit = 2
	h, err := g.Protect(policy, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, err)

	do := func(token, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/status", nil)
		req.RemoteAddr = remote
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusUnauthorized, do("forged", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusForbidden, do("user-token", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("admin-token", "10.0.0.1:1").Code, "address quota spent")

	assert.Equal(t, http.StatusNoContent, do("admin-token", "10.0.0.2:1").Code)
	migrated, err := profiles.FindByID(context.Background(), "new-admin-id")
	require.NoError(t, err)
	require.NotNil(t, migrated)
	assert.True(t, migrated.IsAdmin)

	assert.Equal(t, http.StatusNoContent, do("admin-token", "10.0.0.3:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("admin-token", "10.0.0.4:1").Code, "user quota spent")
}
