// Package gate runs the admission checks in front of a protected handler.
//
// Checks run in a fixed order and stop at the first denial:
//
//  1. method (405 with Allow)
//  2. per-address quota (429 or 503)
//  3. bearer token (401)
//  4. per-user quota (429 or 503)
//  5. administrator privilege (403)
//
// The handler only runs when every check that the route's Policy asks for
// has passed; the principal is then available from the request context.
package gate

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/auth"
	"github.com/vyrodovalexey/avaguard/internal/authz"
	"github.com/vyrodovalexey/avaguard/internal/middleware"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

var gateTracer = otel.Tracer("avaguard/gate")

// ErrMethodNotAllowed is the denial for a method the route does not accept.
var ErrMethodNotAllowed = errors.New("method_not_allowed")

// Limiter is the rate-limit stage.
type Limiter interface {
	Enforce(ctx context.Context, scope string, identity ratelimit.Identity, limit int64, window time.Duration) ratelimit.Decision
}

// Authenticator is the token stage.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*auth.Principal, error)
}

// Authorizer is the administrator stage.
type Authorizer interface {
	IsAdmin(ctx context.Context, p *auth.Principal) bool
}

// ErrorResponse is the body of every denial.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// Gate wraps handlers with the admission checks.
type Gate struct {
	trust         middleware.TrustConfig
	limiter       Limiter
	authenticator Authenticator
	authorizer    Authorizer
	quotas        *QuotaTable
	logger        observability.Logger
	metrics       *Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithMetrics sets the gate metrics.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New creates a Gate. The client address is resolved with trust unless an
// upstream middleware.ClientIP already stored it.
func New(trust middleware.TrustConfig, limiter Limiter, authenticator Authenticator, authorizer Authorizer, opts ...Option) *Gate {
	g := &Gate{
		trust:         trust,
		limiter:       limiter,
		authenticator: authenticator,
		authorizer:    authorizer,
		logger:        observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	return g
}

// Protect returns next guarded by policy.
func (g *Gate) Protect(policy Policy, next http.Handler) (http.Handler, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy = policy.normalized()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := gateTracer.Start(r.Context(), "gate.protect",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attribute.String("gate.scope", policy.Scope)),
		)
		defer span.End()

		ctx, outcome := g.admit(ctx, r.WithContext(ctx), w, g.effective(policy))
		span.SetAttributes(attribute.String("gate.outcome", outcome))
		g.metrics.record(policy.Scope, outcome, start)

		if outcome != outcomeProceed {
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	}), nil
}

// admit runs the checks. On denial it writes the response and returns the
// denial code; on success it returns outcomeProceed and the enriched ctx.
func (g *Gate) admit(ctx context.Context, r *http.Request, w http.ResponseWriter, policy Policy) (context.Context, string) {
	logger := g.logger.WithContext(ctx).With(observability.String("scope", policy.Scope))

	if !policy.allows(r.Method) {
		w.Header().Set("Allow", policy.allowHeader())
		g.deny(ctx, w, http.StatusMethodNotAllowed, ErrMethodNotAllowed.Error())
		return ctx, ErrMethodNotAllowed.Error()
	}

	if policy.IPLimit > 0 {
		addr := g.clientAddress(r)
		d := g.limiter.Enforce(ctx, policy.Scope, ratelimit.AddressIdentity(addr), policy.IPLimit, policy.Window)
		if !d.Allowed {
			g.denyRateLimit(ctx, w, d)
			logger.Debug("address quota denied request", observability.String("code", d.Code()))
			return ctx, d.Code()
		}
	}

	if !policy.requiresAuth() {
		return ctx, outcomeProceed
	}

	principal, err := g.authenticator.Authenticate(ctx, r)
	if err != nil {
		code := auth.Code(err)
		g.deny(ctx, w, http.StatusUnauthorized, code)
		return ctx, code
	}
	ctx = auth.ContextWithPrincipal(ctx, principal)
	ctx = observability.ContextWithUserID(ctx, principal.ID)
	logger = logger.With(observability.String("user_id", principal.ID))

	if policy.UserLimit > 0 {
		d := g.limiter.Enforce(ctx, policy.Scope, ratelimit.UserIdentity(principal.ID), policy.UserLimit, policy.Window)
		if !d.Allowed {
			g.denyRateLimit(ctx, w, d)
			logger.Debug("user quota denied request", observability.String("code", d.Code()))
			return ctx, d.Code()
		}
	}

	if policy.RequireAdmin {
		if !g.authorizer.IsAdmin(ctx, principal) {
			g.deny(ctx, w, http.StatusForbidden, authz.ErrForbidden.Error())
			logger.Info("non-admin denied on admin route")
			return ctx, authz.ErrForbidden.Error()
		}
		ctx = contextWithAdmin(ctx)
	}

	return ctx, outcomeProceed
}

func (g *Gate) clientAddress(r *http.Request) string {
	if addr, ok := middleware.ClientIPFromContext(r.Context()); ok {
		return addr
	}
	return middleware.ResolveClientIP(r, g.trust)
}

func (g *Gate) denyRateLimit(ctx context.Context, w http.ResponseWriter, d ratelimit.Decision) {
	status := d.Status
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
	}
	g.deny(ctx, w, status, d.Code())
}

func (g *Gate) deny(ctx context.Context, w http.ResponseWriter, status int, code string) {
	body := ErrorResponse{Error: code, TraceID: traceID(ctx)}
	if err := util.WriteJSON(w, status, body); err != nil {
		g.logger.WithContext(ctx).Debug("failed to write denial", observability.Error(err))
	}
}

func traceID(ctx context.Context) string {
	if id := observability.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

type adminKey struct{}

func contextWithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey{}, true)
}

// AdminFromContext reports whether the gate verified administrator
// privilege for this request.
func AdminFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey{}).(bool)
	return v
}
