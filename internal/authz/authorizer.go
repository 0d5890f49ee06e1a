package authz

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/auth"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/profile"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

var authzTracer = otel.Tracer("avaguard/authz")

var errMigrationFailed = errors.New("legacy admin migration failed")

// AdminAuthorizer answers administrator checks against a profile store.
type AdminAuthorizer struct {
	store   profile.Store
	logger  observability.Logger
	metrics *Metrics
}

// Option configures an AdminAuthorizer.
type Option func(*AdminAuthorizer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *AdminAuthorizer) { a.logger = logger }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *AdminAuthorizer) { a.metrics = m }
}

// NewAdminAuthorizer creates an AdminAuthorizer over store.
func NewAdminAuthorizer(store profile.Store, opts ...Option) *AdminAuthorizer {
	a := &AdminAuthorizer{
		store:  store,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(nil)
	}
	return a
}

// IsAdmin reports whether p holds administrator privilege. It never
// returns true on a store error, a panic, or a failed migration write.
func (a *AdminAuthorizer) IsAdmin(ctx context.Context, p *auth.Principal) bool {
	start := time.Now()

	ctx, span := authzTracer.Start(ctx, "authz.is_admin",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	outcome, err := util.FailClosed(Outcome{}, func() (Outcome, error) {
		return a.resolve(ctx, p)
	})

	logger := a.logger.WithContext(ctx)
	if p != nil {
		logger = logger.With(observability.String("user_id", p.ID))
	}

	span.SetAttributes(
		attribute.Bool("authz.admin", outcome.Admin),
		attribute.String("authz.reason", string(outcome.Reason)),
	)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "admin check failed")
		a.metrics.recordDecision(resultError, start)
		logger.Error("admin check failed, denying", observability.Error(err))
		return false
	case outcome.Admin && outcome.Upsert != nil:
		a.metrics.recordDecision(resultMigrated, start)
		logger.Info("legacy admin profile migrated")
		return true
	case outcome.Admin:
		a.metrics.recordDecision(resultAdmin, start)
		return true
	default:
		a.metrics.recordDecision(resultDenied, start)
		logger.Debug("admin check denied", observability.String("reason", string(outcome.Reason)))
		return false
	}
}

// resolve runs Evaluate against the store, fetching by email and writing
// the migration record only when Evaluate asks for it.
func (a *AdminAuthorizer) resolve(ctx context.Context, p *auth.Principal) (Outcome, error) {
	if p == nil || p.ID == "" {
		return Evaluate(nil, nil, p), nil
	}

	byID, err := a.store.FindByID(ctx, p.ID)
	if err != nil {
		return Outcome{Reason: ReasonProfileNotAdmin}, err
	}

	outcome := Evaluate(byID, nil, p)
	if !outcome.NeedsEmailLookup {
		return outcome, nil
	}

	byEmail, err := a.store.FindByEmail(ctx, p.Email)
	if err != nil {
		return Outcome{Reason: ReasonLookupEmail}, err
	}
	if byEmail == nil {
		return Outcome{Reason: ReasonNoLegacyProfile}, nil
	}

	outcome = Evaluate(byID, byEmail, p)
	if outcome.Upsert == nil {
		return outcome, nil
	}

	if err := a.store.Upsert(ctx, outcome.Upsert); err != nil {
		a.metrics.recordMigration(false)
		return Outcome{Reason: ReasonLegacyMigration}, errors.Join(errMigrationFailed, err)
	}
	a.metrics.recordMigration(true)
	return outcome, nil
}
