package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avaguard/internal/api"
	"github.com/vyrodovalexey/avaguard/internal/auth"
	authjwt "github.com/vyrodovalexey/avaguard/internal/auth/jwt"
	"github.com/vyrodovalexey/avaguard/internal/auth/supabase"
	"github.com/vyrodovalexey/avaguard/internal/authz"
	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/gate"
	"github.com/vyrodovalexey/avaguard/internal/health"
	"github.com/vyrodovalexey/avaguard/internal/middleware"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/profile"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit/store"
	"github.com/vyrodovalexey/avaguard/internal/server"
)

// application holds all application components.
type application struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	server  *server.Server
	quotas  *config.QuotaWatcher

	// closers run in reverse order on shutdown.
	closers []func() error
	cancel  context.CancelFunc
}

// initApplication wires every component from cfg. Background work it
// starts (JWKS refresh, quota watching) lives until the application is
// shut down.
func initApplication(parent context.Context, cfg *config.Config, logger observability.Logger) (app *application, err error) {
	ctx, cancel := context.WithCancel(parent)

	metrics := observability.NewMetrics("avaguard")
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	reg := metrics.Registry()

	app = &application{cfg: cfg, logger: logger, metrics: metrics, cancel: cancel}
	defer func() {
		if err != nil {
			_ = app.close()
		}
	}()

	app.tracer, err = observability.NewTracer(observability.TracerConfig{
		ServiceName:  "avaguard",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		Enabled:      cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return app, fmt.Errorf("tracer: %w", err)
	}

	var checks []health.Check

	counter, err := app.initCounter(reg, &checks)
	if err != nil {
		return app, err
	}

	profiles, err := app.initProfiles(ctx, reg, &checks)
	if err != nil {
		return app, err
	}

	verifier, err := initVerifier(ctx, cfg)
	if err != nil {
		return app, err
	}

	gateOpts := []gate.Option{
		gate.WithLogger(logger.With(observability.Component("gate"))),
		gate.WithMetrics(gate.NewMetrics(reg)),
	}
	if cfg.QuotasFile != "" {
		table := gate.NewQuotaTable()
		if err := app.watchQuotas(ctx, table); err != nil {
			return app, err
		}
		gateOpts = append(gateOpts, gate.WithQuotas(table))
	}

	trust := middleware.NewTrustConfig(cfg.TrustProxy, cfg.TrustProxyHeaders)
	g := gate.New(trust,
		ratelimit.NewLimiter(counter,
			ratelimit.WithLogger(logger.With(observability.Component("ratelimit"))),
			ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
		),
		auth.NewAuthenticator(verifier,
			auth.WithLogger(logger.With(observability.Component("auth"))),
			auth.WithMetrics(auth.NewMetrics(reg)),
		),
		authz.NewAdminAuthorizer(profiles,
			authz.WithLogger(logger.With(observability.Component("authz"))),
			authz.WithMetrics(authz.NewMetrics(reg)),
		),
		gateOpts...,
	)

	handlers := api.NewHandlers(profiles,
		api.WithLogger(logger.With(observability.Component("api"))),
		api.WithImportEnabled(cfg.AdminImportEnabled),
	)
	probes := health.NewHandler(checks,
		health.WithLogger(logger.With(observability.Component("health"))),
		health.WithMetrics(health.NewMetrics(reg)),
	)

	app.server, err = server.New(server.Config{
		Addr:            cfg.Addr,
		MetricsAddr:     cfg.MetricsAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Trust:           trust,
	}, g, handlers.Routes(), probes, metrics,
		server.WithLogger(logger),
		server.WithTracer(app.tracer),
		server.WithMiddlewareMetrics(middleware.NewMetrics(reg)),
	)
	if err != nil {
		return app, err
	}

	logger.Info("gateway initialized",
		observability.String("version", version),
		observability.String("rate_limit_backend", cfg.RateLimitBackend),
		observability.String("profile_backend", cfg.ProfileBackend),
		observability.String("identity_provider", cfg.IdentityProvider),
		observability.Bool("trust_proxy", cfg.TrustProxy),
	)
	return app, nil
}

// initCounter builds the rate-limit counter. The redis counter sits
// behind a circuit breaker so a dead backend fails fast with 503.
func (a *application) initCounter(reg prometheus.Registerer, checks *[]health.Check) (store.Counter, error) {
	storeMetrics := store.NewMetrics(reg)
	zl := observability.Zap(a.logger).Named("ratelimit.store")

	switch a.cfg.RateLimitBackend {
	case config.BackendMemory:
		a.logger.Warn("memory rate-limit counter is per-process; quotas are not shared between instances")
		mem := store.NewMemoryStore(storeMetrics)
		a.closers = append(a.closers, mem.Close)
		return mem, nil

	default:
		redisCfg := store.DefaultRedisConfig()
		redisCfg.URL = a.cfg.RedisURL
		redisCfg.Prefix = a.cfg.RedisPrefix
		redisCfg.Logger = zl
		redisCfg.Metrics = storeMetrics

		rs, err := store.NewRedisStoreWithConfig(redisCfg)
		if err != nil {
			return nil, fmt.Errorf("redis counter: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		*checks = append(*checks, health.PingCheck("redis", rs))

		return store.NewBreakerCounter(rs, store.BreakerConfig{
			Name:      "redis",
			Threshold: int(a.cfg.BreakerThreshold),
			Timeout:   a.cfg.BreakerTimeout,
			Logger:    zl,
			Metrics:   storeMetrics,
		}), nil
	}
}

// initProfiles opens the profile store and applies the schema.
func (a *application) initProfiles(ctx context.Context, reg prometheus.Registerer, checks *[]health.Check) (profile.Store, error) {
	if a.cfg.ProfileBackend == config.BackendMemory {
		a.logger.Warn("memory profile store is empty and not persisted")
		return profile.NewMemoryStore(), nil
	}

	profileMetrics := profile.NewMetrics(reg)
	zl := observability.Zap(a.logger).Named("profile")

	poolCfg := profile.DefaultPoolConfig(a.cfg.DatabaseURL)
	poolCfg.Logger = zl
	poolCfg.Metrics = profileMetrics

	pool, err := profile.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closePool(pool))

	if err := profile.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	*checks = append(*checks, health.PingCheck("postgres", pool))

	return profile.NewPostgresStore(pool, zl, profileMetrics), nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

// initVerifier selects the identity provider.
func initVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	switch cfg.IdentityProvider {
	case config.ProviderJWT:
		v, err := authjwt.NewVerifier(ctx, authjwt.Config{
			Secret:   cfg.JWTSecret,
			JWKSURL:  cfg.JWKSURL,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
		if err != nil {
			return nil, fmt.Errorf("jwt verifier: %w", err)
		}
		return v, nil

	default:
		v, err := supabase.NewVerifier(supabase.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
		})
		if err != nil {
			return nil, fmt.Errorf("supabase verifier: %w", err)
		}
		return v, nil
	}
}

// watchQuotas loads the quota file into table and keeps it current.
func (a *application) watchQuotas(ctx context.Context, table *gate.QuotaTable) error {
	w, err := config.NewQuotaWatcher(a.cfg.QuotasFile, func(f *config.QuotaFile) {
		table.Replace(gateQuotas(f))
	}, config.WithLogger(a.logger.With(observability.Component("quotas"))))
	if err != nil {
		return fmt.Errorf("quota watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return fmt.Errorf("quota file: %w", err)
	}
	a.quotas = w
	return nil
}

func gateQuotas(f *config.QuotaFile) map[string]gate.Quota {
	out := make(map[string]gate.Quota, len(f.Quotas))
	for scope, q := range f.Quotas {
		out[scope] = gate.Quota{
			IPLimit:   q.IPLimit,
			UserLimit: q.UserLimit,
			Window:    q.Window.Std(),
		}
	}
	return out
}

// close releases everything initApplication acquired.
func (a *application) close() error {
	var errs []error
	if a.quotas != nil {
		if err := a.quotas.Stop(); err != nil {
			errs = append(errs, err)
		}
		a.quotas = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.cancel != nil {
		a.cancel()
	}
	return errors.Join(errs...)
}
