// Package server assembles the HTTP surface of the gateway: the gin
// engine with gated API routes and probes, the shared middleware chain,
// and the separate metrics listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avaguard/internal/api"
	"github.com/vyrodovalexey/avaguard/internal/gate"
	"github.com/vyrodovalexey/avaguard/internal/health"
	"github.com/vyrodovalexey/avaguard/internal/middleware"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// State is the server lifecycle state.
type State int32

// Lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds the listener addresses.
type Config struct {
	Addr            string
	MetricsAddr     string
	ShutdownTimeout time.Duration
	Trust           middleware.TrustConfig
}

// Server owns the API and metrics listeners.
type Server struct {
	cfg     Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	mwm     *middleware.Metrics
	probes  *health.Handler

	engine  *gin.Engine
	handler http.Handler
	api     *Listener
	admin   *Listener

	state atomic.Int32
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTracer enables request spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// WithMiddlewareMetrics sets the recovery counter.
func WithMiddlewareMetrics(m *middleware.Metrics) Option {
	return func(s *Server) { s.mwm = m }
}

// New builds the engine, guarding every route with g.
func New(
	cfg Config,
	g *gate.Gate,
	routes []api.Route,
	probes *health.Handler,
	metrics *observability.Metrics,
	opts ...Option,
) (*Server, error) {
	if g == nil {
		return nil, errors.New("server: gate is required")
	}
	if probes == nil {
		return nil, errors.New("server: health handler is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		logger:  observability.NopLogger(),
		metrics: metrics,
		probes:  probes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	if metrics != nil {
		s.engine.Use(requestMetrics(metrics))
	}

	probes.RegisterRoutes(s.engine)
	gated := make(map[string]http.Handler, len(routes))
	for _, route := range routes {
		h, err := g.Protect(route.Policy, route.Handler)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Path, err)
		}
		// The gate answers 405 itself, so every method reaches it.
		gated[route.Path] = h
		s.engine.Any(route.Path, gin.WrapH(h))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		// Any covers the standard methods only; the rest land here.
		if h, ok := gated[c.Request.URL.Path]; ok {
			h.ServeHTTP(c.Writer, c.Request)
			return
		}
		_ = util.WriteJSON(c.Writer, http.StatusNotFound, gate.ErrorResponse{
			Error:   "not_found",
			TraceID: observability.RequestIDFromContext(c.Request.Context()),
		})
	})

	s.handler = s.chain(s.engine)
	s.state.Store(int32(StateStopped))
	return s, nil
}

// chain wraps h with the shared middleware. Outermost first:
// Recovery -> RequestID -> ClientIP -> AccessLog -> Tracing ->
// SecurityHeaders -> engine. ClientIP precedes AccessLog so the log
// shows the address the rate limiter keyed on.
func (s *Server) chain(h http.Handler) http.Handler {
	h = middleware.SecurityHeaders()(h)
	if s.tracer != nil {
		h = observability.TracingMiddleware(s.tracer)(h)
	}
	h = middleware.AccessLog(s.logger)(h)
	h = middleware.ClientIP(s.cfg.Trust)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(s.logger, s.mwm)(h)
	return h
}

// Handler returns the full API handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start opens the listeners.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return errors.New("server is not in stopped state")
	}

	if s.cfg.MetricsAddr != "" && s.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		s.admin = NewListener("metrics", s.cfg.MetricsAddr, mux, s.logger)
		if err := s.admin.Start(ctx); err != nil {
			s.state.Store(int32(StateStopped))
			return err
		}
	}

	s.api = NewListener("api", s.cfg.Addr, s.handler, s.logger)
	if err := s.api.Start(ctx); err != nil {
		if s.admin != nil {
			_ = s.admin.Stop(ctx)
		}
		s.state.Store(int32(StateStopped))
		return err
	}

	s.state.Store(int32(StateRunning))
	s.logger.Info("server started", observability.String("address", s.api.Addr()))
	return nil
}

// Stop marks the server as draining, then shuts the listeners down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return errors.New("server is not running")
	}
	defer s.state.Store(int32(StateStopped))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	s.probes.SetDraining(true)

	var errs []error
	if err := s.api.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.admin != nil {
		if err := s.admin.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound API address.
func (s *Server) Addr() string {
	if s.api == nil {
		return s.cfg.Addr
	}
	return s.api.Addr()
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

// requestMetrics records each request against its route pattern.
func requestMetrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncrementActiveRequests()
		defer m.DecrementActiveRequests()

		c.Next()

		m.RecordRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
