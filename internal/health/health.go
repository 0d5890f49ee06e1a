// Package health serves the liveness and readiness probes of the gateway.
//
// Liveness only reports that the process is serving. Readiness runs every
// registered dependency check concurrently and answers 503 when any of them
// fails or when the gateway is draining for shutdown.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// DefaultReadinessTimeout bounds one readiness evaluation.
const DefaultReadinessTimeout = 5 * time.Second

// Status values reported by the probes.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDraining = "draining"
)

// Check is one readiness dependency.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// Status is the readiness response body.
type Status struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler serves the probes.
type Handler struct {
	mu        sync.RWMutex
	checks    []Check
	draining  atomic.Bool
	timeout   time.Duration
	startTime time.Time
	logger    observability.Logger
	metrics   *Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout sets the readiness timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the handler metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a Handler with the given checks.
func NewHandler(checks []Check, opts ...Option) *Handler {
	h := &Handler{
		checks:    append([]Check(nil), checks...),
		timeout:   DefaultReadinessTimeout,
		startTime: time.Now(),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// AddCheck registers another readiness check.
func (h *Handler) AddCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// SetDraining marks the gateway as shutting down. Readiness fails from
// then on so load balancers stop routing new traffic here.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Liveness answers 200 while the process is serving.
func (h *Handler) Liveness(c *gin.Context) {
	h.metrics.probes.WithLabelValues("liveness").Inc()
	c.JSON(http.StatusOK, gin.H{
		"status":    StatusOK,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness runs every check and answers 503 when one fails.
func (h *Handler) Readiness(c *gin.Context) {
	h.metrics.probes.WithLabelValues("readiness").Inc()

	if h.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, &Status{Status: StatusDraining, Timestamp: time.Now().UTC()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := h.Evaluate(ctx)
	code := http.StatusOK
	if status.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// RegisterRoutes mounts /healthz and /readyz.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", h.Liveness)
	engine.GET("/readyz", h.Readiness)
}

// Evaluate runs all checks concurrently.
func (h *Handler) Evaluate(ctx context.Context) *Status {
	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &Status{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)

			h.metrics.observe(c.Name(), err == nil)

			result := &CheckResult{Status: StatusOK, Duration: elapsed.String()}
			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()
				h.logger.Warn("readiness check failed",
					observability.String("check", c.Name()),
					observability.Error(err),
					observability.Duration("duration", elapsed),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name()] = result
			if err != nil {
				status.Status = StatusError
			}
		}(check)
	}
	wg.Wait()

	return status
}
