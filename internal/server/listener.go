package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// Listener serves one handler on one TCP address.
type Listener struct {
	name    string
	addr    string
	handler http.Handler
	logger  observability.Logger

	server  *http.Server
	running atomic.Bool

	mu    sync.RWMutex
	bound net.Addr
}

// NewListener creates a listener. Use ":0" to pick a free port.
func NewListener(name, addr string, handler http.Handler, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Listener{name: name, addr: addr, handler: handler, logger: logger}
}

// Name returns the listener name.
func (l *Listener) Name() string { return l.name }

// Addr returns the bound address once started, else the configured one.
func (l *Listener) Addr() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.bound != nil {
		return l.bound.String()
	}
	return l.addr
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener %s is already running", l.name)
	}

	l.server = &http.Server{
		Addr:              l.addr,
		Handler:           l.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.bound = ln.Addr()
	l.mu.Unlock()
	l.running.Store(true)

	l.logger.Info("listener started",
		observability.String("name", l.name),
		observability.String("address", ln.Addr().String()),
	)

	go l.serve(ln)
	return nil
}

func (l *Listener) serve(ln net.Listener) {
	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("name", l.name),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop drains in-flight requests until ctx expires, then closes.
func (l *Listener) Stop(ctx context.Context) error {
	if l.server == nil {
		return nil
	}

	l.logger.Info("stopping listener", observability.String("name", l.name))

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}

	l.running.Store(false)
	l.logger.Info("listener stopped", observability.String("name", l.name))
	return nil
}

// IsRunning reports whether the listener is serving.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
