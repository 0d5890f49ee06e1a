package main

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// run serves until ctx is cancelled, then shuts down.
func (a *application) run(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		_ = a.close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("received shutdown signal")

	return a.shutdown()
}

// shutdown drains the listeners before releasing the backends they use.
func (a *application) shutdown() error {
	// ctx is already done when this runs, so the drain gets a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var firstErr error
	record := func(msg string, err error) {
		if err == nil {
			return
		}
		a.logger.Error(msg, observability.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	record("failed to stop server gracefully", a.server.Stop(shutdownCtx))
	record("failed to release backends", a.close())

	if a.tracer != nil {
		record("failed to shutdown tracer", a.tracer.Shutdown(shutdownCtx))
	}

	a.logger.Info("gateway stopped")
	return firstErr
}
