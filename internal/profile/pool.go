package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig configures the Postgres connection pool.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	MaxConnIdle    time.Duration
	ConnectRetries int
	RetryDelay     time.Duration
	PingTimeout    time.Duration
	Logger         *zap.Logger
	Metrics        *Metrics
}

// DefaultPoolConfig returns pool defaults for url.
func DefaultPoolConfig(url string) PoolConfig {
	return PoolConfig{
		URL:            url,
		MaxConns:       10,
		MinConns:       1,
		MaxConnIdle:    5 * time.Minute,
		ConnectRetries: 10,
		RetryDelay:     2 * time.Second,
		PingTimeout:    2 * time.Second,
	}
}

var newPoolWithConfig = pgxpool.NewWithConfig

// NewPool opens a pool and waits until the database answers a ping,
// retrying up to cfg.ConnectRetries times.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("profile: parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdle > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}

	var lastErr error
	for i := range attempts {
		if i > 0 {
			metrics.connectRetries.Inc()
			logger.Warn("retrying database connection",
				zap.Int("attempt", i+1),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("profile: connect: %w", ctx.Err())
			case <-time.After(cfg.RetryDelay):
			}
		}

		pool, err := newPoolWithConfig(ctx, poolCfg)
		if err != nil {
			lastErr = err
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
	}

	return nil, fmt.Errorf("profile: database ping retries exhausted: %w", lastErr)
}
