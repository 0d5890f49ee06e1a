package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const backendRedis = "redis"

// incrementAndCheckScript increments KEYS[1] and opens the window on the
// first hit. A key that somehow lost its TTL gets it back, so a counter can
// never become permanent.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
// Returns {count, ttl_ms}.
var incrementAndCheckScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`)

// RedisStore implements Counter on Redis with a single Lua script per
// call, so the increment and the window expiry are applied atomically.
type RedisStore struct {
	client  redis.Scripter
	closer  func() error
	pinger  func(ctx context.Context) error
	prefix  string
	logger  *zap.Logger
	metrics *Metrics
	closed  bool
	mu      sync.Mutex
}

// RedisConfig holds configuration for Redis store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. When set it takes precedence
	// over Address, Password and DB.
	URL      string
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InitialBackoff is the initial backoff duration for connection retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for connection retries.
	MaxBackoff time.Duration

	// ConnectionRetries is the number of connection retry attempts made
	// at startup.
	ConnectionRetries int

	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Prefix:            "avaguard:",
		PoolSize:          10,
		MinIdleConns:      2,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       1 * time.Second,
		WriteTimeout:      1 * time.Second,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		ConnectionRetries: 5,
	}
}

// NewRedisStore creates a Redis counter store with default settings.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	config := DefaultRedisConfig()
	config.Address = addr
	config.Password = password
	config.DB = db
	if prefix != "" {
		config.Prefix = prefix
	}

	return NewRedisStoreWithConfig(config)
}

// NewRedisStoreWithConfig creates a Redis counter store and waits for the
// server to answer a PING, retrying with decorrelated jitter backoff.
//
// The client itself is configured without command retries: a failed
// increment must surface immediately so the limiter can deny the request.
func NewRedisStoreWithConfig(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	opts, err := redisOptions(config)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	s := &RedisStore{
		client:  client,
		closer:  client.Close,
		pinger:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
		prefix:  config.Prefix,
		logger:  logger,
		metrics: metrics,
	}

	if err := s.connectWithRetry(config); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. No connectivity check
// is made.
func NewRedisStoreFromClient(client *redis.Client, prefix string, metrics *Metrics) *RedisStore {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &RedisStore{
		client:  client,
		closer:  client.Close,
		pinger:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
		prefix:  prefix,
		logger:  zap.NewNop(),
		metrics: metrics,
	}
}

func redisOptions(config *RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if config.URL != "" {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     config.Address,
			Password: config.Password,
			DB:       config.DB,
		}
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns
	opts.MaxRetries = -1
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	return opts, nil
}

func (s *RedisStore) connectWithRetry(config *RedisConfig) error {
	maxRetries := config.ConnectionRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	totalTimeout := time.Duration(maxRetries+1) * dialTimeout
	if totalTimeout > 2*time.Minute {
		totalTimeout = 2 * time.Minute
	}

	overallCtx, cancel := context.WithTimeout(context.Background(), totalTimeout)
	defer cancel()

	backoff := newDecorrelatedJitterBackoff(config.InitialBackoff, config.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(overallCtx, dialTimeout)
		lastErr = s.pinger(pingCtx)
		pingCancel()

		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("redis connection established after retry",
					zap.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		s.metrics.connectionErrors.Inc()

		if attempt == maxRetries {
			break
		}

		wait := backoff.next(attempt)
		s.logger.Debug("redis connection failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		s.metrics.connectionRetries.Inc()

		select {
		case <-overallCtx.Done():
			return fmt.Errorf("redis connection timeout exceeded during backoff: %w", overallCtx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries+1, lastErr)
}

// IncrementAndCheck implements Counter.
func (s *RedisStore) IncrementAndCheck(
	ctx context.Context,
	key string,
	limit int64,
	window time.Duration,
) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis increment: %w", err)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	start := time.Now()
	raw, err := incrementAndCheckScript.Run(ctx, s.client, []string{s.prefix + key}, windowMs).Result()
	s.metrics.operationDuration.WithLabelValues(backendRedis).Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.operationsTotal.WithLabelValues(backendRedis, "error").Inc()
		return nil, fmt.Errorf("redis script error: %w", err)
	}

	count, ttlMs, err := parseScriptReply(raw)
	if err != nil {
		s.metrics.operationsTotal.WithLabelValues(backendRedis, "error").Inc()
		return nil, err
	}

	s.metrics.operationsTotal.WithLabelValues(backendRedis, "success").Inc()
	return newResult(count, limit, time.Duration(ttlMs)*time.Millisecond), nil
}

func parseScriptReply(raw any) (count, ttlMs int64, err error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("redis script returned unexpected reply: %v", raw)
	}
	count, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis script returned unexpected count type: %T", values[0])
	}
	ttlMs, ok = values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis script returned unexpected ttl type: %T", values[1])
	}
	return count, ttlMs, nil
}

// Ping checks connectivity; used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.pinger(ctx)
}

// Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.closer()
}
