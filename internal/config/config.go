// Package config loads gateway settings from the environment and route
// quotas from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Backend and provider names.
const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	ProviderSupabase = "supabase"
	ProviderJWT      = "jwt"
)

// Environment variable names.
const (
	EnvAddr                = "GATEWAY_ADDR"
	EnvMetricsAddr         = "METRICS_ADDR"
	EnvShutdownTimeout     = "SHUTDOWN_TIMEOUT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLogFormat           = "LOG_FORMAT"
	EnvTrustProxy          = "TRUST_PROXY"
	EnvTrustProxyHeaders   = "TRUST_PROXY_HEADERS"
	EnvRateLimitBackend    = "RATE_LIMIT_BACKEND"
	EnvRedisURL            = "REDIS_URL"
	EnvRedisPrefix         = "REDIS_PREFIX"
	EnvProfileBackend      = "PROFILE_BACKEND"
	EnvDatabaseURL         = "DATABASE_URL"
	EnvIdentityProvider    = "IDENTITY_PROVIDER"
	EnvSupabaseURL         = "SUPABASE_URL"
	EnvSupabaseServiceKey  = "SUPABASE_SERVICE_ROLE_KEY"
	EnvJWTSecret           = "AUTH_JWT_SECRET"
	EnvJWKSURL             = "AUTH_JWKS_URL"
	EnvJWTIssuer           = "AUTH_JWT_ISSUER"
	EnvJWTAudience         = "AUTH_JWT_AUDIENCE"
	EnvAdminImportEnabled  = "ADMIN_IMPORT_ENABLED"
	EnvQuotasFile          = "QUOTAS_FILE"
	EnvOTLPEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvTracingSamplingRate = "TRACING_SAMPLING_RATE"
	EnvBreakerThreshold    = "COUNTER_BREAKER_THRESHOLD"
	EnvBreakerTimeout      = "COUNTER_BREAKER_TIMEOUT"
)

// Config is the process configuration. It is built once at startup and
// never mutated afterwards.
type Config struct {
	Addr            string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	TrustProxy        bool
	TrustProxyHeaders []string

	RateLimitBackend string
	RedisURL         string
	RedisPrefix      string

	ProfileBackend string
	DatabaseURL    string

	IdentityProvider   string
	SupabaseURL        string
	SupabaseServiceKey string
	JWTSecret          string
	JWKSURL            string
	JWTIssuer          string
	JWTAudience        string

	AdminImportEnabled bool
	QuotasFile         string

	OTLPEndpoint        string
	TracingSamplingRate float64

	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		Addr:                ":8080",
		MetricsAddr:         ":9090",
		ShutdownTimeout:     30 * time.Second,
		LogLevel:            "info",
		LogFormat:           "json",
		RateLimitBackend:    BackendRedis,
		RedisPrefix:         "avaguard:",
		ProfileBackend:      BackendPostgres,
		IdentityProvider:    ProviderSupabase,
		TracingSamplingRate: 1.0,
		BreakerThreshold:    5,
		BreakerTimeout:      30 * time.Second,
	}
}

// LookupFunc reads one variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv loads and validates configuration from the process
// environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup and validates it.
func Load(lookup LookupFunc) (*Config, error) {
	e := env{lookup: lookup}
	cfg := Default()

	cfg.Addr = e.string(EnvAddr, cfg.Addr)
	cfg.MetricsAddr = e.string(EnvMetricsAddr, cfg.MetricsAddr)
	cfg.ShutdownTimeout = e.duration(EnvShutdownTimeout, cfg.ShutdownTimeout)
	cfg.LogLevel = e.string(EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = e.string(EnvLogFormat, cfg.LogFormat)

	cfg.TrustProxy = e.bool(EnvTrustProxy, false)
	cfg.TrustProxyHeaders = splitList(e.string(EnvTrustProxyHeaders, ""))

	cfg.RateLimitBackend = strings.ToLower(e.string(EnvRateLimitBackend, cfg.RateLimitBackend))
	cfg.RedisURL = e.string(EnvRedisURL, "")
	cfg.RedisPrefix = e.string(EnvRedisPrefix, cfg.RedisPrefix)

	cfg.ProfileBackend = strings.ToLower(e.string(EnvProfileBackend, cfg.ProfileBackend))
	cfg.DatabaseURL = e.string(EnvDatabaseURL, "")

	cfg.IdentityProvider = strings.ToLower(e.string(EnvIdentityProvider, cfg.IdentityProvider))
	cfg.SupabaseURL = e.string(EnvSupabaseURL, "")
	cfg.SupabaseServiceKey = e.string(EnvSupabaseServiceKey, "")
	cfg.JWTSecret = e.string(EnvJWTSecret, "")
	cfg.JWKSURL = e.string(EnvJWKSURL, "")
	cfg.JWTIssuer = e.string(EnvJWTIssuer, "")
	cfg.JWTAudience = e.string(EnvJWTAudience, "")

	cfg.AdminImportEnabled = e.bool(EnvAdminImportEnabled, false)
	cfg.QuotasFile = e.string(EnvQuotasFile, "")

	cfg.OTLPEndpoint = e.string(EnvOTLPEndpoint, "")
	cfg.TracingSamplingRate = e.float(EnvTracingSamplingRate, cfg.TracingSamplingRate)

	cfg.BreakerThreshold = e.uint32(EnvBreakerThreshold, cfg.BreakerThreshold)
	cfg.BreakerTimeout = e.duration(EnvBreakerTimeout, cfg.BreakerTimeout)

	if len(e.errs) > 0 {
		return nil, util.NewConfigErrorWithCause("environment", "malformed value", errors.Join(e.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, util.NewConfigError(EnvAddr, "must not be empty"))
	}

	switch c.RateLimitBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, util.NewConfigError(EnvRedisURL, "required for the redis rate limit backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, util.NewConfigError(EnvRateLimitBackend, fmt.Sprintf("unknown backend %q", c.RateLimitBackend)))
	}

	switch c.ProfileBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, util.NewConfigError(EnvDatabaseURL, "required for the postgres profile backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, util.NewConfigError(EnvProfileBackend, fmt.Sprintf("unknown backend %q", c.ProfileBackend)))
	}

	switch c.IdentityProvider {
	case ProviderSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			errs = append(errs, util.NewConfigError(EnvSupabaseURL,
				"supabase provider requires "+EnvSupabaseURL+" and "+EnvSupabaseServiceKey))
		}
	case ProviderJWT:
		if (c.JWTSecret == "") == (c.JWKSURL == "") {
			errs = append(errs, util.NewConfigError(EnvJWTSecret,
				"jwt provider requires exactly one of "+EnvJWTSecret+" and "+EnvJWKSURL))
		}
	default:
		errs = append(errs, util.NewConfigError(EnvIdentityProvider, fmt.Sprintf("unknown provider %q", c.IdentityProvider)))
	}

	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, util.NewConfigError(EnvTracingSamplingRate, "must be between 0 and 1"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, util.NewConfigError(EnvShutdownTimeout, "must be positive"))
	}

	return errors.Join(errs...)
}

// env reads typed values and collects parse errors.
type env struct {
	lookup LookupFunc
	errs   []error
}

func (e *env) string(key, def string) string {
	if v, ok := e.lookup(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

// bool accepts true/1/yes/on and false/0/no/off, case-insensitively.
func (e *env) bool(key string, def bool) bool {
	raw := e.string(key, "")
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		e.errs = append(e.errs, fmt.Errorf("%s: not a boolean: %q", key, raw))
		return def
	}
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.string(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) float(key string, def float64) float64 {
	raw := e.string(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) uint32(key string, def uint32) uint32 {
	raw := e.string(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return uint32(n)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
