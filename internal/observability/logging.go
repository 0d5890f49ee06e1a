package observability

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error
}

// Field represents a log field.
type Field = zap.Field

// Field constructors.
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)

// Component tags log lines with the emitting subsystem.
func Component(name string) Field {
	return zap.String("component", name)
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultLogConfig returns JSON at info level on stdout.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json", Output: "stdout"}
}

// NewLogger creates a logger writing to cfg.Output ("stdout" or "stderr").
func NewLogger(cfg LogConfig) (Logger, error) {
	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	return newLogger(cfg, zapcore.Lock(out))
}

// NewLoggerWithWriter creates a logger that writes encoded entries to w.
func NewLoggerWithWriter(cfg LogConfig, w io.Writer) (Logger, error) {
	return newLogger(cfg, zapcore.AddSync(w))
}

func newLogger(cfg LogConfig, out zapcore.WriteSyncer) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	core := zapcore.NewCore(encoder, out, level)
	return &zapLogger{logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}, nil
}

type zapLogger struct {
	logger *zap.Logger
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.logger.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.logger.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}

// WithContext returns a logger carrying the correlation fields found in
// ctx: request_id, trace_id and, once authenticated, user_id.
func (l *zapLogger) WithContext(ctx context.Context) Logger {
	c := correlationFrom(ctx)
	fields := make([]Field, 0, 3)
	if c.requestID != "" {
		fields = append(fields, String("request_id", c.requestID))
	}
	if c.traceID != "" {
		fields = append(fields, String("trace_id", c.traceID))
	}
	if c.userID != "" {
		fields = append(fields, String("user_id", c.userID))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

// NopLogger returns a logger that discards all output.
func NopLogger() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

// Zap returns the zap logger behind l for packages that take one
// directly. Loggers not created by this package yield a no-op logger.
func Zap(l Logger) *zap.Logger {
	if z, ok := l.(*zapLogger); ok {
		return z.logger.WithOptions(zap.AddCallerSkip(-1))
	}
	return zap.NewNop()
}

// correlation is the per-request identity attached to log lines. It is
// stored by value so each layer derives a new context.
type correlation struct {
	requestID string
	traceID   string
	userID    string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, update func(*correlation)) context.Context {
	c := correlationFrom(ctx)
	update(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// ContextWithRequestID records the request ID, echoed to clients as
// trace_id in error bodies.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.requestID = requestID })
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).requestID
}

// ContextWithTraceID records the OpenTelemetry trace ID.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.traceID = traceID })
}

// TraceIDFromContext returns the trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).traceID
}

// ContextWithUserID records the authenticated user.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.userID = userID })
}

// UserIDFromContext returns the authenticated user ID, or "".
func UserIDFromContext(ctx context.Context) string {
	return correlationFrom(ctx).userID
}
