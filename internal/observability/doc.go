// Package observability provides logging, metrics, and tracing for the
// gateway.
//
// Logging is structured via zap behind the Logger interface:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.WithContext(ctx).Warn("admission denied",
//	    observability.String("code", "rate_limited"),
//	)
//
// Metrics owns the Prometheus registry served on /metrics. Component
// packages (auth, authz, ratelimit, gate) register their own collectors
// against Metrics.Registry().
//
// Tracing uses OpenTelemetry with an optional OTLP gRPC exporter. With
// tracing disabled the Tracer still works and produces no-op spans.
package observability
