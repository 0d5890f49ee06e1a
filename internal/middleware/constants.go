// Package middleware provides HTTP middleware components for the gateway.
package middleware

// HTTP header constants.
const (
	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXRealIP is the X-Real-IP header name.
	HeaderXRealIP = "X-Real-IP"

	// HeaderXClientIP is the X-Client-IP header name.
	HeaderXClientIP = "X-Client-IP"
)

// unknownAddress is the placeholder some proxies write into
// X-Forwarded-For when they cannot determine the peer.
const unknownAddress = "unknown"

// Error response bodies written without the JSON encoder.
const errInternalBody = `{"error":"internal_error"}`
