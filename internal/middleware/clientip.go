package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// DefaultProxyHeaderOrder is the header priority used when TRUST_PROXY is
// enabled and TRUST_PROXY_HEADERS is not set.
var DefaultProxyHeaderOrder = []string{"x-real-ip", "x-forwarded-for"}

// TrustConfig is the trust boundary for proxy headers. It is built once at
// startup and never mutated, so it is safe for concurrent reads.
type TrustConfig struct {
	// TrustProxy enables reading client addresses from proxy headers.
	// Leave it false unless a reverse proxy sets these headers and strips
	// client-supplied copies.
	TrustProxy bool

	// HeaderOrder lists the headers to consult, highest priority first.
	HeaderOrder []string
}

// NewTrustConfig builds a TrustConfig. Header names are trimmed and
// lower-cased; an empty order falls back to DefaultProxyHeaderOrder.
func NewTrustConfig(trustProxy bool, headerOrder []string) TrustConfig {
	order := make([]string, 0, len(headerOrder))
	for _, h := range headerOrder {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			order = append(order, h)
		}
	}
	if len(order) == 0 {
		order = append(order, DefaultProxyHeaderOrder...)
	}
	return TrustConfig{TrustProxy: trustProxy, HeaderOrder: order}
}

// ParseHeaderOrder splits a comma-separated header list such as the
// TRUST_PROXY_HEADERS value.
func ParseHeaderOrder(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// ResolveClientIP returns the best-available client address for r.
//
// Without TrustProxy it is always the transport address. With TrustProxy
// the configured headers are tried in order; X-Forwarded-For yields its
// first token that is not "unknown", any other header yields its trimmed
// value. The result is an opaque key and is not validated as an IP.
func ResolveClientIP(r *http.Request, trust TrustConfig) string {
	remote := stripPort(r.RemoteAddr)
	if !trust.TrustProxy {
		return remote
	}

	for _, name := range trust.HeaderOrder {
		raw := strings.TrimSpace(r.Header.Get(name))
		if raw == "" {
			continue
		}
		if strings.EqualFold(name, HeaderXForwardedFor) {
			if ip := firstForwarded(raw); ip != "" {
				return ip
			}
			continue
		}
		return raw
	}

	return remote
}

// firstForwarded returns the left-most usable entry of an
// X-Forwarded-For list, which is the originating client.
func firstForwarded(list string) string {
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token == "" || strings.EqualFold(token, unknownAddress) {
			continue
		}
		return token
	}
	return ""
}

// stripPort removes the port from an address string.
// Handles both IPv4 ("192.168.1.1:8080") and IPv6 ("[::1]:8080") formats.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type clientIPKey struct{}

// ClientIP resolves the client address once per request and stores it in
// the request context for the access log and the rate limiter.
func ClientIP(trust TrustConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, ResolveClientIP(r, trust))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromContext returns the address stored by ClientIP.
func ClientIPFromContext(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPKey{}).(string)
	return ip, ok
}
