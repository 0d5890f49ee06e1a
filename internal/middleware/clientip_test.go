package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewTrustConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		order     []string
		wantOrder []string
	}{
		{name: "nil order uses default", order: nil, wantOrder: []string{"x-real-ip", "x-forwarded-for"}},
		{name: "blank entries use default", order: []string{" ", ""}, wantOrder: []string{"x-real-ip", "x-forwarded-for"}},
		{name: "custom order normalized", order: []string{" X-Client-IP", "x-forwarded-for "}, wantOrder: []string{"x-client-ip", "x-forwarded-for"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewTrustConfig(true, tt.order)
			assert.True(t, cfg.TrustProxy)
			assert.Equal(t, tt.wantOrder, cfg.HeaderOrder)
		})
	}
}

func TestNewTrustConfig_DoesNotAliasDefault(t *testing.T) {
	t.Parallel()

	cfg := NewTrustConfig(true, nil)
	cfg.HeaderOrder[0] = "x-mutated"

	assert.Equal(t, "x-real-ip", DefaultProxyHeaderOrder[0])
}

func TestParseHeaderOrder(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ParseHeaderOrder(""))
	assert.Nil(t, ParseHeaderOrder("   "))
	assert.Equal(t, []string{"x-client-ip", " x-forwarded-for"}, ParseHeaderOrder("x-client-ip, x-forwarded-for"))
}

func TestResolveClientIP(t *testing.T) {
	t.Parallel()

	trusted := NewTrustConfig(true, nil)
	untrusted := NewTrustConfig(false, nil)

	tests := []struct {
		name       string
		trust      TrustConfig
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "untrusted ignores headers",
			trust:      untrusted,
			remoteAddr: "192.0.2.10:5555",
			headers: map[string]string{
				"X-Real-IP":       "198.51.100.1",
				"X-Forwarded-For": "198.51.100.2",
			},
			want: "192.0.2.10",
		},
		{
			name:       "untrusted ipv6 remote",
			trust:      untrusted,
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote without port kept verbatim",
			trust:      untrusted,
			remoteAddr: "192.0.2.10",
			want:       "192.0.2.10",
		},
		{
			name:       "real ip wins over forwarded for",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Real-IP":       " 198.51.100.1 ",
				"X-Forwarded-For": "198.51.100.2",
			},
			want: "198.51.100.1",
		},
		{
			name:       "first non unknown forwarded token",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "unknown, 203.0.113.9, 10.0.0.1",
			},
			want: "203.0.113.9",
		},
		{
			name:       "unknown is case insensitive",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "UNKNOWN,,203.0.113.9",
			},
			want: "203.0.113.9",
		},
		{
			name:       "all unknown falls back to remote",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "unknown, unknown",
			},
			want: "10.0.0.1",
		},
		{
			name:       "blank real ip skipped",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Real-IP":       "   ",
				"X-Forwarded-For": "203.0.113.7",
			},
			want: "203.0.113.7",
		},
		{
			name:       "no headers falls back to remote",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			want:       "10.0.0.1",
		},
		{
			name:       "single value header not validated",
			trust:      trusted,
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Real-IP": "not-an-ip",
			},
			want: "not-an-ip",
		},
		{
			name:       "custom order puts client ip first",
			trust:      NewTrustConfig(true, ParseHeaderOrder("x-client-ip, x-forwarded-for")),
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.9",
				"X-Client-IP":     "198.51.100.44",
			},
			want: "198.51.100.44",
		},
		{
			name:       "header outside the order is ignored",
			trust:      NewTrustConfig(true, []string{"x-forwarded-for"}),
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Real-IP": "198.51.100.1",
			},
			want: "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, ResolveClientIP(req, tt.trust))
		})
	}
}

func TestResolveClientIP_HeaderSpoofingInertWithoutTrust(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		remote := rapid.StringMatching(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`).Draw(t, "remote")
		order := rapid.SliceOfN(rapid.SampledFrom([]string{"x-real-ip", "x-forwarded-for", "x-client-ip"}), 0, 3).Draw(t, "order")
		realIP := rapid.String().Draw(t, "realIP")
		forwarded := rapid.String().Draw(t, "forwarded")
		clientIP := rapid.String().Draw(t, "clientIP")

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote + ":1234"
		req.Header[http.CanonicalHeaderKey("x-real-ip")] = []string{realIP}
		req.Header[http.CanonicalHeaderKey("x-forwarded-for")] = []string{forwarded}
		req.Header[http.CanonicalHeaderKey("x-client-ip")] = []string{clientIP}

		if got := ResolveClientIP(req, NewTrustConfig(false, order)); got != remote {
			t.Fatalf("got %q, want transport address %q", got, remote)
		}
	})
}

func TestResolveClientIP_RealIPWinsWhenTrusted(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		realIP := rapid.StringMatching(`[0-9a-f:.]{1,39}`).Draw(t, "realIP")
		forwarded := rapid.StringMatching(`[0-9., ]{0,40}`).Draw(t, "forwarded")

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:80"
		req.Header.Set("X-Real-IP", realIP)
		req.Header.Set("X-Forwarded-For", forwarded)

		if got := ResolveClientIP(req, NewTrustConfig(true, nil)); got != realIP {
			t.Fatalf("got %q, want %q", got, realIP)
		}
	})
}

func TestClientIPMiddleware(t *testing.T) {
	t.Parallel()

	var got string
	handler := ClientIP(NewTrustConfig(true, nil))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = ClientIPFromContext(r.Context())
		require.True(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.9", got)

	_, ok := ClientIPFromContext(req.Context())
	assert.False(t, ok)
}
