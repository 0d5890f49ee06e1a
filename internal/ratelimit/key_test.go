package ratelimit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		scope    string
		identity Identity
		want     string
	}{
		{
			name:     "user",
			scope:    "me",
			identity: UserIdentity("8d0f"),
			want:     "rl:me:u:8d0f",
		},
		{
			name:     "address is hashed",
			scope:    "admin:status",
			identity: AddressIdentity("127.0.0.1"),
			// sha256("127.0.0.1") = 12ca17b49af2289436f303e0166030a21e525d266e209267433801a8fd4071a0
			want: "rl:admin:status:ip:12ca17b49af2289436f303e0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Key(tt.scope, tt.identity))
		})
	}
}

func TestKey_AddressNeverRaw(t *testing.T) {
	t.Parallel()

	key := Key("me", AddressIdentity("203.0.113.9"))
	assert.NotContains(t, key, "203.0.113.9")
	assert.Len(t, strings.TrimPrefix(key, "rl:me:ip:"), addressHashLength)
}

func TestIdentityKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user", IdentityUser.String())
	assert.Equal(t, "ip", IdentityAddress.String())
}
