package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
)

// addressHashLength is the number of hex characters of the address hash
// kept in a counter key.
const addressHashLength = 24

// IdentityKind tells whether a quota is keyed by user or by address.
type IdentityKind int

const (
	// IdentityAddress keys the quota by resolved client address.
	IdentityAddress IdentityKind = iota

	// IdentityUser keys the quota by authenticated user id.
	IdentityUser
)

// String returns the label used in logs and metrics.
func (k IdentityKind) String() string {
	if k == IdentityUser {
		return "user"
	}
	return "ip"
}

// Identity is the second half of a quota bucket; the caller picks it.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// UserIdentity keys a quota by user id.
func UserIdentity(id string) Identity {
	return Identity{Kind: IdentityUser, Value: id}
}

// AddressIdentity keys a quota by client address.
func AddressIdentity(addr string) Identity {
	return Identity{Kind: IdentityAddress, Value: addr}
}

// Key builds the counter key for scope and identity:
//
//	rl:<scope>:u:<user id>
//	rl:<scope>:ip:<first 24 hex chars of sha256(address)>
//
// Addresses are hashed so raw client addresses never land in the counter
// backend.
func Key(scope string, identity Identity) string {
	if identity.Kind == IdentityUser {
		return "rl:" + scope + ":u:" + identity.Value
	}
	sum := sha256.Sum256([]byte(identity.Value))
	return "rl:" + scope + ":ip:" + hex.EncodeToString(sum[:])[:addressHashLength]
}
