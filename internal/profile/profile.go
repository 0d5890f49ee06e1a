// Package profile stores the per-user records that carry administrator
// privilege.
//
// Lookups return (nil, nil) when no record matches; an error always means
// the store could not answer. Records are never deleted through this
// package.
package profile

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidProfile is returned by Upsert for a profile without an ID.
var ErrInvalidProfile = errors.New("profile: id is required")

// Profile is the stored privilege record for a user.
type Profile struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// Store reads and writes profiles.
type Store interface {
	// FindByID returns the profile keyed by id.
	FindByID(ctx context.Context, id string) (*Profile, error)

	// FindByEmail returns a profile whose email matches case-insensitively.
	// With duplicates, an admin record wins.
	FindByEmail(ctx context.Context, email string) (*Profile, error)

	// Upsert creates or replaces the profile keyed by p.ID.
	Upsert(ctx context.Context, p *Profile) error
}

// NormalizeEmail trims and lower-cases an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
