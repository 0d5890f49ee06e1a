package auth

import (
	"context"
	"time"
)

// Principal is the identity an identity provider vouched for.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`

	// EmailConfirmedAt is nil until the provider has verified Email.
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`

	// Metadata is the provider's raw user metadata, passed through as-is.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EmailConfirmed reports whether the principal has a verified email.
func (p *Principal) EmailConfirmed() bool {
	return p != nil && p.Email != "" && p.EmailConfirmedAt != nil && !p.EmailConfirmedAt.IsZero()
}

// DisplayName returns full_name or name from the metadata, if any.
func (p *Principal) DisplayName() string {
	if p == nil {
		return ""
	}
	for _, key := range []string{"full_name", "name"} {
		if v, ok := p.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type principalKey struct{}

// ContextWithPrincipal stores p in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the access gate.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
