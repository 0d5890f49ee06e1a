// Package jwt verifies provider-issued JWT access tokens locally, either
// with a shared HMAC secret or against a remote JWKS.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/avaguard/internal/auth"
)

const (
	claimEmail            = "email"
	claimEmailVerified    = "email_verified"
	claimEmailConfirmedAt = "email_confirmed_at"
	claimUserMetadata     = "user_metadata"

	defaultRefreshInterval = 15 * time.Minute
	defaultClockSkew       = 30 * time.Second
)

// Config configures a Verifier. Exactly one of Secret and JWKSURL must be
// set.
type Config struct {
	Secret          string
	JWKSURL         string
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
	RefreshInterval time.Duration
}

// Verifier implements auth.Verifier for signed JWTs.
type Verifier struct {
	keyOpt jwxjwt.ParseOption
	opts   []jwxjwt.ParseOption
}

var _ auth.Verifier = (*Verifier)(nil)

// NewVerifier builds a Verifier. With a JWKS URL the key set is fetched
// once here and then refreshed in the background until ctx is done.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	switch {
	case cfg.Secret == "" && cfg.JWKSURL == "":
		return nil, errors.New("jwt: either secret or JWKS URL is required")
	case cfg.Secret != "" && cfg.JWKSURL != "":
		return nil, errors.New("jwt: secret and JWKS URL are mutually exclusive")
	}

	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}

	v := &Verifier{
		opts: []jwxjwt.ParseOption{
			jwxjwt.WithValidate(true),
			jwxjwt.WithAcceptableSkew(skew),
		},
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwxjwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwxjwt.WithAudience(cfg.Audience))
	}

	if cfg.Secret != "" {
		v.keyOpt = jwxjwt.WithKey(jwa.HS256, []byte(cfg.Secret))
		return v, nil
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(interval)); err != nil {
		return nil, fmt.Errorf("jwt: register JWKS: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("jwt: fetch JWKS: %w", err)
	}

	v.keyOpt = jwxjwt.WithKeySet(jwk.NewCachedSet(cache, cfg.JWKSURL), jws.WithInferAlgorithmFromKey(true))
	return v, nil
}

// Verify checks the token signature and registered claims and maps the
// payload onto a Principal.
func (v *Verifier) Verify(_ context.Context, token string) (*auth.Principal, error) {
	opts := make([]jwxjwt.ParseOption, 0, len(v.opts)+1)
	opts = append(opts, v.keyOpt)
	opts = append(opts, v.opts...)

	tok, err := jwxjwt.ParseString(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	if tok.Subject() == "" {
		return nil, errors.New("jwt: token has no subject")
	}

	return principalFromToken(tok), nil
}

func principalFromToken(tok jwxjwt.Token) *auth.Principal {
	claims := tok.PrivateClaims()

	p := &auth.Principal{ID: tok.Subject()}
	if email, ok := claims[claimEmail].(string); ok {
		p.Email = email
	}
	if md, ok := claims[claimUserMetadata].(map[string]any); ok {
		p.Metadata = md
	}
	p.EmailConfirmedAt = emailConfirmedAt(tok, claims)
	return p
}

// emailConfirmedAt prefers an explicit timestamp claim. A top-level
// email_verified flag is dated by iat. user_metadata is writable by the
// user and never confirms an email.
func emailConfirmedAt(tok jwxjwt.Token, claims map[string]any) *time.Time {
	if raw, ok := claims[claimEmailConfirmedAt].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return &ts
		}
	}

	if verified, _ := claims[claimEmailVerified].(bool); !verified {
		return nil
	}

	ts := tok.IssuedAt()
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ts
}
