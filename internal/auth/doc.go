// Package auth authenticates requests carrying a bearer token.
//
// The Authenticator extracts "Authorization: Bearer <token>" and makes one
// call to a Verifier. It never retries and never caches: a Principal lives
// only as long as the request that produced it.
//
// Two verifiers are provided in subpackages:
//   - supabase: asks the hosted identity service to resolve the token
//   - jwt: validates a signed access token locally, with an HMAC secret
//     or a remote JWKS
//
// Failures collapse to two kinds. ErrMissingToken means no usable bearer
// token was sent; ErrInvalidToken means one was sent and rejected, for any
// reason including transport errors. They are counted separately.
package auth
