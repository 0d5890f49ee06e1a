package auth

import (
	"errors"
)

// Sentinel errors for authentication.
var (
	// ErrMissingToken indicates the Authorization header is absent or not
	// of the form "Bearer <token>".
	ErrMissingToken = errors.New("missing_token")

	// ErrInvalidToken indicates a presented token was rejected.
	ErrInvalidToken = errors.New("invalid_token")
)

// Code returns the machine-readable code for an authentication error.
func Code(err error) string {
	if errors.Is(err, ErrMissingToken) {
		return ErrMissingToken.Error()
	}
	return ErrInvalidToken.Error()
}
