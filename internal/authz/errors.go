package authz

import "errors"

// ErrForbidden is the access gate's error for an authenticated caller
// that lacks administrator privilege. Its text is the response code.
var ErrForbidden = errors.New("forbidden")
