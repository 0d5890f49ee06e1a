// Package authz decides whether an authenticated principal is an
// administrator.
//
// Privilege comes from the profile store. A principal whose profile is
// keyed by an older identifier can still be recognized through a
// confirmed email; the first such recognition copies the privilege onto
// an id-keyed record so later checks never consult the email again.
//
// Every failure denies. Store errors are logged and counted but never
// surface to the caller as anything other than false.
package authz
