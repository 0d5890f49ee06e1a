package authz

import (
	"github.com/vyrodovalexey/avaguard/internal/auth"
	"github.com/vyrodovalexey/avaguard/internal/profile"
)

// Outcome is the result of one evaluation step.
type Outcome struct {
	// Admin is the decision given what was known at this step.
	Admin bool

	// NeedsEmailLookup asks the caller to fetch the profile by the
	// principal's email and evaluate again. A caller that already looked
	// and found nothing keeps Admin=false.
	NeedsEmailLookup bool

	// Upsert, when non-nil, is the id-keyed record that must be written
	// before Admin may be honored.
	Upsert *profile.Profile

	// Reason labels the branch taken.
	Reason Reason
}

// Reason identifies which rule produced an Outcome.
type Reason string

// Evaluation reasons.
const (
	ReasonProfileAdmin     Reason = "profile_admin"
	ReasonProfileNotAdmin  Reason = "profile_not_admin"
	ReasonNoPrincipal      Reason = "no_principal"
	ReasonEmailUnconfirmed Reason = "email_unconfirmed"
	ReasonLookupEmail      Reason = "lookup_email"
	ReasonNoLegacyProfile  Reason = "no_legacy_profile"
	ReasonLegacyNotAdmin   Reason = "legacy_not_admin"
	ReasonLegacyMigration  Reason = "legacy_migration"
)

// Evaluate decides administrator privilege from the profile keyed by the
// principal id and, when needed, the profile found by email. It performs
// no I/O.
//
// An id-keyed record is authoritative in both directions. Only when none
// exists may a legacy email-keyed admin record grant privilege, and only
// for a confirmed email; that grant is conditional on Upsert succeeding.
func Evaluate(byID, byEmail *profile.Profile, p *auth.Principal) Outcome {
	if p == nil || p.ID == "" {
		return Outcome{Reason: ReasonNoPrincipal}
	}

	if byID != nil {
		if byID.IsAdmin {
			return Outcome{Admin: true, Reason: ReasonProfileAdmin}
		}
		return Outcome{Reason: ReasonProfileNotAdmin}
	}

	if !p.EmailConfirmed() {
		return Outcome{Reason: ReasonEmailUnconfirmed}
	}

	if byEmail == nil {
		return Outcome{NeedsEmailLookup: true, Reason: ReasonLookupEmail}
	}

	if !byEmail.IsAdmin {
		return Outcome{Reason: ReasonLegacyNotAdmin}
	}

	return Outcome{
		Admin: true,
		Upsert: &profile.Profile{
			ID:      p.ID,
			Email:   p.Email,
			IsAdmin: true,
		},
		Reason: ReasonLegacyMigration,
	}
}
