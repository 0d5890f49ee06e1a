// Package api holds the business endpoints served behind the access gate.
//
// Handlers assume the gate already admitted the request: the principal is
// in the context, and admin handlers additionally rely on
// gate.AdminFromContext.
package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/auth"
	"github.com/vyrodovalexey/avaguard/internal/authz"
	"github.com/vyrodovalexey/avaguard/internal/gate"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/profile"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Error codes returned by the handlers.
const (
	CodeMissingEmail = "missing_email"
	CodeInvalidEmail = "invalid_email"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal_error"
)

const maxEmailLength = 200

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Route is one endpoint and the policy that guards it.
type Route struct {
	Path    string
	Policy  gate.Policy
	Handler http.Handler
}

// Handlers serves the API endpoints.
type Handlers struct {
	profiles      profile.Store
	importEnabled bool
	logger        observability.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithLogger sets the handler logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handlers) { h.logger = logger }
}

// WithImportEnabled reports the import feature flag on the admin status
// endpoint.
func WithImportEnabled(enabled bool) Option {
	return func(h *Handlers) { h.importEnabled = enabled }
}

// NewHandlers creates the API handlers.
func NewHandlers(profiles profile.Store, opts ...Option) *Handlers {
	h := &Handlers{
		profiles: profiles,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns every endpoint with its admission policy.
func (h *Handlers) Routes() []Route {
	return []Route{
		{
			Path: "/api/me",
			Policy: gate.Policy{
				Methods:     gate.GetOnly,
				Scope:       "me",
				IPLimit:     120,
				UserLimit:   60,
				Window:      time.Minute,
				RequireAuth: true,
			},
			Handler: http.HandlerFunc(h.Me),
		},
		{
			Path: "/api/admin/status",
			Policy: gate.Policy{
				Methods:      gate.GetOnly,
				Scope:        "admin:status",
				IPLimit:      20,
				UserLimit:    20,
				Window:       300 * time.Second,
				RequireAdmin: true,
			},
			Handler: http.HandlerFunc(h.AdminStatus),
		},
		{
			Path: "/api/admin/lookup",
			Policy: gate.Policy{
				Methods:      gate.GetOnly,
				Scope:        "admin:lookup",
				IPLimit:      20,
				UserLimit:    20,
				Window:       300 * time.Second,
				RequireAdmin: true,
			},
			Handler: http.HandlerFunc(h.AdminLookup),
		},
	}
}

// UserSummary is the caller as the identity provider describes them.
type UserSummary struct {
	ID             string `json:"id"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name,omitempty"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	User    UserSummary      `json:"user"`
	Profile *profile.Profile `json:"profile"`
}

// Me returns the caller and their stored profile, if any. It never
// creates a profile: an id-keyed record would shadow a legacy email
// record that has not been migrated yet.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		h.write(w, r, http.StatusUnauthorized, errorBody(r, auth.ErrMissingToken.Error()))
		return
	}

	prof, err := h.profiles.FindByID(ctx, p.ID)
	if err != nil {
		h.logger.WithContext(ctx).Error("failed to load profile",
			observability.String("user_id", p.ID), observability.Error(err))
		h.write(w, r, http.StatusInternalServerError, errorBody(r, CodeInternal))
		return
	}

	h.write(w, r, http.StatusOK, MeResponse{
		User: UserSummary{
			ID:             p.ID,
			Email:          p.Email,
			Name:           p.DisplayName(),
			EmailConfirmed: p.EmailConfirmed(),
		},
		Profile: prof,
	})
}

// AdminStatusResponse is the body of GET /api/admin/status.
type AdminStatusResponse struct {
	Admin         bool `json:"admin"`
	ImportEnabled bool `json:"importEnabled"`
}

// AdminStatus confirms administrator access.
func (h *Handlers) AdminStatus(w http.ResponseWriter, r *http.Request) {
	if !gate.AdminFromContext(r.Context()) {
		h.write(w, r, http.StatusForbidden, errorBody(r, authz.ErrForbidden.Error()))
		return
	}
	h.write(w, r, http.StatusOK, AdminStatusResponse{Admin: true, ImportEnabled: h.importEnabled})
}

// AdminLookup returns the profile stored for ?email=.
func (h *Handlers) AdminLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !gate.AdminFromContext(ctx) {
		h.write(w, r, http.StatusForbidden, errorBody(r, authz.ErrForbidden.Error()))
		return
	}

	email := profile.NormalizeEmail(r.URL.Query().Get("email"))
	switch {
	case email == "":
		h.write(w, r, http.StatusBadRequest, errorBody(r, CodeMissingEmail))
		return
	case len(email) > maxEmailLength || !emailPattern.MatchString(email):
		h.write(w, r, http.StatusBadRequest, errorBody(r, CodeInvalidEmail))
		return
	}

	prof, err := h.profiles.FindByEmail(ctx, email)
	if err != nil {
		h.logger.WithContext(ctx).Error("profile lookup failed", observability.Error(err))
		h.write(w, r, http.StatusInternalServerError, errorBody(r, CodeInternal))
		return
	}

	logger := h.logger.WithContext(ctx)
	if caller, ok := auth.PrincipalFromContext(ctx); ok {
		logger = logger.With(observability.String("user_id", caller.ID))
	}
	if prof == nil {
		logger.Info("admin profile lookup", observability.Bool("found", false))
		h.write(w, r, http.StatusNotFound, errorBody(r, CodeNotFound))
		return
	}
	logger.Info("admin profile lookup", observability.Bool("found", true),
		observability.String("profile_id", prof.ID))
	h.write(w, r, http.StatusOK, prof)
}

func errorBody(r *http.Request, code string) gate.ErrorResponse {
	return gate.ErrorResponse{Error: code, TraceID: observability.RequestIDFromContext(r.Context())}
}

func (h *Handlers) write(w http.ResponseWriter, r *http.Request, status int, body any) {
	if err := util.WriteJSON(w, status, body); err != nil {
		h.logger.WithContext(r.Context()).Debug("failed to write response", observability.Error(err))
	}
}
