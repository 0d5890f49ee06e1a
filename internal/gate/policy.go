package gate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Policy describes what a protected route demands of a request.
type Policy struct {
	// Methods lists the accepted HTTP methods. Anything else is 405.
	Methods []string `yaml:"methods"`

	// Scope names the quota bucket family, e.g. "me" or "admin:status".
	Scope string `yaml:"scope"`

	// IPLimit is the per-address quota per Window, checked before
	// authentication. Zero disables the address stage.
	IPLimit int64 `yaml:"ipLimit"`

	// UserLimit is the per-user quota per Window, checked after
	// authentication. Zero disables the user stage.
	UserLimit int64 `yaml:"userLimit"`

	Window time.Duration `yaml:"window"`

	RequireAuth  bool `yaml:"requireAuth"`
	RequireAdmin bool `yaml:"requireAdmin"`
}

// Validate reports configuration mistakes that would otherwise surface
// as denials at request time.
func (p Policy) Validate() error {
	var errs []error
	if len(p.Methods) == 0 {
		errs = append(errs, errors.New("at least one method is required"))
	}
	for _, m := range p.Methods {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, errors.New("method must not be empty"))
		}
	}
	if p.IPLimit < 0 || p.UserLimit < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if (p.IPLimit > 0 || p.UserLimit > 0) && p.Scope == "" {
		errs = append(errs, errors.New("scope is required when a limit is set"))
	}
	if (p.IPLimit > 0 || p.UserLimit > 0) && p.Window <= 0 {
		errs = append(errs, errors.New("window must be positive when a limit is set"))
	}
	if p.UserLimit > 0 && !p.requiresAuth() {
		errs = append(errs, errors.New("user limit requires authentication"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid policy %q: %w", p.Scope, errors.Join(errs...))
	}
	return nil
}

func (p Policy) requiresAuth() bool {
	return p.RequireAuth || p.RequireAdmin
}

// normalized returns a copy with upper-cased methods.
func (p Policy) normalized() Policy {
	methods := make([]string, 0, len(p.Methods))
	for _, m := range p.Methods {
		methods = append(methods, strings.ToUpper(strings.TrimSpace(m)))
	}
	p.Methods = methods
	return p
}

func (p Policy) allows(method string) bool {
	for _, m := range p.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (p Policy) allowHeader() string {
	return strings.Join(p.Methods, ", ")
}

// Method sets for Policy.Methods.
var (
	GetOnly  = []string{http.MethodGet}
	PostOnly = []string{http.MethodPost}
)
