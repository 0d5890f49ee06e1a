package gate

import (
	"sync/atomic"
	"time"
)

// Quota overrides a policy's limits for one scope.
type Quota struct {
	IPLimit   int64
	UserLimit int64
	Window    time.Duration
}

// QuotaTable holds operator quota overrides keyed by scope. It is safe for
// concurrent use and is swapped whole on reload.
type QuotaTable struct {
	quotas atomic.Pointer[map[string]Quota]
}

// NewQuotaTable creates an empty table.
func NewQuotaTable() *QuotaTable {
	t := &QuotaTable{}
	empty := map[string]Quota{}
	t.quotas.Store(&empty)
	return t
}

// Replace installs quotas, dropping every previous override.
func (t *QuotaTable) Replace(quotas map[string]Quota) {
	cp := make(map[string]Quota, len(quotas))
	for k, v := range quotas {
		cp[k] = v
	}
	t.quotas.Store(&cp)
}

// Lookup returns the override for scope.
func (t *QuotaTable) Lookup(scope string) (Quota, bool) {
	q, ok := (*t.quotas.Load())[scope]
	return q, ok
}

// WithQuotas lets operator overrides replace route limits at request time.
// An override only changes limits: methods, authentication and admin
// requirements always come from the route's Policy.
func WithQuotas(t *QuotaTable) Option {
	return func(g *Gate) { g.quotas = t }
}

// effective applies the quota override for p.Scope, if any. A user limit
// on a route without authentication is ignored.
func (g *Gate) effective(p Policy) Policy {
	if g.quotas == nil || p.Scope == "" {
		return p
	}
	q, ok := g.quotas.Lookup(p.Scope)
	if !ok || q.Window <= 0 {
		return p
	}
	p.IPLimit = q.IPLimit
	if p.requiresAuth() {
		p.UserLimit = q.UserLimit
	}
	p.Window = q.Window
	return p
}
