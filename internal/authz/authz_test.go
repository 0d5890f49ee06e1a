package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vyrodovalexey/avaguard/internal/auth"
	"github.com/vyrodovalexey/avaguard/internal/profile"
)

var confirmedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func confirmed(id, email string) *auth.Principal {
	ts := confirmedAt
	return &auth.Principal{ID: id, Email: email, EmailConfirmedAt: &ts}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		byID       *profile.Profile
		byEmail    *profile.Profile
		principal  *auth.Principal
		wantAdmin  bool
		wantLookup bool
		wantUpsert *profile.Profile
		wantReason Reason
	}{
		{
			name:       "nil principal",
			wantReason: ReasonNoPrincipal,
		},
		{
			name:       "id profile admin",
			byID:       &profile.Profile{ID: "u1", IsAdmin: true},
			principal:  confirmed("u1", "a@example.com"),
			wantAdmin:  true,
			wantReason: ReasonProfileAdmin,
		},
		{
			name:       "id profile not admin is authoritative",
			byID:       &profile.Profile{ID: "u1", IsAdmin: false},
			byEmail:    &profile.Profile{ID: "legacy", IsAdmin: true},
			principal:  confirmed("u1", "a@example.com"),
			wantReason: ReasonProfileNotAdmin,
		},
		{
			name:       "no id profile and unconfirmed email",
			principal:  &auth.Principal{ID: "u1", Email: "a@example.com"},
			byEmail:    &profile.Profile{ID: "legacy", IsAdmin: true},
			wantReason: ReasonEmailUnconfirmed,
		},
		{
			name:       "no id profile and no email",
			principal:  &auth.Principal{ID: "u1"},
			wantReason: ReasonEmailUnconfirmed,
		},
		{
			name:       "confirmed email needs lookup",
			principal:  confirmed("u1", "a@example.com"),
			wantLookup: true,
			wantReason: ReasonLookupEmail,
		},
		{
			name:       "legacy profile not admin",
			principal:  confirmed("u1", "a@example.com"),
			byEmail:    &profile.Profile{ID: "legacy", Email: "a@example.com"},
			wantReason: ReasonLegacyNotAdmin,
		},
		{
			name:       "legacy admin migrates to id",
			principal:  confirmed("u1", "a@example.com"),
			byEmail:    &profile.Profile{ID: "legacy", Email: "a@example.com", IsAdmin: true},
			wantAdmin:  true,
			wantUpsert: &profile.Profile{ID: "u1", Email: "a@example.com", IsAdmin: true},
			wantReason: ReasonLegacyMigration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Evaluate(tt.byID, tt.byEmail, tt.principal)
			assert.Equal(t, tt.wantAdmin, got.Admin)
			assert.Equal(t, tt.wantLookup, got.NeedsEmailLookup)
			assert.Equal(t, tt.wantUpsert, got.Upsert)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestEvaluate_Properties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[a-z0-9-]{1,12}`).Draw(t, "id")
		email := rapid.SampledFrom([]string{"", "a@example.com", "b@example.com"}).Draw(t, "email")

		p := &auth.Principal{ID: id, Email: email}
		if rapid.Bool().Draw(t, "confirmed") {
			ts := confirmedAt
			p.EmailConfirmedAt = &ts
		}

		var byID, byEmail *profile.Profile
		if rapid.Bool().Draw(t, "hasByID") {
			byID = &profile.Profile{ID: id, IsAdmin: rapid.Bool().Draw(t, "byIDAdmin")}
		}
		if rapid.Bool().Draw(t, "hasByEmail") {
			byEmail = &profile.Profile{ID: "legacy", Email: email, IsAdmin: rapid.Bool().Draw(t, "byEmailAdmin")}
		}

		got := Evaluate(byID, byEmail, p)

		if byID != nil {
			if got.Admin != byID.IsAdmin || got.Upsert != nil || got.NeedsEmailLookup {
				t.Fatalf("id-keyed profile not authoritative: %+v", got)
			}
			return
		}
		if got.Admin && !p.EmailConfirmed() {
			t.Fatalf("admin granted without confirmed email: %+v", got)
		}
		if got.Admin {
			if got.Upsert == nil || got.Upsert.ID != id || !got.Upsert.IsAdmin || got.Upsert.Email != email {
				t.Fatalf("email grant without id-keyed upsert: %+v", got)
			}
		}
		if got.Upsert != nil && !got.Admin {
			t.Fatalf("upsert requested for non-admin: %+v", got)
		}
	})
}

type fakeStore struct {
	mu sync.Mutex

	byID    map[string]*profile.Profile
	byEmail map[string]*profile.Profile

	findByIDErr    error
	findByEmailErr error
	upsertErr      error
	panicOn        string

	findByIDCalls    int
	findByEmailCalls int
	upserts          []profile.Profile
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByIDCalls++
	if s.panicOn == "FindByID" {
		panic("driver bug")
	}
	if s.findByIDErr != nil {
		return nil, s.findByIDErr
	}
	return s.byID[id], nil
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByEmailCalls++
	if s.findByEmailErr != nil {
		return nil, s.findByEmailErr
	}
	return s.byEmail[email], nil
}

func (s *fakeStore) Upsert(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, *p)
	return nil
}

func TestAdminAuthorizer_IsAdmin(t *testing.T) {
	t.Parallel()

	errDB := errors.New("connection refused")

	tests := []struct {
		name            string
		store           *fakeStore
		principal       *auth.Principal
		want            bool
		wantEmailLookup int
		wantUpserts     []profile.Profile
	}{
		{
			name: "id admin",
			store: &fakeStore{byID: map[string]*profile.Profile{
				"u1": {ID: "u1", IsAdmin: true},
			}},
			principal: confirmed("u1", "a@example.com"),
			want:      true,
		},
		{
			name: "id non-admin never consults email",
			store: &fakeStore{
				byID:    map[string]*profile.Profile{"u1": {ID: "u1"}},
				byEmail: map[string]*profile.Profile{"a@example.com": {ID: "legacy", IsAdmin: true}},
			},
			principal: confirmed("u1", "a@example.com"),
		},
		{
			name: "unconfirmed email never consults email",
			store: &fakeStore{
				byEmail: map[string]*profile.Profile{"a@example.com": {ID: "legacy", IsAdmin: true}},
			},
			principal: &auth.Principal{ID: "u1", Email: "a@example.com"},
		},
		{
			name:            "no profiles at all",
			store:           &fakeStore{},
			principal:       confirmed("u1", "a@example.com"),
			wantEmailLookup: 1,
		},
		{
			name: "legacy non-admin",
			store: &fakeStore{
				byEmail: map[string]*profile.Profile{"a@example.com": {ID: "legacy"}},
			},
			principal:       confirmed("u1", "a@example.com"),
			wantEmailLookup: 1,
		},
		{
			name: "legacy admin migrates",
			store: &fakeStore{
				byEmail: map[string]*profile.Profile{"a@example.com": {ID: "legacy", IsAdmin: true}},
			},
			principal:       confirmed("u1", "a@example.com"),
			want:            true,
			wantEmailLookup: 1,
			wantUpserts:     []profile.Profile{{ID: "u1", Email: "a@example.com", IsAdmin: true}},
		},
		{
			name: "failed migration denies",
			store: &fakeStore{
				byEmail:   map[string]*profile.Profile{"a@example.com": {ID: "legacy", IsAdmin: true}},
				upsertErr: errDB,
			},
			principal:       confirmed("u1", "a@example.com"),
			wantEmailLookup: 1,
		},
		{
			name:      "find by id error denies",
			store:     &fakeStore{findByIDErr: errDB},
			principal: confirmed("u1", "a@example.com"),
		},
		{
			name:            "find by email error denies",
			store:           &fakeStore{findByEmailErr: errDB},
			principal:       confirmed("u1", "a@example.com"),
			wantEmailLookup: 1,
		},
		{
			name:      "store panic denies",
			store:     &fakeStore{panicOn: "FindByID"},
			principal: confirmed("u1", "a@example.com"),
		},
		{
			name:  "nil principal denies without store calls",
			store: &fakeStore{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewAdminAuthorizer(tt.store)
			got := a.IsAdmin(context.Background(), tt.principal)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantEmailLookup, tt.store.findByEmailCalls)
			if tt.wantUpserts == nil {
				assert.Empty(t, tt.store.upserts)
			} else {
				assert.Equal(t, tt.wantUpserts, tt.store.upserts)
			}
			if tt.principal == nil {
				assert.Zero(t, tt.store.findByIDCalls)
			}
		})
	}
}

func TestAdminAuthorizer_MigrationIsSticky(t *testing.T) {
	t.Parallel()

	store := profile.NewMemoryStore(profile.Profile{ID: "legacy", Email: "root@example.com", IsAdmin: true})
	a := NewAdminAuthorizer(store)
	p := confirmed("new-id", "root@example.com")

	require.True(t, a.IsAdmin(context.Background(), p))

	migrated, err := store.FindByID(context.Background(), "new-id")
	require.NoError(t, err)
	require.NotNil(t, migrated)
	assert.True(t, migrated.IsAdmin)

	// Revoking on the id-keyed record wins over the legacy email record.
	require.NoError(t, store.Upsert(context.Background(), &profile.Profile{ID: "new-id", Email: "root@example.com"}))
	assert.False(t, a.IsAdmin(context.Background(), p))
}

func TestAdminAuthorizer_ConcurrentMigration(t *testing.T) {
	t.Parallel()

	store := profile.NewMemoryStore(profile.Profile{ID: "legacy", Email: "root@example.com", IsAdmin: true})
	a := NewAdminAuthorizer(store)
	p := confirmed("new-id", "root@example.com")

	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- a.IsAdmin(context.Background(), p)
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		assert.True(t, r)
	}
	assert.Equal(t, 2, store.Len())
}

func TestAdminAuthorizer_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	store := &fakeStore{
		byID:    map[string]*profile.Profile{"admin": {ID: "admin", IsAdmin: true}},
		byEmail: map[string]*profile.Profile{"old@example.com": {ID: "legacy", IsAdmin: true}},
	}
	a := NewAdminAuthorizer(store, WithMetrics(m))

	a.IsAdmin(context.Background(), confirmed("admin", "x@example.com"))
	a.IsAdmin(context.Background(), confirmed("migrating", "old@example.com"))
	a.IsAdmin(context.Background(), confirmed("nobody", "nobody@example.com"))

	store.findByIDErr = errors.New("timeout")
	a.IsAdmin(context.Background(), confirmed("admin", "x@example.com"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(resultAdmin)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(resultMigrated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(resultDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(resultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.migrationsTotal.WithLabelValues("success")))
}
