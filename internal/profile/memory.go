package profile

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with profiles.
func NewMemoryStore(seed ...Profile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[string]Profile, len(seed))}
	for _, p := range seed {
		s.profiles[p.ID] = p
	}
	return s
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// FindByEmail implements Store.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Profile, error) {
	want := NormalizeEmail(email)
	if want == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Profile
	for _, p := range s.profiles {
		if NormalizeEmail(p.Email) == want {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Same ordering as the SQL store: admins first, then by id.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].IsAdmin != matches[j].IsAdmin {
			return matches[i].IsAdmin
		}
		return matches[i].ID < matches[j].ID
	})
	return &matches[0], nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, p *Profile) error {
	if p == nil || p.ID == "" {
		return ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = *p
	return nil
}

// Len returns the number of stored profiles.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
