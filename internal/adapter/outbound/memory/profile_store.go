package memory

import (
	"context"
	"sync"

	"github.com/agenshield/shieldd/internal/domain/profile"
)

// ProfileStore implements profile.Store with an in-memory map, for
// development and tests. Safe for concurrent use.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*profile.Profile
}

// NewProfileStore creates an empty in-memory profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*profile.Profile)}
}

// GetByType returns every profile of type t.
func (s *ProfileStore) GetByType(_ context.Context, t profile.Type) ([]*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*profile.Profile
	for _, p := range s.profiles {
		if p.Type == t {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Get retrieves a single profile by id.
func (s *ProfileStore) Get(_ context.Context, id string) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Save creates or updates a profile.
func (s *ProfileStore) Save(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

// Delete removes a profile by id. Deleting an absent id is a no-op.
func (s *ProfileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.profiles, id)
	return nil
}

var _ profile.Store = (*ProfileStore)(nil)
