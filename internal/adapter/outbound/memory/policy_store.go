package memory

import (
	"context"
	"sync"

	"github.com/agenshield/shieldd/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory map, for
// development and tests. Safe for concurrent use.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*policy.Policy
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[string]*policy.Policy),
	}
}

// GetEnabledPolicies returns the effective policy set for a profile: the
// union of global (ProfileID == "") and profile-scoped policies. An empty
// profileID selects the global set only.
func (s *PolicyStore) GetEnabledPolicies(_ context.Context, profileID string) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if !p.Enabled {
			continue
		}
		if p.ProfileID != "" && p.ProfileID != profileID {
			continue
		}
		out = append(out, copyPolicy(p))
	}
	return out, nil
}

// GetPolicy retrieves a single policy by id, including disabled ones.
func (s *PolicyStore) GetPolicy(_ context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// SavePolicy creates or updates a policy.
func (s *PolicyStore) SavePolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[p.ID] = copyPolicy(p)
	return nil
}

// DeletePolicy removes a policy by id. Deleting an absent id is a no-op.
func (s *PolicyStore) DeletePolicy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.policies, id)
	return nil
}

func copyPolicy(p *policy.Policy) *policy.Policy {
	cp := *p
	cp.Patterns = append([]string(nil), p.Patterns...)
	cp.Operations = append([]policy.Operation(nil), p.Operations...)
	return &cp
}

var _ policy.Store = (*PolicyStore)(nil)
