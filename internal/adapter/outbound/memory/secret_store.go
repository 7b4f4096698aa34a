package memory

import (
	"context"
	"sync"

	"github.com/agenshield/shieldd/internal/domain/graph"
)

// SecretStore implements graph.SecretLookup with an in-memory map, for
// development and tests. Safe for concurrent use.
type SecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewSecretStore creates an empty in-memory secret store.
func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string]string)}
}

// SetSecret installs name=value, replacing any existing value.
func (s *SecretStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// GetSecret resolves a named secret's value. A missing secret is reported
// via ok=false, never an error.
func (s *SecretStore) GetSecret(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[name]
	return v, ok, nil
}

var _ graph.SecretLookup = (*SecretStore)(nil)
