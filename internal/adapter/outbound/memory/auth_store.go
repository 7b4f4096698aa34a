package memory

import (
	"context"
	"sync"

	"github.com/agenshield/shieldd/internal/domain/auth"
)

// BrokerTokenStore implements auth.BrokerTokenStore with an in-memory map,
// keyed by the token's stored hash. Safe for concurrent use.
type BrokerTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*auth.BrokerToken
}

// NewBrokerTokenStore creates an empty in-memory broker token store.
func NewBrokerTokenStore() *BrokerTokenStore {
	return &BrokerTokenStore{
		tokens: make(map[string]*auth.BrokerToken),
	}
}

// GetBrokerToken retrieves a token record by its stored hash.
func (s *BrokerTokenStore) GetBrokerToken(_ context.Context, tokenHash string) (*auth.BrokerToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[tokenHash]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	cp := *tok
	return &cp, nil
}

// ListBrokerTokens returns every stored token, for the legacy-hash
// verification fallback path that cannot index by raw token value.
func (s *BrokerTokenStore) ListBrokerTokens(_ context.Context) ([]*auth.BrokerToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.BrokerToken, 0, len(s.tokens))
	for _, tok := range s.tokens {
		cp := *tok
		out = append(out, &cp)
	}
	return out, nil
}

// AddToken inserts or replaces a token record, keyed by its Hash field.
func (s *BrokerTokenStore) AddToken(tok *auth.BrokerToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tok
	s.tokens[tok.Hash] = &cp
}

// RemoveToken deletes a token record by its stored hash.
func (s *BrokerTokenStore) RemoveToken(tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenHash)
}

var _ auth.BrokerTokenStore = (*BrokerTokenStore)(nil)
