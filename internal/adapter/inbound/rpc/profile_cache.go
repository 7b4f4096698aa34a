package rpc

import (
	"context"
	"sync"

	"github.com/agenshield/shieldd/internal/domain/auth"
)

// ProfileCache is the token → profile id cache (§4.8, §5): an O(1) lookup in
// front of BrokerTokenService.Resolve, which otherwise falls back to an O(n)
// Argon2id scan for every Argon2id-hashed token on every request. Per §5 the
// cache is never mutated incrementally; Invalidate wholesale-clears it so the
// next Resolve rebuilds from storage, avoiding partial-update races.
type ProfileCache struct {
	mu       sync.RWMutex
	entries  map[string]string
	resolver *auth.BrokerTokenService
}

// NewProfileCache wraps resolver with an in-memory token → profile id cache.
func NewProfileCache(resolver *auth.BrokerTokenService) *ProfileCache {
	return &ProfileCache{entries: make(map[string]string), resolver: resolver}
}

// Resolve returns the profile id for rawToken, serving from cache on a hit.
func (c *ProfileCache) Resolve(ctx context.Context, rawToken string) (string, error) {
	key := auth.HashToken(rawToken)

	c.mu.RLock()
	profileID, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return profileID, nil
	}

	profileID, err := c.resolver.Resolve(ctx, rawToken)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = profileID
	c.mu.Unlock()
	return profileID, nil
}

// Invalidate drops every cached entry. Call on any profile or broker-token
// mutation (§5: "rebuilt from storage on first access and invalidated on
// profile CRUD; never mutated incrementally").
func (c *ProfileCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
}
