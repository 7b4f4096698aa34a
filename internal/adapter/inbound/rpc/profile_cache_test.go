package rpc

import (
	"context"
	"testing"

	"github.com/agenshield/shieldd/internal/domain/auth"
)

type countingBrokerStore struct {
	mockBrokerStore
	listCalls int
}

func (s *countingBrokerStore) ListBrokerTokens(ctx context.Context) ([]*auth.BrokerToken, error) {
	s.listCalls++
	return s.mockBrokerStore.ListBrokerTokens(ctx)
}

func TestProfileCache_ResolveCachesAfterFirstLookup(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashTokenArgon2id("a-token")
	if err != nil {
		t.Fatalf("HashTokenArgon2id() error: %v", err)
	}
	store := &countingBrokerStore{mockBrokerStore: mockBrokerStore{tokens: map[string]*auth.BrokerToken{
		"argon-stored": {Hash: hash, ProfileID: "profile-9"},
	}}}
	cache := NewProfileCache(auth.NewBrokerTokenService(store))

	for i := 0; i < 3; i++ {
		profileID, err := cache.Resolve(context.Background(), "a-token")
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if profileID != "profile-9" {
			t.Errorf("profileID = %q, want profile-9", profileID)
		}
	}

	if store.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1 (subsequent resolves should hit the cache)", store.listCalls)
	}
}

func TestProfileCache_InvalidateForcesRebuild(t *testing.T) {
	t.Parallel()

	hash, _ := auth.HashTokenArgon2id("a-token")
	store := &countingBrokerStore{mockBrokerStore: mockBrokerStore{tokens: map[string]*auth.BrokerToken{
		"argon-stored": {Hash: hash, ProfileID: "profile-9"},
	}}}
	cache := NewProfileCache(auth.NewBrokerTokenService(store))

	if _, err := cache.Resolve(context.Background(), "a-token"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	cache.Invalidate()
	if _, err := cache.Resolve(context.Background(), "a-token"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if store.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2 (invalidate should force a rebuild)", store.listCalls)
	}
}

func TestProfileCache_UnknownTokenReturnsError(t *testing.T) {
	t.Parallel()

	cache := NewProfileCache(auth.NewBrokerTokenService(&mockBrokerStore{tokens: map[string]*auth.BrokerToken{}}))
	if _, err := cache.Resolve(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unknown token")
	}
}
