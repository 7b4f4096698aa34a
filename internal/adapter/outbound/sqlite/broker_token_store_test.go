package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/agenshield/shieldd/internal/domain/auth"
)

func TestBrokerTokenStore_SaveAndGetByHash(t *testing.T) {
	ctx := context.Background()
	store := NewBrokerTokenStore(newTestDB(t))

	hash := auth.HashToken("raw-token")
	tok := &auth.BrokerToken{Hash: hash, ProfileID: "profile-1", Name: "ci-runner"}
	if err := store.SaveBrokerToken(ctx, tok); err != nil {
		t.Fatalf("SaveBrokerToken: %v", err)
	}

	got, err := store.GetBrokerToken(ctx, hash)
	if err != nil {
		t.Fatalf("GetBrokerToken: %v", err)
	}
	if got.ProfileID != "profile-1" || got.Name != "ci-runner" {
		t.Fatalf("GetBrokerToken round-trip mismatch: %+v", got)
	}
}

func TestBrokerTokenStore_GetBrokerToken_Unknown(t *testing.T) {
	if _, err := NewBrokerTokenStore(newTestDB(t)).GetBrokerToken(context.Background(), "nope"); err == nil {
		t.Fatalf("expected an error for an unknown token hash")
	}
}

func TestBrokerTokenStore_ListBrokerTokens(t *testing.T) {
	ctx := context.Background()
	store := NewBrokerTokenStore(newTestDB(t))
	if err := store.SaveBrokerToken(ctx, &auth.BrokerToken{Hash: "h1", ProfileID: "p1", Name: "one"}); err != nil {
		t.Fatalf("SaveBrokerToken: %v", err)
	}
	if err := store.SaveBrokerToken(ctx, &auth.BrokerToken{Hash: "h2", ProfileID: "p2", Name: "two"}); err != nil {
		t.Fatalf("SaveBrokerToken: %v", err)
	}

	all, err := store.ListBrokerTokens(ctx)
	if err != nil {
		t.Fatalf("ListBrokerTokens: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
}

func TestBrokerTokenStore_RevokeBrokerToken(t *testing.T) {
	ctx := context.Background()
	store := NewBrokerTokenStore(newTestDB(t))
	if err := store.SaveBrokerToken(ctx, &auth.BrokerToken{Hash: "h1", ProfileID: "p1", Name: "one"}); err != nil {
		t.Fatalf("SaveBrokerToken: %v", err)
	}
	if err := store.RevokeBrokerToken(ctx, "h1"); err != nil {
		t.Fatalf("RevokeBrokerToken: %v", err)
	}
	got, err := store.GetBrokerToken(ctx, "h1")
	if err != nil {
		t.Fatalf("GetBrokerToken: %v", err)
	}
	if !got.Revoked {
		t.Fatalf("expected token to be revoked")
	}
}

func TestBrokerTokenStore_ExpiresAtRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewBrokerTokenStore(newTestDB(t))
	exp := time.Now().UTC().Add(24 * time.Hour)
	if err := store.SaveBrokerToken(ctx, &auth.BrokerToken{Hash: "h1", ProfileID: "p1", Name: "one", ExpiresAt: &exp}); err != nil {
		t.Fatalf("SaveBrokerToken: %v", err)
	}
	got, err := store.GetBrokerToken(ctx, "h1")
	if err != nil {
		t.Fatalf("GetBrokerToken: %v", err)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}
}
