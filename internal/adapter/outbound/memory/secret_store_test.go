package memory

import (
	"context"
	"testing"
)

func TestSecretStore_GetSecret_MissingReturnsOkFalse(t *testing.T) {
	t.Parallel()

	_, ok, err := NewSecretStore().GetSecret(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSecret() error: %v", err)
	}
	if ok {
		t.Error("GetSecret() ok = true for a missing secret, want false")
	}
}

func TestSecretStore_SetThenGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSecretStore()
	s.SetSecret("api-key", "shh")

	v, ok, err := s.GetSecret(ctx, "api-key")
	if err != nil {
		t.Fatalf("GetSecret() error: %v", err)
	}
	if !ok || v != "shh" {
		t.Errorf("GetSecret() = (%q, %v), want (\"shh\", true)", v, ok)
	}
}
