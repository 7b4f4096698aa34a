package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errTokenNotFound = errors.New("token not found")

type mockTokenStore struct {
	tokens map[string]*BrokerToken
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]*BrokerToken)}
}

func (m *mockTokenStore) GetBrokerToken(ctx context.Context, tokenHash string) (*BrokerToken, error) {
	tok, ok := m.tokens[tokenHash]
	if !ok {
		return nil, errTokenNotFound
	}
	return tok, nil
}

func (m *mockTokenStore) ListBrokerTokens(ctx context.Context) ([]*BrokerToken, error) {
	result := make([]*BrokerToken, 0, len(m.tokens))
	for _, tok := range m.tokens {
		result = append(result, tok)
	}
	return result, nil
}

var _ BrokerTokenStore = (*mockTokenStore)(nil)

func TestBrokerTokenService_Resolve(t *testing.T) {
	rawToken := "test-broker-token-12345"
	tokenHash := HashToken(rawToken)

	now := time.Now().UTC()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	tests := []struct {
		name        string
		rawToken    string
		setup       func(*mockTokenStore)
		wantErr     error
		wantProfile string
	}{
		{
			name:     "valid token resolves profile",
			rawToken: rawToken,
			setup: func(m *mockTokenStore) {
				m.tokens[tokenHash] = &BrokerToken{Hash: tokenHash, ProfileID: "profile-1", ExpiresAt: &future}
			},
			wantProfile: "profile-1",
		},
		{
			name:     "expired token denied",
			rawToken: rawToken,
			setup: func(m *mockTokenStore) {
				m.tokens[tokenHash] = &BrokerToken{Hash: tokenHash, ProfileID: "profile-1", ExpiresAt: &past}
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:     "revoked token denied",
			rawToken: rawToken,
			setup: func(m *mockTokenStore) {
				m.tokens[tokenHash] = &BrokerToken{Hash: tokenHash, ProfileID: "profile-1", Revoked: true}
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:     "unknown token denied",
			rawToken: "does-not-exist",
			setup:    func(m *mockTokenStore) {},
			wantErr:  ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockTokenStore()
			tt.setup(store)
			svc := NewBrokerTokenService(store)

			profileID, err := svc.Resolve(context.Background(), tt.rawToken)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() unexpected error = %v", err)
			}
			if profileID != tt.wantProfile {
				t.Fatalf("Resolve() = %q, want %q", profileID, tt.wantProfile)
			}
		})
	}
}

func TestHashToken(t *testing.T) {
	raw := "test-token"
	h1 := HashToken(raw)
	h2 := HashToken(raw)
	if h1 != h2 {
		t.Errorf("HashToken() not deterministic: %v != %v", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("HashToken() length = %d, want 64", len(h1))
	}
	if HashToken("different") == h1 {
		t.Error("HashToken() produced same hash for different inputs")
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		wantType string
	}{
		{"argon2id PHC format", "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789", "argon2id"},
		{"sha256 prefixed", "sha256:" + strings.Repeat("a", 64), "sha256"},
		{"legacy bare sha256", strings.Repeat("a", 64), "sha256"},
		{"unknown - too short", "abc123", "unknown"},
		{"unknown - wrong prefix", "$bcrypt$abc123", "unknown"},
		{"empty", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.hash); got != tt.wantType {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.wantType)
			}
		})
	}
}

func TestVerifyToken(t *testing.T) {
	raw := "test-broker-token-verify"
	argonHash, err := HashTokenArgon2id(raw)
	if err != nil {
		t.Fatalf("HashTokenArgon2id() error = %v", err)
	}
	sha := HashToken(raw)
	shaPrefixed := "sha256:" + sha

	tests := []struct {
		name       string
		rawToken   string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{"argon2id correct", raw, argonHash, true, nil},
		{"argon2id wrong", "wrong", argonHash, false, nil},
		{"sha256 prefixed correct", raw, shaPrefixed, true, nil},
		{"sha256 prefixed wrong", "wrong", shaPrefixed, false, nil},
		{"legacy bare sha256 correct", raw, sha, true, nil},
		{"unknown hash errors", raw, "not-a-hash", false, ErrUnknownHashType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyToken(tt.rawToken, tt.storedHash)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("VerifyToken() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyToken() unexpected error = %v", err)
			}
			if match != tt.wantMatch {
				t.Fatalf("VerifyToken() = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}
