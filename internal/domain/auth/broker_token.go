// Package auth resolves a caller's broker token into a profile id (§6, §8.8).
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidToken is returned when a broker token is invalid, expired, or revoked.
var ErrInvalidToken = errors.New("invalid broker token")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// BrokerToken maps a hashed caller credential to a profile id.
type BrokerToken struct {
	// Hash is the stored hash (SHA-256 hex, "sha256:"-prefixed, or Argon2id PHC).
	Hash      string
	ProfileID string
	Name      string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Revoked   bool
}

// IsExpired reports whether the token has expired. A nil ExpiresAt never expires.
func (t *BrokerToken) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*t.ExpiresAt)
}

// BrokerTokenStore provides credential lookup for broker-token resolution.
type BrokerTokenStore interface {
	GetBrokerToken(ctx context.Context, tokenHash string) (*BrokerToken, error)
	ListBrokerTokens(ctx context.Context) ([]*BrokerToken, error)
}

// BrokerTokenService validates a raw broker token and resolves its profile id.
type BrokerTokenService struct {
	store BrokerTokenStore
}

// NewBrokerTokenService creates a BrokerTokenService over the given store.
func NewBrokerTokenService(store BrokerTokenStore) *BrokerTokenService {
	return &BrokerTokenService{store: store}
}

// Resolve checks a raw broker token and returns its profile id.
// Supports both SHA-256 (direct lookup) and Argon2id (iteration) hashes,
// exactly as API-key verification does in the production codebase this is
// adapted from.
func (s *BrokerTokenService) Resolve(ctx context.Context, rawToken string) (string, error) {
	tokenHash := HashToken(rawToken)
	tok, err := s.store.GetBrokerToken(ctx, tokenHash)
	if err == nil {
		return s.validate(tok)
	}

	all, err := s.store.ListBrokerTokens(ctx)
	if err != nil {
		return "", ErrInvalidToken
	}
	for _, candidate := range all {
		match, verifyErr := VerifyToken(rawToken, candidate.Hash)
		if verifyErr != nil {
			continue
		}
		if match {
			return s.validate(candidate)
		}
	}

	return "", ErrInvalidToken
}

func (s *BrokerTokenService) validate(tok *BrokerToken) (string, error) {
	if tok.Revoked || tok.IsExpired() {
		return "", ErrInvalidToken
	}
	return tok.ProfileID, nil
}

// HashToken returns the SHA-256 hex hash of a raw broker token.
// Deprecated: use HashTokenArgon2id for newly minted tokens.
func HashToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashTokenArgon2id returns an Argon2id hash of the raw token in PHC format.
func HashTokenArgon2id(rawToken string) (string, error) {
	return argon2id.CreateHash(rawToken, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyToken verifies a raw token against a stored hash. Supports Argon2id
// (PHC format), SHA-256 prefixed, and legacy bare SHA-256 hex.
func VerifyToken(rawToken, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawToken, storedHash)

	case "sha256":
		expectedHash := strings.TrimPrefix(storedHash, "sha256:")
		computedHash := HashToken(rawToken)
		match := subtle.ConstantTimeCompare([]byte(computedHash), []byte(expectedHash)) == 1
		return match, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed hash parameters.
func safeArgon2idCompare(rawToken, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawToken, storedHash)
}
