package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agenshield/shieldd/internal/domain/auth"
)

// BrokerTokenStore implements auth.BrokerTokenStore over a SQLite database.
type BrokerTokenStore struct {
	db *sql.DB
}

// NewBrokerTokenStore wraps db as an auth.BrokerTokenStore.
func NewBrokerTokenStore(db *sql.DB) *BrokerTokenStore {
	return &BrokerTokenStore{db: db}
}

// GetBrokerToken retrieves a token by its stored hash.
func (s *BrokerTokenStore) GetBrokerToken(ctx context.Context, tokenHash string) (*auth.BrokerToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, profile_id, name, created_at, expires_at, revoked
		FROM broker_tokens WHERE hash = ?`, tokenHash)
	return scanBrokerToken(row)
}

// ListBrokerTokens returns every broker token, for the Argon2id fallback
// scan that can't be satisfied by a direct hash lookup.
func (s *BrokerTokenStore) ListBrokerTokens(ctx context.Context) ([]*auth.BrokerToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, profile_id, name, created_at, expires_at, revoked FROM broker_tokens`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing broker tokens: %w", err)
	}
	defer rows.Close()

	var out []*auth.BrokerToken
	for rows.Next() {
		t, err := scanBrokerToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveBrokerToken creates or updates a token record. Not part of
// auth.BrokerTokenStore; used by provisioning and seeding.
func (s *BrokerTokenStore) SaveBrokerToken(ctx context.Context, t *auth.BrokerToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var expiresAt any
	if t.ExpiresAt != nil {
		expiresAt = t.ExpiresAt.Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_tokens (hash, profile_id, name, created_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			profile_id = excluded.profile_id, name = excluded.name,
			expires_at = excluded.expires_at, revoked = excluded.revoked`,
		t.Hash, t.ProfileID, t.Name, t.CreatedAt.Format(time.RFC3339Nano), expiresAt, boolToInt(t.Revoked))
	if err != nil {
		return fmt.Errorf("sqlite: saving broker token %q: %w", t.Name, err)
	}
	return nil
}

// RevokeBrokerToken marks a token revoked by its stored hash.
func (s *BrokerTokenStore) RevokeBrokerToken(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE broker_tokens SET revoked = 1 WHERE hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("sqlite: revoking broker token: %w", err)
	}
	return nil
}

func scanBrokerToken(row rowScanner) (*auth.BrokerToken, error) {
	var (
		t         auth.BrokerToken
		createdAt string
		expiresAt sql.NullString
		revoked   int
	)
	if err := row.Scan(&t.Hash, &t.ProfileID, &t.Name, &createdAt, &expiresAt, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scanning broker token: %w", err)
	}
	t.Revoked = revoked != 0

	var err error
	t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing created_at for token %q: %w", t.Name, err)
	}
	if expiresAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parsing expires_at for token %q: %w", t.Name, err)
		}
		t.ExpiresAt = &ts
	}
	return &t, nil
}

var _ auth.BrokerTokenStore = (*BrokerTokenStore)(nil)
