package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agenshield/shieldd/internal/domain/graph"
)

// SecretStore implements graph.SecretLookup over a SQLite database.
type SecretStore struct {
	db *sql.DB
}

// NewSecretStore wraps db as a graph.SecretLookup.
func NewSecretStore(db *sql.DB) *SecretStore {
	return &SecretStore{db: db}
}

// SetSecret installs name=value, replacing any existing value.
func (s *SecretStore) SetSecret(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("sqlite: setting secret %q: %w", name, err)
	}
	return nil
}

// GetSecret resolves a named secret's value. A missing secret is reported
// via ok=false, never an error.
func (s *SecretStore) GetSecret(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: querying secret %q: %w", name, err)
	}
	return value, true, nil
}

var _ graph.SecretLookup = (*SecretStore)(nil)
