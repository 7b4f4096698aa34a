package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agenshield/shieldd/internal/domain/profile"
)

// ProfileStore implements profile.Store over a SQLite database.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore wraps db as a profile.Store.
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// GetByType returns every profile of type t.
func (s *ProfileStore) GetByType(ctx context.Context, t profile.Type) ([]*profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, name, created_at, updated_at FROM profiles WHERE type = ?`, string(t))
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying profiles of type %q: %w", t, err)
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get retrieves a single profile by id.
func (s *ProfileStore) Get(ctx context.Context, id string) (*profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, name, created_at, updated_at FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying profile %q: %w", id, err)
	}
	return p, nil
}

// Save creates or updates a profile.
func (s *ProfileStore) Save(ctx context.Context, p *profile.Profile) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, type, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, name = excluded.name, updated_at = excluded.updated_at`,
		p.ID, string(p.Type), p.Name, p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: saving profile %q: %w", p.ID, err)
	}
	return nil
}

// Delete removes a profile by id. Deleting an absent id is a no-op.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting profile %q: %w", id, err)
	}
	return nil
}

func scanProfile(row rowScanner) (*profile.Profile, error) {
	var (
		p                    profile.Profile
		t                    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &t, &p.Name, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Type = profile.Type(t)

	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing created_at for profile %q: %w", p.ID, err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing updated_at for profile %q: %w", p.ID, err)
	}
	return &p, nil
}

var _ profile.Store = (*ProfileStore)(nil)
