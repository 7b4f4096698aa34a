// Package profile holds the caller-profile records that policies, graphs,
// and broker tokens are scoped to (§6: "profiles.getByType").
package profile

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a profile id has no matching record.
var ErrNotFound = errors.New("profile not found")

// Type distinguishes the kind of caller a profile represents.
type Type string

const (
	// TypeTarget identifies a profile presented by an MCP target/server,
	// the kind the broker-token cache seeds itself from (§6).
	TypeTarget Type = "target"
	// TypeAgent identifies a profile for a direct agent caller.
	TypeAgent Type = "agent"
)

// Profile is a scoping identity: policies, graph nodes, and broker tokens
// all reference a Profile by ID.
type Profile struct {
	ID        string
	Type      Type
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the storage seam for profile records.
type Store interface {
	// GetByType returns every profile of the given type.
	GetByType(ctx context.Context, t Type) ([]*Profile, error)

	// Get retrieves a single profile by id.
	Get(ctx context.Context, id string) (*Profile, error)

	// Save creates or updates a profile.
	Save(ctx context.Context, p *Profile) error

	// Delete removes a profile by id.
	Delete(ctx context.Context, id string) error
}
