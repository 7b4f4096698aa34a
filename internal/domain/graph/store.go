package graph

import (
	"context"
	"time"
)

// SecretLookup resolves a named secret's value, for inject_secret edges.
// A missing secret is reported via ok=false, not an error.
type SecretLookup interface {
	GetSecret(ctx context.Context, name string) (value string, ok bool, err error)
}

// Store is the storage seam for the policy graph and its activation log.
type Store interface {
	// LoadGraph returns the profile-scoped graph. An empty profileID loads
	// the global graph.
	LoadGraph(ctx context.Context, profileID string) (*Graph, error)

	// Activate records a new activation for an activate edge.
	Activate(ctx context.Context, edgeID, processID string, expiresAt *time.Time) (*Activation, error)

	// GetActiveActivations returns non-consumed, non-expired activations
	// for an edge. An empty edgeID returns every active activation.
	GetActiveActivations(ctx context.Context, edgeID string) ([]*Activation, error)

	// ConsumeActivation marks an activation consumed.
	ConsumeActivation(ctx context.Context, id string) error
}
