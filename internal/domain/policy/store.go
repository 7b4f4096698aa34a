package policy

import (
	"context"
	"errors"
)

// ErrPolicyNotFound is returned when a policy id has no matching record.
var ErrPolicyNotFound = errors.New("policy not found")

// Store is the storage seam for policies, backing the evaluation engine's
// effective-policy-set lookup. Implementations: in-memory (dev/test),
// SQLite (persistent).
type Store interface {
	// GetEnabledPolicies returns the effective policy set for a profile:
	// the union of global and profile-scoped policies (§4.3 step 1). An
	// empty profileID selects the global set only.
	GetEnabledPolicies(ctx context.Context, profileID string) ([]*Policy, error)

	// GetPolicy retrieves a single policy by id, including disabled ones.
	GetPolicy(ctx context.Context, id string) (*Policy, error)

	// SavePolicy creates or updates a policy.
	SavePolicy(ctx context.Context, p *Policy) error

	// DeletePolicy removes a policy by id.
	DeletePolicy(ctx context.Context, id string) error
}
