package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agenshield/shieldd/internal/config"
	"github.com/agenshield/shieldd/internal/domain/policy"
)

// Seed imports the YAML-configured fallback policy set into the policies
// table on first boot, mirroring the file store's DefaultState() behavior:
// a fresh install gets a usable policy set without an operator hand-writing
// SQL. Seeding is skipped once any policy row exists, so operator edits made
// through the store are never clobbered on restart.
func Seed(ctx context.Context, db *sql.DB, cfg []config.PolicyConfig) error {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&count); err != nil {
		return fmt.Errorf("sqlite: counting existing policies: %w", err)
	}
	if count > 0 {
		return nil
	}

	store := NewPolicyStore(db)
	for _, pc := range cfg {
		p := &policy.Policy{
			ID:            pc.ID,
			Name:          pc.Name,
			Action:        policy.Action(pc.Action),
			Target:        policy.TargetType(pc.TargetType),
			Patterns:      pc.Patterns,
			Enabled:       pc.Enabled,
			Priority:      pc.Priority,
			Scope:         pc.Scope,
			NetworkAccess: policy.NetworkAccess(pc.Network),
		}
		for _, op := range pc.Operations {
			p.Operations = append(p.Operations, policy.Operation(op))
		}
		if err := store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("sqlite: seeding policy %q: %w", p.ID, err)
		}
	}
	return nil
}
