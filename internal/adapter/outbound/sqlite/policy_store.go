package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agenshield/shieldd/internal/domain/policy"
)

// PolicyStore implements policy.Store over a SQLite database.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore wraps db as a policy.Store.
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// GetEnabledPolicies returns the effective policy set for a profile: the
// union of global (profile_id = '') and profile-scoped policies.
func (s *PolicyStore) GetEnabledPolicies(ctx context.Context, profileID string) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, action, target_type, patterns, operations, enabled,
		       priority, scope, network_access, graph_node_id, profile_id,
		       created_at, updated_at
		FROM policies
		WHERE enabled = 1 AND (profile_id = '' OR profile_id = ?)`, profileID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying enabled policies: %w", err)
	}
	defer rows.Close()

	var out []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPolicy retrieves a single policy by id, including disabled ones.
func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, action, target_type, patterns, operations, enabled,
		       priority, scope, network_access, graph_node_id, profile_id,
		       created_at, updated_at
		FROM policies WHERE id = ?`, id)

	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, policy.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying policy %q: %w", id, err)
	}
	return p, nil
}

// SavePolicy creates or updates a policy.
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	patterns, err := json.Marshal(p.Patterns)
	if err != nil {
		return fmt.Errorf("sqlite: marshaling patterns: %w", err)
	}
	operations, err := json.Marshal(p.Operations)
	if err != nil {
		return fmt.Errorf("sqlite: marshaling operations: %w", err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, action, target_type, patterns, operations,
		                       enabled, priority, scope, network_access, graph_node_id,
		                       profile_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, action = excluded.action,
			target_type = excluded.target_type, patterns = excluded.patterns,
			operations = excluded.operations, enabled = excluded.enabled,
			priority = excluded.priority, scope = excluded.scope,
			network_access = excluded.network_access, graph_node_id = excluded.graph_node_id,
			profile_id = excluded.profile_id, updated_at = excluded.updated_at`,
		p.ID, p.Name, string(p.Action), string(p.Target), string(patterns), string(operations),
		boolToInt(p.Enabled), p.Priority, p.Scope, string(p.NetworkAccess), p.GraphNodeID,
		p.ProfileID, p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: saving policy %q: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a policy by id. Deleting an absent id is a no-op.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting policy %q: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*policy.Policy, error) {
	var (
		p                       policy.Policy
		action, target          string
		patterns, operations    string
		enabled                 int
		network                 string
		createdAt, updatedAt    string
	)
	if err := row.Scan(&p.ID, &p.Name, &action, &target, &patterns, &operations, &enabled,
		&p.Priority, &p.Scope, &network, &p.GraphNodeID, &p.ProfileID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.Action = policy.Action(action)
	p.Target = policy.TargetType(target)
	p.Enabled = enabled != 0
	p.NetworkAccess = policy.NetworkAccess(network)

	if err := json.Unmarshal([]byte(patterns), &p.Patterns); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshaling patterns for %q: %w", p.ID, err)
	}
	var ops []string
	if err := json.Unmarshal([]byte(operations), &ops); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshaling operations for %q: %w", p.ID, err)
	}
	for _, o := range ops {
		p.Operations = append(p.Operations, policy.Operation(o))
	}

	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing created_at for %q: %w", p.ID, err)
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parsing updated_at for %q: %w", p.ID, err)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ policy.Store = (*PolicyStore)(nil)
