package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agenshield/shieldd/internal/domain/graph"
)

// GraphStore implements graph.Store over a SQLite database.
type GraphStore struct {
	db *sql.DB
}

// NewGraphStore wraps db as a graph.Store.
func NewGraphStore(db *sql.DB) *GraphStore {
	return &GraphStore{db: db}
}

// LoadGraph returns the profile-scoped graph, falling back to the global
// graph (profile_id = '') when the profile has no nodes of its own.
func (s *GraphStore) LoadGraph(ctx context.Context, profileID string) (*graph.Graph, error) {
	scope := profileID
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes WHERE profile_id = ?`, profileID).Scan(&count); err != nil {
		return nil, fmt.Errorf("sqlite: counting graph nodes for profile %q: %w", profileID, err)
	}
	if count == 0 {
		scope = ""
	}

	nodeRows, err := s.db.QueryContext(ctx, `SELECT id, policy_id, dormant FROM graph_nodes WHERE profile_id = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying graph nodes: %w", err)
	}
	defer nodeRows.Close()

	var g graph.Graph
	for nodeRows.Next() {
		var n graph.Node
		var dormant int
		if err := nodeRows.Scan(&n.ID, &n.PolicyID, &dormant); err != nil {
			return nil, fmt.Errorf("sqlite: scanning graph node: %w", err)
		}
		n.Dormant = dormant != 0
		g.Nodes = append(g.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT id, source_node_id, target_node_id, effect, lifetime, priority,
		       enabled, grant_patterns, secret_name, condition
		FROM graph_edges WHERE profile_id = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying graph edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var (
			e            graph.Edge
			effect, life string
			enabled      int
			grantPat     string
		)
		if err := edgeRows.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &effect, &life,
			&e.Priority, &enabled, &grantPat, &e.SecretName, &e.Condition); err != nil {
			return nil, fmt.Errorf("sqlite: scanning graph edge: %w", err)
		}
		e.Effect = graph.Effect(effect)
		e.Lifetime = graph.Lifetime(life)
		e.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(grantPat), &e.GrantPatterns); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshaling grant patterns for edge %q: %w", e.ID, err)
		}
		g.Edges = append(g.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	return &g, nil
}

// Activate records a new activation for edgeID, scoped to processID.
func (s *GraphStore) Activate(ctx context.Context, edgeID, processID string, expiresAt *time.Time) (*graph.Activation, error) {
	id, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("sqlite: generating activation id: %w", err)
	}

	a := &graph.Activation{
		ID:          id,
		EdgeID:      edgeID,
		ActivatedAt: time.Now().UTC(),
		ProcessID:   processID,
		ExpiresAt:   expiresAt,
	}

	var expiresAtStr any
	if expiresAt != nil {
		expiresAtStr = expiresAt.Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activations (id, edge_id, process_id, activated_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, 0)`,
		a.ID, a.EdgeID, a.ProcessID, a.ActivatedAt.Format(time.RFC3339Nano), expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recording activation for edge %q: %w", edgeID, err)
	}
	return a, nil
}

// GetActiveActivations returns non-consumed, non-expired activations for
// edgeID. An empty edgeID returns every active activation.
func (s *GraphStore) GetActiveActivations(ctx context.Context, edgeID string) ([]*graph.Activation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, edge_id, process_id, activated_at, expires_at, consumed
		FROM activations
		WHERE consumed = 0 AND (? = '' OR edge_id = ?)`, edgeID, edgeID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying active activations: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []*graph.Activation
	for rows.Next() {
		var (
			a                      graph.Activation
			activatedAt            string
			expiresAt              sql.NullString
			consumed               int
		)
		if err := rows.Scan(&a.ID, &a.EdgeID, &a.ProcessID, &activatedAt, &expiresAt, &consumed); err != nil {
			return nil, fmt.Errorf("sqlite: scanning activation: %w", err)
		}
		a.Consumed = consumed != 0
		a.ActivatedAt, err = time.Parse(time.RFC3339Nano, activatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parsing activated_at for %q: %w", a.ID, err)
		}
		if expiresAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parsing expires_at for %q: %w", a.ID, err)
			}
			a.ExpiresAt = &t
		}
		if a.Expired(now) {
			continue
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ConsumeActivation marks an activation consumed.
func (s *GraphStore) ConsumeActivation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE activations SET consumed = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: consuming activation %q: %w", id, err)
	}
	return nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ graph.Store = (*GraphStore)(nil)
