// Package sqlite implements the persistent storage seam: policy.Store,
// graph.Store, graph.SecretLookup, profile.Store, and
// auth.BrokerTokenStore backed by modernc.org/sqlite.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	action         TEXT NOT NULL,
	target_type    TEXT NOT NULL,
	patterns       TEXT NOT NULL,
	operations     TEXT NOT NULL,
	enabled        INTEGER NOT NULL,
	priority       INTEGER NOT NULL,
	scope          TEXT NOT NULL,
	network_access TEXT NOT NULL,
	graph_node_id  TEXT NOT NULL,
	profile_id     TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policies_profile_id ON policies(profile_id);

CREATE TABLE IF NOT EXISTS graph_nodes (
	id         TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	policy_id  TEXT NOT NULL,
	dormant    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_profile_id ON graph_nodes(profile_id);

CREATE TABLE IF NOT EXISTS graph_edges (
	id              TEXT PRIMARY KEY,
	profile_id      TEXT NOT NULL,
	source_node_id  TEXT NOT NULL,
	target_node_id  TEXT NOT NULL,
	effect          TEXT NOT NULL,
	lifetime        TEXT NOT NULL,
	priority        INTEGER NOT NULL,
	enabled         INTEGER NOT NULL,
	grant_patterns  TEXT NOT NULL,
	secret_name     TEXT NOT NULL,
	condition       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_profile_id ON graph_edges(profile_id);

CREATE TABLE IF NOT EXISTS activations (
	id           TEXT PRIMARY KEY,
	edge_id      TEXT NOT NULL,
	process_id   TEXT NOT NULL,
	activated_at TEXT NOT NULL,
	expires_at   TEXT,
	consumed     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activations_edge_id ON activations(edge_id);

CREATE TABLE IF NOT EXISTS secrets (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_type ON profiles(type);

CREATE TABLE IF NOT EXISTS broker_tokens (
	hash       TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	revoked    INTEGER NOT NULL
);
`

// Open opens (creating if absent) the SQLite database at dsn and applies
// the schema. Unlike the teacher's state.json file store, atomicity here
// comes from SQLite's own transactions rather than write-tmp-then-rename;
// the seed-on-first-boot idea (DefaultState() when nothing exists yet) is
// carried over in Seed, below.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY races
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return db, nil
}
