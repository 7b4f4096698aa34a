// Package graph implements the Policy Graph Evaluator (C4): the directed
// multigraph of activate/revoke/grant/deny edges that enriches the static
// policy set with dynamic, session- and process-scoped behavior.
package graph

import "time"

// Effect is the action an edge applies when it fires.
type Effect string

const (
	EffectActivate     Effect = "activate"
	EffectRevoke       Effect = "revoke"
	EffectGrantNetwork Effect = "grant_network"
	EffectGrantFS      Effect = "grant_fs"
	EffectInjectSecret Effect = "inject_secret"
	EffectDeny         Effect = "deny"
)

// Lifetime governs how long an activate edge's activation record persists.
type Lifetime string

const (
	LifetimeSession    Lifetime = "session"
	LifetimeProcess    Lifetime = "process"
	LifetimePersistent Lifetime = "persistent"
)

// Node binds a policy into the graph. A dormant node's policy does not
// participate in evaluation unless activated.
type Node struct {
	ID       string
	PolicyID string
	Dormant  bool
}

// Edge is a typed relationship between two nodes. GrantPatterns,
// SecretName, and Condition are populated only for the effects that use
// them (grant_network/grant_fs, inject_secret, and any effect respectively).
type Edge struct {
	ID            string
	SourceNodeID  string
	TargetNodeID  string
	Effect        Effect
	Lifetime      Lifetime
	Priority      int
	Enabled       bool
	GrantPatterns []string
	SecretName    string
	Condition     string
}

// Activation records that an activate edge has fired, making its target
// node's policy active for the lifetime's scope.
type Activation struct {
	ID          string
	EdgeID      string
	ActivatedAt time.Time
	ProcessID   string
	ExpiresAt   *time.Time
	Consumed    bool
}

// Expired reports whether the activation has passed its expiry, if any.
func (a *Activation) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Graph is a profile-scoped snapshot of nodes and edges, as loaded from
// storage. It carries no activation state; activations are looked up
// separately per edge via the Store.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NodeByPolicyID returns the node bound to the given policy id, or nil.
func (g *Graph) NodeByPolicyID(policyID string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].PolicyID == policyID {
			return &g.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns nodeID's enabled outgoing edges, sorted by
// priority descending (ties preserve storage order).
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	out := make([]Edge, 0)
	for _, e := range g.Edges {
		if e.SourceNodeID == nodeID && e.Enabled {
			out = append(out, e)
		}
	}
	stableSortByPriorityDesc(out)
	return out
}

// IncomingActivateEdges returns nodeID's enabled incoming activate edges.
func (g *Graph) IncomingActivateEdges(nodeID string) []Edge {
	out := make([]Edge, 0)
	for _, e := range g.Edges {
		if e.TargetNodeID == nodeID && e.Enabled && e.Effect == EffectActivate {
			out = append(out, e)
		}
	}
	return out
}

func stableSortByPriorityDesc(edges []Edge) {
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0 && edges[j].Priority > edges[j-1].Priority; j-- {
			edges[j], edges[j-1] = edges[j-1], edges[j]
		}
	}
}

// FSGrants separates grant_fs patterns by the r:/w: prefix classification.
type FSGrants struct {
	Read  []string
	Write []string
}

// Effects is the accumulated result of evaluating a policy's node through
// the graph, per §4.4 step 2.
type Effects struct {
	GrantedNetworkPatterns []string
	GrantedFSPaths         FSGrants
	InjectedSecrets        map[string]string
	ActivatedPolicyIDs     []string
	Denied                 bool
	DenyReason             string
}

// NewEffects returns a zero-value Effects with its maps initialized.
func NewEffects() Effects {
	return Effects{InjectedSecrets: make(map[string]string)}
}
