package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ConditionGate evaluates an edge's optional condition string as a boolean
// gate. A condition that fails to parse or evaluate, or an empty
// condition, is treated as "no condition" (gate open).
type ConditionGate interface {
	Allows(ctx context.Context, condition string) bool
}

// Evaluator walks a matched policy's graph node and accumulates the
// effects of its outgoing edges (§4.4).
type Evaluator struct {
	store   Store
	secrets SecretLookup
	gate    ConditionGate
	log     *slog.Logger
	nowFn   func() time.Time
}

// NewEvaluator constructs a graph Evaluator. gate may be nil, in which case
// every condition is treated as open.
func NewEvaluator(store Store, secrets SecretLookup, gate ConditionGate, log *slog.Logger) *Evaluator {
	return &Evaluator{
		store:   store,
		secrets: secrets,
		gate:    gate,
		log:     log,
		nowFn:   time.Now,
	}
}

// WithGate returns a shallow copy of e bound to a different condition gate.
// Callers that need request-scoped context (caller identity, the operation
// and target being decided) inside condition expressions rebuild a gate per
// request and bind it here rather than carrying that context through
// Evaluate's signature.
func (e *Evaluator) WithGate(gate ConditionGate) *Evaluator {
	c := *e
	c.gate = gate
	return &c
}

// Evaluate processes policyID's graph node, if any, returning the
// accumulated effects. A policy with no bound node returns empty effects
// and ok=false so callers can skip the graph path entirely.
func (e *Evaluator) Evaluate(ctx context.Context, g *Graph, policyID string, processID string) (Effects, bool) {
	if g == nil {
		return NewEffects(), false
	}
	node := g.NodeByPolicyID(policyID)
	if node == nil {
		return NewEffects(), false
	}

	effects := NewEffects()
	for _, edge := range g.OutgoingEdges(node.ID) {
		e.applyEdge(ctx, g, edge, &effects, processID)
	}
	return effects, true
}

// applyEdge applies a single edge's effect to effects, isolating any
// failure to that edge (§4.4 step 3).
func (e *Evaluator) applyEdge(ctx context.Context, g *Graph, edge Edge, effects *Effects, processID string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("graph edge panicked, skipping", "edge_id", edge.ID, "panic", r)
		}
	}()

	if !e.conditionAllows(ctx, edge.Condition) {
		return
	}

	switch edge.Effect {
	case EffectGrantNetwork:
		effects.GrantedNetworkPatterns = append(effects.GrantedNetworkPatterns, edge.GrantPatterns...)

	case EffectGrantFS:
		for _, p := range edge.GrantPatterns {
			switch {
			case strings.HasPrefix(p, "r:"):
				effects.GrantedFSPaths.Read = append(effects.GrantedFSPaths.Read, strings.TrimPrefix(p, "r:"))
			case strings.HasPrefix(p, "w:"):
				effects.GrantedFSPaths.Write = append(effects.GrantedFSPaths.Write, strings.TrimPrefix(p, "w:"))
			default:
				effects.GrantedFSPaths.Read = append(effects.GrantedFSPaths.Read, p)
				effects.GrantedFSPaths.Write = append(effects.GrantedFSPaths.Write, p)
			}
		}

	case EffectInjectSecret:
		if e.secrets == nil || edge.SecretName == "" {
			return
		}
		value, ok, err := e.secrets.GetSecret(ctx, edge.SecretName)
		if err != nil {
			e.log.Warn("secret lookup failed, skipping edge", "edge_id", edge.ID, "secret", edge.SecretName, "error", err)
			return
		}
		if !ok {
			return
		}
		effects.InjectedSecrets[edge.SecretName] = value

	case EffectActivate:
		target := g.NodeByID(edge.TargetNodeID)
		if target == nil {
			return
		}
		effects.ActivatedPolicyIDs = append(effects.ActivatedPolicyIDs, target.PolicyID)
		if edge.Lifetime == LifetimePersistent {
			return
		}
		var pid string
		if edge.Lifetime == LifetimeProcess {
			pid = processID
		}
		if _, err := e.store.Activate(ctx, edge.ID, pid, nil); err != nil {
			e.log.Warn("failed to record activation", "edge_id", edge.ID, "error", err)
		}

	case EffectRevoke:
		target := g.NodeByID(edge.TargetNodeID)
		if target == nil {
			return
		}
		for _, inEdge := range g.IncomingActivateEdges(target.ID) {
			activations, err := e.store.GetActiveActivations(ctx, inEdge.ID)
			if err != nil {
				e.log.Warn("failed to list activations for revoke", "edge_id", inEdge.ID, "error", err)
				continue
			}
			for _, a := range activations {
				if err := e.store.ConsumeActivation(ctx, a.ID); err != nil {
					e.log.Warn("failed to consume activation", "activation_id", a.ID, "error", err)
				}
			}
		}

	case EffectDeny:
		effects.Denied = true
		effects.DenyReason = edge.Condition

	default:
		e.log.Warn("unknown edge effect, skipping", "edge_id", edge.ID, "effect", edge.Effect)
	}
}

func (e *Evaluator) conditionAllows(ctx context.Context, condition string) bool {
	if condition == "" || e.gate == nil {
		return true
	}
	return e.gate.Allows(ctx, condition)
}

// IsActive implements the dormant-activation test (§4.4): a dormant node is
// active iff some incoming enabled activate edge is persistent, or has at
// least one non-consumed, non-expired activation record.
func (e *Evaluator) IsActive(ctx context.Context, g *Graph, node *Node) (bool, error) {
	if !node.Dormant {
		return true, nil
	}
	now := e.nowFn()
	for _, edge := range g.IncomingActivateEdges(node.ID) {
		if edge.Lifetime == LifetimePersistent {
			return true, nil
		}
		activations, err := e.store.GetActiveActivations(ctx, edge.ID)
		if err != nil {
			return false, fmt.Errorf("graph: loading activations for edge %s: %w", edge.ID, err)
		}
		for _, a := range activations {
			if !a.Consumed && !a.Expired(now) {
				return true, nil
			}
		}
	}
	return false, nil
}
