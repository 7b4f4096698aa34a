// Package service contains application services that orchestrate the
// domain packages into the daemon's operations.
package service

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/agenshield/shieldd/internal/domain/graph"
	"github.com/agenshield/shieldd/internal/domain/policy"
	"github.com/agenshield/shieldd/internal/domain/sandbox"
)

// Result is what the Policy Decision Engine returns for one operation
// (§4.3 steps 8-9). Specification and NetworkMode are populated only for
// exec operations; every other operation leaves them at their zero value.
type Result struct {
	Decision      policy.Decision
	Specification *sandbox.Specification
	NetworkMode   sandbox.NetworkMode
	// GrantedNetworkPatterns carries the Policy Graph's grant_network
	// patterns accumulated for this exec decision, if any. A NetworkMode of
	// NetworkModeProxy caused by a grant needs these baked into the per-run
	// proxy's URL policy getter as synthetic highest-priority allow rules,
	// since the grant itself is not persisted anywhere the proxy could
	// re-derive it from later.
	GrantedNetworkPatterns []string
}

// DecisionService implements the Policy Decision Engine (C3): the daemon's
// single entry point for "is this operation allowed, and if it's an exec,
// what sandbox does it run in".
type DecisionService struct {
	policies    policy.Store
	graphs      graph.Store
	evaluator   *graph.Evaluator
	gateFactory ConditionGateFactory
	sandboxCfg  sandbox.Config
	defaultAct  policy.Action
	logger      *slog.Logger

	cache       *decisionCache
	generations sync.Map // profileID -> *atomic.Uint64
}

// ConditionGateFactory builds a request-scoped graph.ConditionGate bound to
// the caller context, operation and target of the decision being evaluated.
// Set via WithConditionGateFactory when edge conditions need to inspect that
// context; left nil, every edge condition evaluates as open.
type ConditionGateFactory func(execCtx *policy.ExecutionContext, op policy.Operation, target string) graph.ConditionGate

// Option configures a DecisionService at construction time.
type Option func(*DecisionService)

// WithCacheSize overrides DefaultDecisionCacheSize.
func WithCacheSize(size int) Option {
	return func(s *DecisionService) { s.cache = newDecisionCache(size) }
}

// WithDefaultAction overrides the fallback action used when no policy
// matches an operation (§4.3 step 9). The default is policy.ActionDeny.
func WithDefaultAction(a policy.Action) Option {
	return func(s *DecisionService) { s.defaultAct = a }
}

// WithConditionGateFactory binds a request-scoped condition gate factory, so
// the Graph Evaluator's edge conditions can reference the caller context,
// operation and target of the decision currently being evaluated.
func WithConditionGateFactory(f ConditionGateFactory) Option {
	return func(s *DecisionService) { s.gateFactory = f }
}

// NewDecisionService constructs a DecisionService. evaluator must not be
// nil; it is used both for the dormant-activation test (§4.4) and for
// applying a matched policy's graph effects.
func NewDecisionService(policies policy.Store, graphs graph.Store, evaluator *graph.Evaluator, sandboxCfg sandbox.Config, logger *slog.Logger, opts ...Option) *DecisionService {
	s := &DecisionService{
		policies:   policies,
		graphs:     graphs,
		evaluator:  evaluator,
		sandboxCfg: sandboxCfg,
		defaultAct: policy.ActionDeny,
		logger:     logger,
		cache:      newDecisionCache(DefaultDecisionCacheSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs the full §4.3 procedure for one operation. processID scopes
// any process-lifetime graph activation the matched policy's node fires.
func (s *DecisionService) Evaluate(ctx context.Context, op policy.Operation, target string, execCtx *policy.ExecutionContext, processID string) (Result, error) {
	profileID := profileIDFor(execCtx)

	decision, matched, err := s.resolve(ctx, profileID, op, target, execCtx)
	if err != nil {
		return Result{}, err
	}

	effects := graph.NewEffects()
	if matched != nil && matched.GraphNodeID != "" {
		effects = s.applyGraphEffects(ctx, profileID, matched, processID, op, target, execCtx, &decision)
	}

	result := Result{Decision: decision}
	if op != policy.OpExec {
		return result, nil
	}

	// §4.3 step 8: an exec matched by an explicit policy only gets a
	// Specification when allowed. Step 9: an exec that fell through to the
	// default action always gets one, even when the default is deny, so a
	// caller running under default-allow still inherits a hardened profile.
	if matched != nil && !decision.Allowed {
		return result, nil
	}

	policies, err := s.policies.GetEnabledPolicies(ctx, profileID)
	if err != nil {
		return Result{}, fmt.Errorf("decision: loading policies for sandbox spec: %w", err)
	}
	spec, mode := sandbox.Build(s.sandboxCfg, policies, matched, execCtx, target, effects)
	result.Specification = spec
	result.NetworkMode = mode
	result.GrantedNetworkPatterns = effects.GrantedNetworkPatterns
	return result, nil
}

// resolve runs §4.3 steps 1-8 minus the Graph Evaluator invocation, serving
// the result from cache when the graph generation for profileID has not
// advanced since it was cached.
func (s *DecisionService) resolve(ctx context.Context, profileID string, op policy.Operation, target string, execCtx *policy.ExecutionContext) (policy.Decision, *policy.Policy, error) {
	key := s.cacheKey(profileID, op, target, execCtx)
	if cached, ok := s.cache.Get(key); ok {
		return cached.decision, cached.matched, nil
	}

	policies, err := s.policies.GetEnabledPolicies(ctx, profileID)
	if err != nil {
		return policy.Decision{}, nil, fmt.Errorf("decision: loading policies: %w", err)
	}

	g, err := s.graphs.LoadGraph(ctx, profileID)
	if err != nil {
		s.logger.Warn("decision: graph load failed, evaluating without graph effects", "profile_id", profileID, "error", err)
		g = nil
	}

	filtered := s.filterPolicies(ctx, policies, g, execCtx)
	sortByPriorityDesc(filtered)

	decision, matched := policy.Decide(filtered, op, target, s.defaultAct)
	s.cache.Put(key, cachedDecision{decision: decision, matched: matched})
	return decision, matched, nil
}

// applyGraphEffects invokes the Graph Evaluator for a matched policy's node
// and applies deny-overrides-allow to decision in place (§4.3 step 8). When a
// ConditionGateFactory is configured, edge conditions are evaluated against a
// gate freshly bound to this request's caller context, operation and target.
func (s *DecisionService) applyGraphEffects(ctx context.Context, profileID string, matched *policy.Policy, processID string, op policy.Operation, target string, execCtx *policy.ExecutionContext, decision *policy.Decision) graph.Effects {
	g, err := s.graphs.LoadGraph(ctx, profileID)
	if err != nil {
		s.logger.Warn("decision: graph load failed during effect evaluation, proceeding without effects", "profile_id", profileID, "error", err)
		return graph.NewEffects()
	}

	evaluator := s.evaluator
	if s.gateFactory != nil {
		evaluator = s.evaluator.WithGate(s.gateFactory(execCtx, op, target))
	}
	effects, hasNode := evaluator.Evaluate(ctx, g, matched.ID, processID)
	if !hasNode {
		return effects
	}
	if effects.Denied {
		decision.Allowed = false
		decision.Reason = denyReason(effects)
	}
	if len(effects.ActivatedPolicyIDs) > 0 {
		s.bumpGeneration(profileID)
	}
	return effects
}

func denyReason(effects graph.Effects) string {
	if effects.DenyReason == "" {
		return "denied by policy graph"
	}
	return "denied by policy graph: " + effects.DenyReason
}

// filterPolicies implements §4.3 step 3: scope and dormant-activation
// filtering over the already-enabled policy set.
func (s *DecisionService) filterPolicies(ctx context.Context, policies []*policy.Policy, g *graph.Graph, execCtx *policy.ExecutionContext) []*policy.Policy {
	out := make([]*policy.Policy, 0, len(policies))
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !policy.ScopeIncludes(p.Scope, execCtx) {
			continue
		}
		if !s.dormantActive(ctx, g, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// dormantActive reports whether p participates in matching: policies with
// no graph node, or whose node cannot be resolved, always do. A dormant
// node's policy participates only once the Graph Evaluator's
// dormant-activation test reports it active.
func (s *DecisionService) dormantActive(ctx context.Context, g *graph.Graph, p *policy.Policy) bool {
	if p.GraphNodeID == "" || g == nil {
		return true
	}
	node := g.NodeByID(p.GraphNodeID)
	if node == nil {
		return true
	}
	active, err := s.evaluator.IsActive(ctx, g, node)
	if err != nil {
		s.logger.Warn("decision: dormant-activation check failed, treating policy as active", "policy_id", p.ID, "error", err)
		return true
	}
	return active
}

func sortByPriorityDesc(policies []*policy.Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority > policies[j].Priority
	})
}

func profileIDFor(execCtx *policy.ExecutionContext) string {
	if execCtx == nil {
		return ""
	}
	return execCtx.ProfileID
}

// generationFor returns profileID's current graph-activation generation,
// creating a zero counter on first use.
func (s *DecisionService) generationFor(profileID string) uint64 {
	v, _ := s.generations.LoadOrStore(profileID, new(atomic.Uint64))
	return v.(*atomic.Uint64).Load()
}

// bumpGeneration advances profileID's generation so cache entries computed
// before this activation fire no longer hit. It does not evict them
// directly: they simply age out of the LRU once their key stops being
// requested.
func (s *DecisionService) bumpGeneration(profileID string) {
	v, _ := s.generations.LoadOrStore(profileID, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

// cacheKey fingerprints (profile, operation, target, context, generation)
// with xxhash, matching the teacher's computeCacheKey discipline.
func (s *DecisionService) cacheKey(profileID string, op policy.Operation, target string, execCtx *policy.ExecutionContext) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(profileID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(op))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(target)
	_, _ = h.Write([]byte{0})
	if execCtx != nil {
		_, _ = h.WriteString(string(execCtx.CallerType))
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(execCtx.SkillSlug)
		_, _ = h.Write([]byte{0})
	}
	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], s.generationFor(profileID))
	_, _ = h.Write(gen[:])
	return h.Sum64()
}
