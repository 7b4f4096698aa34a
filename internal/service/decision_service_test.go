package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agenshield/shieldd/internal/domain/graph"
	"github.com/agenshield/shieldd/internal/domain/policy"
	"github.com/agenshield/shieldd/internal/domain/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockPolicyStore struct {
	policies []*policy.Policy
}

func (s *mockPolicyStore) GetEnabledPolicies(context.Context, string) ([]*policy.Policy, error) {
	return s.policies, nil
}
func (s *mockPolicyStore) GetPolicy(_ context.Context, id string) (*policy.Policy, error) {
	for _, p := range s.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("not found")
}
func (s *mockPolicyStore) SavePolicy(context.Context, *policy.Policy) error { return nil }
func (s *mockPolicyStore) DeletePolicy(context.Context, string) error      { return nil }

type mockGraphStore struct {
	mu          sync.Mutex
	graph       *graph.Graph
	loadErr     error
	activations map[string][]*graph.Activation
}

func (s *mockGraphStore) LoadGraph(context.Context, string) (*graph.Graph, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.graph, nil
}
func (s *mockGraphStore) Activate(_ context.Context, edgeID, processID string, expiresAt *time.Time) (*graph.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &graph.Activation{ID: "act-1", EdgeID: edgeID, ProcessID: processID, ExpiresAt: expiresAt}
	if s.activations == nil {
		s.activations = make(map[string][]*graph.Activation)
	}
	s.activations[edgeID] = append(s.activations[edgeID], a)
	return a, nil
}
func (s *mockGraphStore) GetActiveActivations(_ context.Context, edgeID string) ([]*graph.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations[edgeID], nil
}
func (s *mockGraphStore) ConsumeActivation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, as := range s.activations {
		for _, a := range as {
			if a.ID == id {
				a.Consumed = true
				return nil
			}
		}
	}
	return errors.New("activation not found")
}

func newTestService(policies []*policy.Policy, g *graph.Graph, opts ...Option) *DecisionService {
	pstore := &mockPolicyStore{policies: policies}
	gstore := &mockGraphStore{graph: g}
	ev := graph.NewEvaluator(gstore, nil, nil, testLogger())
	return NewDecisionService(pstore, gstore, ev, sandbox.Config{}, testLogger(), opts...)
}

func TestDecisionService_AllowsOnMatchingPolicy(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.example.com/**"}},
	}
	s := newTestService(policies, nil)

	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://api.example.com/v1/widgets", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.Decision.Allowed {
		t.Errorf("Allowed = false, want true; reason=%q", result.Decision.Reason)
	}
	if result.Decision.PolicyID != "p1" {
		t.Errorf("PolicyID = %q, want p1", result.Decision.PolicyID)
	}
}

func TestDecisionService_DefaultDenyOnNoMatch(t *testing.T) {
	t.Parallel()

	s := newTestService(nil, nil)

	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://unknown.example.com/", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Error("Allowed = true, want false (default deny)")
	}
}

func TestDecisionService_PlainHTTPBlockedWithoutExplicitAllow(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://example.com/**"}},
	}
	s := newTestService(policies, nil)

	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "http://example.com/", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Error("Allowed = true, want false (plain HTTP default-deny gate)")
	}
}

func TestDecisionService_ExecAllowedBuildsSandboxSpec(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetCommand, Patterns: []string{"curl:*"}},
	}
	s := newTestService(policies, nil)

	result, err := s.Evaluate(context.Background(), policy.OpExec, "/usr/bin/curl https://example.com", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.Decision.Allowed {
		t.Fatalf("Allowed = false, want true")
	}
	if result.Specification == nil {
		t.Fatal("Specification = nil, want non-nil for an allowed exec")
	}
}

func TestDecisionService_ExecDeniedByExplicitPolicyGetsNoSpec(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionDeny, Target: policy.TargetCommand, Patterns: []string{"rm:*"}},
	}
	s := newTestService(policies, nil)

	result, err := s.Evaluate(context.Background(), policy.OpExec, "/usr/bin/rm -rf /", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Fatal("Allowed = true, want false")
	}
	if result.Specification != nil {
		t.Error("Specification != nil, want nil for an explicitly denied exec")
	}
}

func TestDecisionService_ExecDefaultedGetsSpecEvenWhenDenied(t *testing.T) {
	t.Parallel()

	s := newTestService(nil, nil, WithDefaultAction(policy.ActionDeny))

	result, err := s.Evaluate(context.Background(), policy.OpExec, "/usr/bin/whoami", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Fatal("Allowed = true, want false")
	}
	if result.Specification == nil {
		t.Error("Specification = nil, want non-nil even on default-deny fallthrough")
	}
}

func TestDecisionService_GraphDenyOverridesMatchedAllow(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.example.com/**"}, GraphNodeID: "n1"},
	}
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "n1", PolicyID: "p1"}},
		Edges: []graph.Edge{{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n1", Effect: graph.EffectDeny, Enabled: true, Condition: "rate limit exceeded"}},
	}
	s := newTestService(policies, g)

	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://api.example.com/v1/widgets", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Error("Allowed = true, want false (graph deny overrides matched allow)")
	}
	if result.Decision.Reason != "denied by policy graph: rate limit exceeded" {
		t.Errorf("Reason = %q", result.Decision.Reason)
	}
}

func TestDecisionService_ConditionGateFactoryReceivesRequestContext(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.example.com/**"}, GraphNodeID: "n1"},
	}
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "n1", PolicyID: "p1"}},
		Edges: []graph.Edge{{ID: "e1", SourceNodeID: "n1", Effect: graph.EffectDeny, Enabled: true, Condition: "gate it"}},
	}

	var gotOp policy.Operation
	var gotTarget string
	var gotCtx *policy.ExecutionContext

	pstore := &mockPolicyStore{policies: policies}
	gstore := &mockGraphStore{graph: g}
	ev := graph.NewEvaluator(gstore, nil, nil, testLogger())
	factory := WithConditionGateFactory(func(execCtx *policy.ExecutionContext, op policy.Operation, target string) graph.ConditionGate {
		gotOp, gotTarget, gotCtx = op, target, execCtx
		return closedGateStub{}
	})
	s := NewDecisionService(pstore, gstore, ev, sandbox.Config{}, testLogger(), factory)

	execCtx := &policy.ExecutionContext{CallerType: policy.CallerSkill, SkillSlug: "deploy-helper"}
	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://api.example.com/v1/widgets", execCtx, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.Decision.Allowed {
		t.Error("Allowed = false, want true: factory's closed gate should have suppressed the deny edge's condition")
	}
	if gotOp != policy.OpHTTPRequest {
		t.Errorf("factory saw op %q, want %q", gotOp, policy.OpHTTPRequest)
	}
	if gotTarget != "https://api.example.com/v1/widgets" {
		t.Errorf("factory saw target %q", gotTarget)
	}
	if gotCtx != execCtx {
		t.Error("factory did not receive the same ExecutionContext passed to Evaluate")
	}
}

type closedGateStub struct{}

func (closedGateStub) Allows(context.Context, string) bool { return false }

func TestDecisionService_DormantPolicySkippedUntilActivated(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://internal.example.com/**"}, GraphNodeID: "n1"},
	}
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "n1", PolicyID: "p1", Dormant: true}},
	}
	s := newTestService(policies, g)

	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://internal.example.com/", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Error("Allowed = true, want false (dormant node never activated)")
	}
}

func TestDecisionService_ScopeExcludesNonMatchingCaller(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://skill-only.example.com/**"}, Scope: "skill:reporting"},
	}
	s := newTestService(policies, nil)

	agentCtx := &policy.ExecutionContext{CallerType: policy.CallerAgent}
	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://skill-only.example.com/", agentCtx, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Decision.Allowed {
		t.Error("Allowed = true, want false (scope excludes an agent caller)")
	}

	skillCtx := &policy.ExecutionContext{CallerType: policy.CallerSkill, SkillSlug: "reporting"}
	result, err = s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://skill-only.example.com/", skillCtx, "proc-2")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.Decision.Allowed {
		t.Errorf("Allowed = false, want true for the matching skill scope; reason=%q", result.Decision.Reason)
	}
}

func TestDecisionService_CacheHitSkipsStoreButReEvaluatesGraph(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.example.com/**"}, GraphNodeID: "n1"},
	}
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "n1", PolicyID: "p1"}},
		Edges: []graph.Edge{{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n1", Effect: graph.EffectActivate, Enabled: true, Lifetime: graph.LifetimeProcess}},
	}
	s := newTestService(policies, g)
	ctx := context.Background()

	if _, err := s.Evaluate(ctx, policy.OpHTTPRequest, "https://api.example.com/a", nil, "proc-1"); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if s.cache.size() != 1 {
		t.Fatalf("cache size = %d, want 1 after first evaluation", s.cache.size())
	}

	// Same (profile, op, target, context) should hit cache but still fire
	// the activate edge again: graph side effects are never skipped.
	if _, err := s.Evaluate(ctx, policy.OpHTTPRequest, "https://api.example.com/a", nil, "proc-2"); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	gs := s.graphs.(*mockGraphStore)
	if got := len(gs.activations["e1"]); got != 2 {
		t.Errorf("activations recorded = %d, want 2 (graph effects recomputed on every call)", got)
	}
}

func TestDecisionService_ActivationBumpsGenerationInvalidatingCache(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.example.com/**"}, GraphNodeID: "n1"},
	}
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "n1", PolicyID: "p1"}},
		Edges: []graph.Edge{{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n1", Effect: graph.EffectActivate, Enabled: true, Lifetime: graph.LifetimeProcess}},
	}
	s := newTestService(policies, g)
	ctx := context.Background()

	before := s.generationFor("")
	if _, err := s.Evaluate(ctx, policy.OpHTTPRequest, "https://api.example.com/a", nil, "proc-1"); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	after := s.generationFor("")
	if after == before {
		t.Error("generation did not advance after an activate edge fired")
	}
}

func TestDecisionService_GraphLoadFailureFailsOpenWithoutEffects(t *testing.T) {
	t.Parallel()

	policies := []*policy.Policy{
		{ID: "p1", Enabled: true, Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.example.com/**"}, GraphNodeID: "n1"},
	}
	pstore := &mockPolicyStore{policies: policies}
	gstore := &mockGraphStore{loadErr: errors.New("storage unavailable")}
	ev := graph.NewEvaluator(gstore, nil, nil, testLogger())
	s := NewDecisionService(pstore, gstore, ev, sandbox.Config{}, testLogger())

	result, err := s.Evaluate(context.Background(), policy.OpHTTPRequest, "https://api.example.com/a", nil, "proc-1")
	if err != nil {
		t.Fatalf("Evaluate() error: %v, want nil (fail open without graph effects)", err)
	}
	if !result.Decision.Allowed {
		t.Error("Allowed = false, want true: a graph load failure must not turn a matched allow into a deny")
	}
}
