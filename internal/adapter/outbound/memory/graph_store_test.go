package memory

import (
	"context"
	"testing"
	"time"

	"github.com/agenshield/shieldd/internal/domain/graph"
)

func TestGraphStore_LoadGraph_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewGraphStore()
	s.SetGraph("", &graph.Graph{Nodes: []graph.Node{{ID: "n1", PolicyID: "p1"}}})

	g, err := s.LoadGraph(ctx, "no-such-profile")
	if err != nil {
		t.Fatalf("LoadGraph() error: %v", err)
	}
	if len(g.Nodes) != 1 || g.Nodes[0].ID != "n1" {
		t.Errorf("LoadGraph() = %+v, want fallback to the global graph", g)
	}
}

func TestGraphStore_LoadGraph_ProfileScoped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewGraphStore()
	s.SetGraph("", &graph.Graph{Nodes: []graph.Node{{ID: "global"}}})
	s.SetGraph("a", &graph.Graph{Nodes: []graph.Node{{ID: "scoped-a"}}})

	g, err := s.LoadGraph(ctx, "a")
	if err != nil {
		t.Fatalf("LoadGraph() error: %v", err)
	}
	if len(g.Nodes) != 1 || g.Nodes[0].ID != "scoped-a" {
		t.Errorf("LoadGraph(%q) = %+v, want the profile-scoped graph", "a", g)
	}
}

func TestGraphStore_LoadGraph_EmptyWhenNoGraphAtAll(t *testing.T) {
	t.Parallel()

	g, err := NewGraphStore().LoadGraph(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("LoadGraph() error: %v", err)
	}
	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("LoadGraph() = %+v, want an empty graph", g)
	}
}

func TestGraphStore_ActivateAndGetActiveActivations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewGraphStore()

	a, err := s.Activate(ctx, "edge-1", "proc-1", nil)
	if err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if a.ID == "" {
		t.Error("Activate() returned an activation with no id")
	}

	active, err := s.GetActiveActivations(ctx, "edge-1")
	if err != nil {
		t.Fatalf("GetActiveActivations() error: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("GetActiveActivations() = %+v, want [%+v]", active, a)
	}
}

func TestGraphStore_GetActiveActivations_ExcludesExpiredAndConsumed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewGraphStore()

	past := time.Now().Add(-time.Hour)
	expired, err := s.Activate(ctx, "edge-1", "proc-1", &past)
	if err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	consumed, err := s.Activate(ctx, "edge-1", "proc-2", nil)
	if err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if err := s.ConsumeActivation(ctx, consumed.ID); err != nil {
		t.Fatalf("ConsumeActivation() error: %v", err)
	}
	live, err := s.Activate(ctx, "edge-1", "proc-3", nil)
	if err != nil {
		t.Fatalf("Activate() error: %v", err)
	}

	active, err := s.GetActiveActivations(ctx, "edge-1")
	if err != nil {
		t.Fatalf("GetActiveActivations() error: %v", err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Errorf("GetActiveActivations() = %+v, want only %+v (not expired %q or consumed %q)", active, live, expired.ID, consumed.ID)
	}
}

func TestGraphStore_GetActiveActivations_EmptyEdgeIDReturnsAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewGraphStore()
	if _, err := s.Activate(ctx, "edge-1", "proc-1", nil); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}
	if _, err := s.Activate(ctx, "edge-2", "proc-2", nil); err != nil {
		t.Fatalf("Activate() error: %v", err)
	}

	all, err := s.GetActiveActivations(ctx, "")
	if err != nil {
		t.Fatalf("GetActiveActivations() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("GetActiveActivations(\"\") returned %d activations, want 2", len(all))
	}
}

func TestGraphStore_ConsumeActivation_MissingIDIsNoop(t *testing.T) {
	t.Parallel()

	if err := NewGraphStore().ConsumeActivation(context.Background(), "nonexistent"); err != nil {
		t.Errorf("ConsumeActivation() of missing id error = %v, want nil", err)
	}
}
