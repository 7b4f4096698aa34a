package cel

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/agenshield/shieldd/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConditionGate_Allows_EmptyConditionIsOpen(t *testing.T) {
	t.Parallel()

	env, err := NewConditionEnv(testLogger())
	if err != nil {
		t.Fatalf("NewConditionEnv() error: %v", err)
	}
	gate := env.ForRequest(nil, "exec", "curl")

	if !gate.Allows(context.Background(), "") {
		t.Error("Allows() = false for an empty condition, want true")
	}
}

func TestConditionGate_Allows_TrueAndFalseExpressions(t *testing.T) {
	t.Parallel()

	env, err := NewConditionEnv(testLogger())
	if err != nil {
		t.Fatalf("NewConditionEnv() error: %v", err)
	}

	tests := []struct {
		name      string
		evalCtx   *policy.ExecutionContext
		operation string
		target    string
		condition string
		want      bool
	}{
		{
			name:      "caller type matches",
			evalCtx:   &policy.ExecutionContext{CallerType: policy.CallerSkill, SkillSlug: "deploy-helper"},
			operation: "exec",
			target:    "kubectl",
			condition: `caller_type == "skill" && skill_slug == "deploy-helper"`,
			want:      true,
		},
		{
			name:      "caller type mismatches",
			evalCtx:   &policy.ExecutionContext{CallerType: policy.CallerAgent},
			operation: "exec",
			target:    "kubectl",
			condition: `caller_type == "skill"`,
			want:      false,
		},
		{
			name:      "glob on target",
			operation: "exec",
			target:    "npm",
			condition: `glob("npm*", target)`,
			want:      true,
		},
		{
			name:      "depth threshold",
			evalCtx:   &policy.ExecutionContext{Depth: 3},
			operation: "exec",
			condition: `depth < 2`,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gate := env.ForRequest(tt.evalCtx, tt.operation, tt.target)
			got := gate.Allows(context.Background(), tt.condition)
			if got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestConditionGate_Allows_InvalidExpressionTreatedAsOpen(t *testing.T) {
	t.Parallel()

	env, err := NewConditionEnv(testLogger())
	if err != nil {
		t.Fatalf("NewConditionEnv() error: %v", err)
	}
	gate := env.ForRequest(nil, "exec", "curl")

	if !gate.Allows(context.Background(), "not ( valid cel") {
		t.Error("Allows() = false for an unparseable condition, want true (open)")
	}
}

func TestConditionGate_Allows_NonBoolResultTreatedAsOpen(t *testing.T) {
	t.Parallel()

	env, err := NewConditionEnv(testLogger())
	if err != nil {
		t.Fatalf("NewConditionEnv() error: %v", err)
	}
	gate := env.ForRequest(nil, "exec", "curl")

	if !gate.Allows(context.Background(), `"a string, not a bool"`) {
		t.Error("Allows() = false for a non-bool result, want true (open)")
	}
}

func TestConditionGate_Allows_OversizedConditionTreatedAsOpen(t *testing.T) {
	t.Parallel()

	env, err := NewConditionEnv(testLogger())
	if err != nil {
		t.Fatalf("NewConditionEnv() error: %v", err)
	}
	gate := env.ForRequest(nil, "exec", "curl")

	huge := make([]byte, maxExpressionLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	if !gate.Allows(context.Background(), string(huge)) {
		t.Error("Allows() = false for an oversized condition, want true (open)")
	}
}
