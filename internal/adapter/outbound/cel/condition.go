// Package cel adapts google/cel-go into the Policy Graph Evaluator's
// optional edge condition gate.
package cel

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/agenshield/shieldd/internal/domain/policy"
)

// maxExpressionLength bounds a condition string before it is even parsed.
const maxExpressionLength = 1024

// maxCostBudget caps the CEL runtime cost of a single evaluation.
const maxCostBudget = 100_000

// evalTimeout bounds a single condition evaluation.
const evalTimeout = 2 * time.Second

// ConditionEnv holds the compiled CEL environment shared across requests.
// It is safe for concurrent use; per-request state is bound via ForRequest.
type ConditionEnv struct {
	env *cel.Env
	log *slog.Logger
}

// ForRequest binds a single decision's execution context, operation, and
// target into a graph.ConditionGate scoped to that request only.
func (e *ConditionEnv) ForRequest(evalCtx *policy.ExecutionContext, operation, target string) *ConditionGate {
	return &ConditionGate{env: e, evalCtx: evalCtx, operation: operation, target: target}
}

// ConditionGate implements graph.ConditionGate for a single decision.
type ConditionGate struct {
	env       *ConditionEnv
	evalCtx   *policy.ExecutionContext
	operation string
	target    string
}

// NewConditionEnv builds the CEL environment used for edge condition
// gating.
func NewConditionEnv(log *slog.Logger) (*ConditionEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("caller_type", cel.StringType),
		cel.Variable("skill_slug", cel.StringType),
		cel.Variable("depth", cel.IntType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("user", cel.StringType),
		cel.Variable("source_layer", cel.StringType),
		cel.Variable("profile_id", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("target", cel.StringType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					matched, _ := filepath.Match(pattern.Value().(string), s.Value().(string))
					return types.Bool(matched)
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: building condition environment: %w", err)
	}
	return &ConditionEnv{env: env, log: log}, nil
}

// Allows reports whether condition gates the edge open. A condition that is
// empty, fails to parse, fails to type-check, or fails to evaluate to a
// bool is treated as "no condition" (open) and logged at debug level,
// never fatal, matching the graph evaluator's per-edge isolation.
func (g *ConditionGate) Allows(ctx context.Context, condition string) bool {
	if condition == "" {
		return true
	}
	if len(condition) > maxExpressionLength {
		g.env.log.Debug("graph edge condition too long, treating as open", "length", len(condition))
		return true
	}

	prg, err := g.env.compile(condition)
	if err != nil {
		g.env.log.Debug("graph edge condition did not compile, treating as open", "condition", condition, "error", err)
		return true
	}

	activation := buildActivation(g.evalCtx, g.operation, g.target)

	runCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(runCtx, activation)
	if err != nil {
		g.env.log.Debug("graph edge condition failed to evaluate, treating as open", "condition", condition, "error", err)
		return true
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		g.env.log.Debug("graph edge condition did not return a bool, treating as open", "condition", condition)
		return true
	}
	return allowed
}

func (e *ConditionEnv) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return e.env.Program(ast, cel.EvalOptions(cel.OptOptimize), cel.CostLimit(maxCostBudget))
}

func buildActivation(evalCtx *policy.ExecutionContext, operation, target string) map[string]any {
	if evalCtx == nil {
		evalCtx = &policy.ExecutionContext{}
	}
	return map[string]any{
		"caller_type":  string(evalCtx.CallerType),
		"skill_slug":   evalCtx.SkillSlug,
		"depth":        int64(evalCtx.Depth),
		"session_id":   evalCtx.SessionID,
		"user":         evalCtx.User,
		"source_layer": evalCtx.SourceLayer,
		"profile_id":   evalCtx.ProfileID,
		"operation":    operation,
		"target":       target,
	}
}
