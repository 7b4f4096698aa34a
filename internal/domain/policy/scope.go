package policy

import "strings"

// ScopeIncludes implements the Scope Resolver (C2, §4.2): given a policy's
// scope and an execution context, decides whether the policy participates
// in URL/command/filesystem evaluation for that context.
//
// command:<basename> is never included via this path; command-scoped
// policies are filtered separately by AggregateCommandScoped, used only by
// the sandbox/proxy path (§4.5/§4.6). This asymmetry is intentional (§9)
// and must not be "fixed".
func ScopeIncludes(scope string, ctx *ExecutionContext) bool {
	switch {
	case scope == "":
		return true
	case scope == "agent":
		return ctx == nil || ctx.CallerType == CallerAgent
	case scope == "skill":
		return ctx != nil && ctx.CallerType == CallerSkill
	case strings.HasPrefix(scope, "skill:"):
		slug := strings.TrimPrefix(scope, "skill:")
		return ctx != nil && ctx.CallerType == CallerSkill && strings.EqualFold(ctx.SkillSlug, slug)
	case strings.HasPrefix(scope, "command:"):
		return false
	default:
		// Unknown scope prefix: forward-compatibility permissive fallback.
		return true
	}
}

// IsUniversalScope reports whether a scope string is the universal (absent)
// scope, used to order universal policies before command-scoped ones.
func IsUniversalScope(scope string) bool {
	return scope == ""
}

// CommandScopeBasename extracts <basename> from a "command:<basename>"
// scope string, or "" if scope is not command-scoped.
func CommandScopeBasename(scope string) (basename string, ok bool) {
	if !strings.HasPrefix(scope, "command:") {
		return "", false
	}
	return strings.TrimPrefix(scope, "command:"), true
}

// AggregateCommandScoped implements the command-scoped aggregation ordering
// contract (§4.2): all universal policies first (relative order preserved),
// then command-scoped policies whose basename matches commandBasename
// case-insensitively, in their relative order. Used when building a sandbox
// spec and when filtering URL policies for a per-run proxy.
func AggregateCommandScoped(policies []*Policy, commandBasename string) []*Policy {
	out := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if IsUniversalScope(p.Scope) {
			out = append(out, p)
		}
	}
	for _, p := range policies {
		basename, ok := CommandScopeBasename(p.Scope)
		if !ok {
			continue
		}
		if strings.EqualFold(basename, commandBasename) {
			out = append(out, p)
		}
	}
	return out
}
