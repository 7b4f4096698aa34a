package policy

import "strings"

// MatchPolicy reports whether p participates in matching an operation
// against target: its target type must agree with op's target type, its
// operations filter (if any) must include op, and at least one of its
// patterns must match target (§4.3 steps 6-7). The pattern matcher used
// depends on the target type.
func MatchPolicy(p *Policy, op Operation, target string) bool {
	if p.Target != TargetTypeForOperation(op) {
		return false
	}
	if !p.HasOperation(op) {
		return false
	}
	for _, pattern := range p.Patterns {
		if matchPattern(p.Target, pattern, target) {
			return true
		}
	}
	return false
}

func matchPattern(target TargetType, pattern, value string) bool {
	switch target {
	case TargetURL:
		return MatchURL(pattern, value)
	case TargetCommand:
		return MatchCommand(pattern, value)
	case TargetFilesystem:
		return MatchFilesystem(pattern, value)
	case TargetSkill:
		return MatchSkill(pattern, value)
	default:
		return false
	}
}

// plainHTTPAllowed implements the plain-HTTP default-deny gate (§4.3 step
// 5): for a target beginning with "http://", only an explicit
// "http://"-prefixed allow pattern on a url policy may admit it.
func plainHTTPAllowed(policies []*Policy, target string) bool {
	norm := NormalizeURL(target)
	for _, p := range policies {
		if !p.Enabled || p.Action != ActionAllow || p.Target != TargetURL {
			continue
		}
		for _, pattern := range p.Patterns {
			if strings.HasPrefix(strings.TrimSpace(pattern), "http://") && MatchURL(pattern, norm) {
				return true
			}
		}
	}
	return false
}

// Decide runs the priority-ordered matching procedure of §4.3 steps 5-8
// (minus the Policy Graph invocation, which callers apply separately when a
// matched policy carries a graph node) over an already scope-filtered,
// priority-sorted policy slice. defaultAction is used when no policy
// matches. The returned *Policy is nil when the decision fell through to
// defaultAction.
func Decide(policies []*Policy, op Operation, target string, defaultAction Action) (Decision, *Policy) {
	if TargetTypeForOperation(op) == TargetURL && IsHTTPTarget(target) && !plainHTTPAllowed(policies, target) {
		return Decision{Allowed: false, Reason: "plain HTTP blocked by default"}, nil
	}

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !MatchPolicy(p, op, target) {
			continue
		}
		return Decision{
			Allowed:  p.Action == ActionAllow,
			PolicyID: p.ID,
			Reason:   "matched policy " + p.ID,
		}, p
	}

	return Decision{
		Allowed: defaultAction == ActionAllow,
		Reason:  "no matching policy (default " + string(defaultAction) + ")",
	}, nil
}
