package service

import (
	"context"
	"math"

	"github.com/agenshield/shieldd/internal/domain/policy"
	"github.com/agenshield/shieldd/internal/domain/proxypool"
)

// syntheticNetworkGrantPriority is chosen above any operator-authored
// policy's Priority so a Policy Graph network grant always wins the §4.7
// per-request re-evaluation, matching the precedence it already has at
// acquire time (§4.5 rule 9: a grant overrides every other network signal).
const syntheticNetworkGrantPriority = math.MaxInt32

// URLPolicyGetter returns a proxypool.URLPolicyGetter scoped to execCtx's
// profile, re-fetching the current URL-target policy set from storage on
// every call so a policy edit is effective on the per-run proxy's next
// connection without tearing it down (§4.6). grantedNetworkPatterns are the
// Policy Graph grant_network patterns captured once, at the exec decision
// that acquired this proxy, and are prepended as synthetic highest-priority
// allow policies on every call.
func (s *DecisionService) URLPolicyGetter(execCtx *policy.ExecutionContext, grantedNetworkPatterns []string) proxypool.URLPolicyGetter {
	profileID := profileIDFor(execCtx)
	var synthetic *policy.Policy
	if len(grantedNetworkPatterns) > 0 {
		synthetic = &policy.Policy{
			ID:       "policy-graph-network-grant",
			Name:     "policy graph network grant",
			Action:   policy.ActionAllow,
			Target:   policy.TargetURL,
			Patterns: grantedNetworkPatterns,
			Enabled:  true,
			Priority: syntheticNetworkGrantPriority,
		}
	}

	return func() []*policy.Policy {
		ctx := context.Background()
		policies, err := s.policies.GetEnabledPolicies(ctx, profileID)
		if err != nil {
			s.logger.Warn("decision: loading URL policies for per-run proxy failed", "profile_id", profileID, "error", err)
			policies = nil
		}

		g, err := s.graphs.LoadGraph(ctx, profileID)
		if err != nil {
			s.logger.Warn("decision: graph load failed for per-run proxy, evaluating without dormant filtering", "profile_id", profileID, "error", err)
			g = nil
		}

		filtered := s.filterPolicies(ctx, policies, g, execCtx)
		urlPolicies := make([]*policy.Policy, 0, len(filtered)+1)
		if synthetic != nil {
			urlPolicies = append(urlPolicies, synthetic)
		}
		for _, p := range filtered {
			if p.Target == policy.TargetURL {
				urlPolicies = append(urlPolicies, p)
			}
		}
		sortByPriorityDesc(urlPolicies)
		return urlPolicies
	}
}

// DefaultActionGetter returns the fallback action the per-run proxy uses
// when no URL policy matches a request (§4.7 step 3).
func (s *DecisionService) DefaultActionGetter() proxypool.DefaultActionGetter {
	return func() policy.Action { return s.defaultAct }
}
