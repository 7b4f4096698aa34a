// Package proxypool implements the Proxy Pool (C6) and the Per-Run Proxy it
// manages (C7): one process-wide pool of per-exec HTTP/CONNECT forward
// proxies, bound to kernel-assigned ports, reaped on eviction or idle
// timeout.
package proxypool

import (
	"github.com/agenshield/shieldd/internal/domain/policy"
)

// URLPolicyGetter returns the current URL-policy slice for a run, highest
// priority first, with synthetic graph-derived allow policies already
// prepended. It is a live callback, not a snapshot: the pool and the proxy
// never cache its result across requests.
type URLPolicyGetter func() []*policy.Policy

// DefaultActionGetter returns the fallback action used when no policy in
// the slice matches a request.
type DefaultActionGetter func() policy.Action

// DenyNotifier receives a deny event for every request the per-run proxy
// refuses, so the RPC Front End's activity channel (C8) can observe it.
type DenyNotifier interface {
	NotifyDeny(execID, target, reason string)
}

// noopDenyNotifier is used when a pool is constructed without a notifier.
type noopDenyNotifier struct{}

func (noopDenyNotifier) NotifyDeny(string, string, string) {}
