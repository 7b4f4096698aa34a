package rpc

import (
	"sync"
	"time"
)

const (
	rapidExecWindow    = time.Second
	rapidExecThreshold = 10
	execSessionIdleTTL = 5 * time.Minute
)

type sessionExecWindow struct {
	timestamps   []time.Time
	lastActivity time.Time
}

// ExecTracker implements the exec-chain rapid-exec heuristic (§4.8): more
// than rapidExecThreshold execs in rapidExecWindow from the same session
// trips a security warning. Idle sessions are pruned lazily on access, the
// same lazy-expiry-on-read discipline the teacher's session store uses.
type ExecTracker struct {
	mu       sync.Mutex
	sessions map[string]*sessionExecWindow
}

// NewExecTracker constructs an empty ExecTracker.
func NewExecTracker() *ExecTracker {
	return &ExecTracker{sessions: make(map[string]*sessionExecWindow)}
}

// RecordExec registers one exec for sessionID and reports whether it tripped
// the rapid-exec heuristic. A blank sessionID is never rapid.
func (t *ExecTracker) RecordExec(sessionID string) bool {
	if sessionID == "" {
		return false
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneIdleLocked(now)

	win, ok := t.sessions[sessionID]
	if !ok {
		win = &sessionExecWindow{}
		t.sessions[sessionID] = win
	}
	win.lastActivity = now
	win.timestamps = append(win.timestamps, now)

	cutoff := now.Add(-rapidExecWindow)
	kept := win.timestamps[:0]
	for _, ts := range win.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	win.timestamps = kept

	return len(win.timestamps) > rapidExecThreshold
}

func (t *ExecTracker) pruneIdleLocked(now time.Time) {
	for id, win := range t.sessions {
		if now.Sub(win.lastActivity) > execSessionIdleTTL {
			delete(t.sessions, id)
		}
	}
}

// SessionCount reports the number of tracked sessions. Useful for tests.
func (t *ExecTracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
