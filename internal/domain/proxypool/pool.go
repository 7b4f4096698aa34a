package proxypool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxConcurrent and DefaultIdleTimeout are the pool's §4.6 defaults.
const (
	DefaultMaxConcurrent = 50
	DefaultIdleTimeout   = 5 * time.Minute
)

// entry is a Proxy Pool Entry (GLOSSARY): one running per-run proxy and the
// bookkeeping the pool needs to evict or idle-reap it.
type entry struct {
	execID       string
	command      string
	proxy        *runProxy
	lastActivity time.Time
	idleTimer    *time.Timer
}

// Pool is the process-wide Proxy Pool (C6). The zero value is not usable;
// construct with New.
type Pool struct {
	mu            sync.Mutex
	entries       map[string]*entry
	maxConcurrent int
	idleTimeout   time.Duration
	deny          DenyNotifier
	logger        *slog.Logger
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithMaxConcurrent overrides DefaultMaxConcurrent.
func WithMaxConcurrent(n int) Option {
	return func(p *Pool) { p.maxConcurrent = n }
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithDenyNotifier wires the activity channel to receive proxy-side deny
// events. Without it, denies are silently dropped.
func WithDenyNotifier(n DenyNotifier) Option {
	return func(p *Pool) { p.deny = n }
}

// New constructs a Pool with the given logger and options applied over the
// §4.6 defaults.
func New(logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		entries:       make(map[string]*entry),
		maxConcurrent: DefaultMaxConcurrent,
		idleTimeout:   DefaultIdleTimeout,
		deny:          noopDenyNotifier{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the port of a running per-run proxy for execID, starting
// one if none exists yet (§4.6). A second Acquire for the same execID
// returns the existing entry's port and resets its idle timer, guaranteeing
// at most one proxy per execId.
func (p *Pool) Acquire(execID, command string, urlPolicies URLPolicyGetter, defaultAction DefaultActionGetter) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[execID]; ok {
		p.touchLocked(e)
		return e.proxy.port(), nil
	}

	if len(p.entries) >= p.maxConcurrent {
		p.evictOldestLocked()
	}

	proxy, err := newRunProxy(execID, urlPolicies, defaultAction, func() { p.onActivity(execID) }, p.deny, p.logger)
	if err != nil {
		return 0, fmt.Errorf("proxypool: acquire %s: %w", execID, err)
	}

	e := &entry{execID: execID, command: command, proxy: proxy, lastActivity: time.Now()}
	e.idleTimer = time.AfterFunc(p.idleTimeout, func() { p.reapIdle(execID) })
	p.entries[execID] = e

	go proxy.serve()

	p.logger.Debug("proxy pool acquired", "exec_id", execID, "command", command, "port", proxy.port(), "size", len(p.entries))
	return proxy.port(), nil
}

// Release stops and removes the entry for execID. Safe to call when no
// entry exists.
func (p *Pool) Release(execID string) {
	p.mu.Lock()
	e, ok := p.entries[execID]
	if ok {
		delete(p.entries, execID)
	}
	p.mu.Unlock()

	if ok {
		p.closeEntry(e)
	}
}

// Shutdown releases every entry. Safe to call multiple times.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	all := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range all {
		p.closeEntry(e)
	}
}

// Size returns the number of live entries. Useful for tests and metrics.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) closeEntry(e *entry) {
	e.idleTimer.Stop()
	if err := e.proxy.close(); err != nil {
		p.logger.Debug("proxy pool close error", "exec_id", e.execID, "error", err)
	}
}

// touchLocked resets an entry's lastActivity and idle timer. Must be called
// with p.mu held.
func (p *Pool) touchLocked(e *entry) {
	e.lastActivity = time.Now()
	e.idleTimer.Reset(p.idleTimeout)
}

// onActivity is invoked by a running proxy on every request; it resets the
// entry's idle timer without requiring the proxy to know about eviction.
func (p *Pool) onActivity(execID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[execID]; ok {
		p.touchLocked(e)
	}
}

// reapIdle removes an entry whose idle timer fired without being reset in
// the meantime. In-flight connections already accepted complete normally;
// only new connections are refused once the listener closes.
func (p *Pool) reapIdle(execID string) {
	p.mu.Lock()
	e, ok := p.entries[execID]
	if ok {
		delete(p.entries, execID)
	}
	p.mu.Unlock()

	if ok {
		p.logger.Debug("proxy pool idle reap", "exec_id", execID)
		_ = e.proxy.close()
	}
}

// evictOldestLocked releases the entry with the oldest lastActivity to make
// room for a new one. Must be called with p.mu held.
func (p *Pool) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	first := true
	for id, e := range p.entries {
		if first || e.lastActivity.Before(oldest) {
			oldestID, oldest = id, e.lastActivity
			first = false
		}
	}
	if oldestID == "" {
		return
	}

	e := p.entries[oldestID]
	delete(p.entries, oldestID)
	p.logger.Debug("proxy pool evicted", "exec_id", oldestID, "last_activity", oldest)
	p.closeEntry(e)
}
