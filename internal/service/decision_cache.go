package service

import (
	"sync"

	"github.com/agenshield/shieldd/internal/domain/policy"
)

// DefaultDecisionCacheSize bounds the Policy Decision Engine's result cache,
// matching the teacher's ResultCache default sizing.
const DefaultDecisionCacheSize = 1000

// cachedDecision is what the decision cache stores: the pure match
// resolution of §4.3 steps 1-8 minus the Graph Evaluator invocation. matched
// is nil when the decision fell through to the configured default action.
type cachedDecision struct {
	decision policy.Decision
	matched  *policy.Policy
}

type decisionCacheEntry struct {
	key   uint64
	value cachedDecision
	prev  *decisionCacheEntry
	next  *decisionCacheEntry
}

// decisionCache is a bounded LRU cache keyed by an xxhash fingerprint of
// (profile, operation, target, context, graph generation). It never caches
// graph effects: activate/revoke/inject_secret edges have side effects that
// must run on every call, so the Graph Evaluator is always invoked fresh
// against whatever this cache returns, cache hit or miss.
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*decisionCacheEntry
	head    *decisionCacheEntry
	tail    *decisionCacheEntry
	maxSize int
}

func newDecisionCache(maxSize int) *decisionCache {
	return &decisionCache{entries: make(map[uint64]*decisionCacheEntry, maxSize), maxSize: maxSize}
}

func (c *decisionCache) Get(key uint64) (cachedDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.value, true
	}
	return cachedDecision{}, false
}

func (c *decisionCache) Put(key uint64, value cachedDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &decisionCacheEntry{key: key, value: value}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *decisionCache) moveToHeadLocked(e *decisionCacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *decisionCache) pushHeadLocked(e *decisionCacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *decisionCache) unlinkLocked(e *decisionCacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *decisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

func (c *decisionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
