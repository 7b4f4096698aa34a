package activity

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSubscriberBufferSize bounds each subscriber's event backlog, per
// the teacher's audit channel sizing (AuditService's default channel size,
// scaled down: one buffer per subscriber rather than one shared sink).
const DefaultSubscriberBufferSize = 256

// warningRateLimit throttles the "subscriber falling behind" log so a
// persistently slow subscriber cannot flood the daemon's own logs.
const warningRateLimit = 5 * time.Second

// subscriber is one listener's view of the channel: a buffered queue plus
// the bookkeeping needed to warn (not block) when it falls behind.
type subscriber struct {
	id          int
	events      chan Event
	dropCount   atomic.Int64
	lastWarning atomic.Int64 // unix nanos, 0 = never warned
}

// Channel is the process-wide Activity channel (§3, §5): one pub/sub
// instance, shared by every publisher and every subscriber in the daemon.
type Channel struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	logger      *slog.Logger
}

// Option configures a Channel at construction time.
type Option func(*Channel)

// WithBufferSize overrides DefaultSubscriberBufferSize.
func WithBufferSize(size int) Option {
	return func(c *Channel) { c.bufferSize = size }
}

// NewChannel constructs an empty Channel.
func NewChannel(logger *slog.Logger, opts ...Option) *Channel {
	c := &Channel{
		subscribers: make(map[int]*subscriber),
		bufferSize:  DefaultSubscriberBufferSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers a new listener and returns its event stream and an
// unsubscribe function. The returned channel is closed once unsubscribe is
// called; callers must drain it promptly or accept dropped events under
// load (§5: ordering within a subscriber is guaranteed, across subscribers
// it is not).
func (c *Channel) Subscribe() (events <-chan Event, unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	sub := &subscriber{id: id, events: make(chan Event, c.bufferSize)}
	c.subscribers[id] = sub
	c.mu.Unlock()

	return sub.events, func() { c.unsubscribe(id) }
}

func (c *Channel) unsubscribe(id int) {
	c.mu.Lock()
	sub, ok := c.subscribers[id]
	if ok {
		delete(c.subscribers, id)
	}
	c.mu.Unlock()
	if ok {
		close(sub.events)
	}
}

// Publish fans e out to every current subscriber without blocking on any
// one of them: a full subscriber buffer drops the event and increments
// that subscriber's drop counter rather than stall the publisher, mirroring
// the teacher's audit channel backpressure discipline.
func (c *Channel) Publish(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		select {
		case sub.events <- e:
		default:
			sub.dropCount.Add(1)
			c.warnDropLocked(sub)
		}
	}
}

func (c *Channel) warnDropLocked(sub *subscriber) {
	now := time.Now().UnixNano()
	last := sub.lastWarning.Load()
	if now-last < int64(warningRateLimit) {
		return
	}
	if !sub.lastWarning.CompareAndSwap(last, now) {
		return
	}
	c.logger.Warn("activity subscriber falling behind, dropping event", "subscriber_id", sub.id, "dropped_total", sub.dropCount.Load())
}

// NotifyDeny implements proxypool.DenyNotifier, publishing a TagDenied
// event for every request the per-run proxy refuses.
func (c *Channel) NotifyDeny(execID, target, reason string) {
	c.Publish(NewEvent(TagDenied, map[string]any{
		"exec_id": execID,
		"target":  target,
		"reason":  reason,
	}))
}

// SubscriberCount reports the number of live subscribers. Useful for
// metrics and tests.
func (c *Channel) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}
