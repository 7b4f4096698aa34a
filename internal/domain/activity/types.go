// Package activity implements the Activity channel: a single process-wide
// pub/sub of ISO-timestamped tagged events (§3, §5, §6). The core only
// publishes; delivery to external subscribers (SSE, JSON-RPC events_batch
// fan-out) is the RPC Front End's concern.
package activity

import "time"

// Tag names the kind of event published on the channel.
type Tag string

const (
	TagAllowed         Tag = "allowed"
	TagDenied          Tag = "denied"
	TagExecMonitored   Tag = "exec:monitored"
	TagExecDenied      Tag = "exec:denied"
	TagSecurityWarning Tag = "security:warning"
)

// Event is one message on the activity channel. Fields carries the
// tag-specific payload (exec_id, target, reason, policy_id, ...).
type Event struct {
	Tag       Tag
	Timestamp time.Time
	Fields    map[string]any
}

// NewEvent stamps an event with the current time.
func NewEvent(tag Tag, fields map[string]any) Event {
	return Event{Tag: tag, Timestamp: time.Now(), Fields: fields}
}

// TimestampISO8601 renders the event's timestamp in the wire format §3
// mandates for activity events.
func (e Event) TimestampISO8601() string {
	return e.Timestamp.UTC().Format(time.RFC3339Nano)
}
