package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agenshield/shieldd/internal/domain/activity"
)

// EventsHandler serves GET /events: an SSE stream of the activity channel,
// the external-subscriber delivery the core's pub/sub deliberately leaves
// to the front end. One HTTP connection maps to one channel subscription
// for the life of the request.
type EventsHandler struct {
	activity *activity.Channel
	logger   *slog.Logger
}

// NewEventsHandler wires an EventsHandler over ch.
func NewEventsHandler(ch *activity.Channel, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{activity: ch, logger: logger}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.activity.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventWire{
				Tag:       string(e.Tag),
				Timestamp: e.TimestampISO8601(),
				Fields:    e.Fields,
			})
			if err != nil {
				h.logger.Warn("events: failed to encode activity event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
