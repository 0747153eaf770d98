// ABOUTME: Fans runner lifecycle events out to server-sent-event subscribers with a bounded replay history.
// ABOUTME: Provides SSEEvent formatting and the EventHub used as the runner's event handler.
package web

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/2389-research/taskrunner/runner"
)

// SSEEvent is a server-sent event ready for transmission.
type SSEEvent struct {
	Event string // event type, e.g. "task.started"
	Data  string // JSON-encoded event data
}

// Format renders the event as "event: <type>\ndata: <data>\n\n".
func (e SSEEvent) Format() string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Event, e.Data)
}

// engineEventToSSE converts a runner event into an SSEEvent.
func engineEventToSSE(evt runner.EngineEvent) SSEEvent {
	data := map[string]any{
		"timestamp": evt.Timestamp.Format(time.RFC3339Nano),
	}
	if evt.TaskID != 0 {
		data["task_id"] = evt.TaskID
	}
	for k, v := range evt.Data {
		data[k] = v
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		jsonData = []byte(`{"error":"failed to marshal event"}`)
	}
	return SSEEvent{Event: string(evt.Type), Data: string(jsonData)}
}

// EventHub keeps the most recent events and forwards new ones to every
// subscriber. Slow subscribers lose events rather than stall the runner.
type EventHub struct {
	mu      sync.Mutex
	history []SSEEvent
	max     int
	subs    map[int]chan SSEEvent
	next    int
}

// NewEventHub creates a hub replaying at most maxHistory events to new
// subscribers. If maxHistory is <= 0, it defaults to 200.
func NewEventHub(maxHistory int) *EventHub {
	if maxHistory <= 0 {
		maxHistory = 200
	}
	return &EventHub{max: maxHistory, subs: make(map[int]chan SSEEvent)}
}

// Publish matches runner.WithEventHandler. Output events are forwarded
// live but not kept in the replay history.
func (h *EventHub) Publish(evt runner.EngineEvent) {
	sse := engineEventToSSE(evt)
	h.mu.Lock()
	defer h.mu.Unlock()
	if evt.Type != runner.EventTaskOutput {
		if len(h.history) >= h.max {
			h.history = h.history[1:]
		}
		h.history = append(h.history, sse)
	}
	for _, ch := range h.subs {
		select {
		case ch <- sse:
		default:
		}
	}
}

// SubscribeWithHistory returns the replay history, a channel of new events,
// and a func that unsubscribes and closes the channel.
func (h *EventHub) SubscribeWithHistory() ([]SSEEvent, <-chan SSEEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan SSEEvent, 64)
	h.subs[id] = ch
	history := append([]SSEEvent(nil), h.history...)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return history, ch, unsubscribe
}

// HistorySnapshot returns a copy of the replay history.
func (h *EventHub) HistorySnapshot() []SSEEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SSEEvent(nil), h.history...)
}

// Subscribers returns the number of live subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
