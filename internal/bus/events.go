// Package bus is the in-process publish/subscribe bus for message pipeline
// lifecycle events.
package bus

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Pipeline events.
const (
	EventConnected         = "connection.opened"
	EventDisconnected      = "connection.closed"
	EventRoomJoined        = "room.joined"
	EventRoomLeft          = "room.left"
	EventMessageReceived   = "message.received"
	EventAttachmentFailed  = "attachment.failed"
	EventModelCompleted    = "model.completed"
	EventModelFailed       = "model.failed"
	EventArtifactPublished = "artifact.published"
	EventRenderFailed      = "render.failed"
	EventMessageAnswered   = "message.answered"
	EventMessageRejected   = "message.rejected"
	EventPersistFailed     = "persist.failed"
)

const defaultHistory = 1000

// Event describes one step of a room's message pipeline.
type Event struct {
	Type      string
	RoomID    string // empty for connection-level events
	Payload   map[string]any
	Timestamp time.Time
}

type EventHandler func(Event)

type subscription struct {
	id    uint64
	types []string // nil matches every event
	fn    EventHandler
}

func (s subscription) matches(typ string) bool {
	return s.types == nil || slices.Contains(s.types, typ)
}

// EventBus delivers events synchronously, in subscription order, and keeps
// the most recent ones in a ring for Replay.
type EventBus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []subscription
	lastID uint64

	ring []Event
	head int // index of the oldest event
	size int
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return newEventBus(logger, defaultHistory)
}

func newEventBus(logger *slog.Logger, history int) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger, ring: make([]Event, history)}
}

// Subscribe calls fn for events of the given types, or for every event
// when no type is given. The returned func removes the subscription.
func (eb *EventBus) Subscribe(fn EventHandler, types ...string) (cancel func()) {
	eb.mu.Lock()
	eb.lastID++
	id := eb.lastID
	sub := subscription{id: id, fn: fn}
	if len(types) > 0 {
		sub.types = slices.Clone(types)
	}
	eb.subs = append(eb.subs, sub)
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			eb.subs = slices.DeleteFunc(eb.subs, func(s subscription) bool { return s.id == id })
			eb.mu.Unlock()
		})
	}
}

// Emit records the event and runs the matching handlers. A panicking
// handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.record(event)
	var targets []subscription
	for _, s := range eb.subs {
		if s.matches(event.Type) {
			targets = append(targets, s)
		}
	}
	eb.mu.Unlock()

	for _, s := range targets {
		eb.deliver(s, event)
	}
}

func (eb *EventBus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "subscription", s.id, "panic", r)
		}
	}()
	s.fn(event)
}

// record appends to the ring, overwriting the oldest entry when full.
func (eb *EventBus) record(event Event) {
	if len(eb.ring) == 0 {
		return
	}
	if eb.size < len(eb.ring) {
		eb.ring[(eb.head+eb.size)%len(eb.ring)] = event
		eb.size++
		return
	}
	eb.ring[eb.head] = event
	eb.head = (eb.head + 1) % len(eb.ring)
}

// Replay returns the recorded events of eventType ("" for any type) in
// roomID ("" for any room), oldest first.
func (eb *EventBus) Replay(eventType, roomID string) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	for i := range eb.size {
		e := eb.ring[(eb.head+i)%len(eb.ring)]
		if eventType != "" && e.Type != eventType {
			continue
		}
		if roomID != "" && e.RoomID != roomID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Recorded reports how many events the ring holds.
func (eb *EventBus) Recorded() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.size
}
