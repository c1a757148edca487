// Package events fans pipeline events out to subscribers and sinks.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	TypeSign           Type = "sign"
	TypeCycleError     Type = "cycle_error"
	TypeCaptureStarted Type = "capture_started"
	TypeCaptureStopped Type = "capture_stopped"
	TypeReset          Type = "reset"
	TypeTranslation    Type = "translation"
	TypeSpeech         Type = "speech"
	TypeModelLoaded    Type = "model_loaded"
	TypeModelError     Type = "model_error"
)

// Event is one pipeline notification.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data,omitempty"`
}

// Sink receives every published event. Publish must not block.
type Sink interface {
	Publish(Event)
}

// Publisher is what event producers depend on.
type Publisher interface {
	Publish(Event)
}

// Hub distributes events to channel subscribers and sinks. Slow subscribers
// drop events rather than stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	sinks  []Sink
	logger *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		logger: logger.With(slog.String("component", "events")),
	}
}

// AddSink registers a sink.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish stamps e with the current time when unset and delivers it.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Debug("dropping event for slow subscriber", slog.String("type", string(e.Type)))
		}
	}
	for _, s := range h.sinks {
		s.Publish(e)
	}
}
