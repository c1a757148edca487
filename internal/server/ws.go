package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/events"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// EventsHandler streams pipeline events to WebSocket clients as JSON.
type EventsHandler struct {
	hub    *events.Hub
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler fed by hub.
func NewEventsHandler(hub *events.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: logger.With(slog.String("component", "ws"))}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.hub.Subscribe(eventBuffer)
	defer unsubscribe()

	// The client never sends anything useful; reading detects disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
