// Package events rebroadcasts the dispatcher's Started/Finished/Failed
// stream to any number of connected observers over a websocket, the
// software analogue of tapping the FPGA's indication stream. The hub
// shape — one goroutine owning client state, register/remove/broadcast
// channels — is the flow-control-sim example's wsHub generalized from
// simulation frames to puppetmaster events.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/puppetmaster/internal/common"
)

// Hub fans out Events to every connected websocket client.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	log       *slog.Logger
}

// NewHub starts a Hub's dispatch loop and returns it.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 64),
		log:       log.With("component", "events"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.log.Warn("failed to send event to observer", "error", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// ServeHTTP upgrades the connection and registers it as an observer. Each
// connection is write-only from the hub's perspective; any inbound message
// is drained and ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.remove <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish broadcasts ev as JSON to every connected observer.
func (h *Hub) Publish(ev common.Event) {
	data, err := json.Marshal(wireEvent{TID: ev.TID, Status: ev.Status.String(), Timestamp: ev.Timestamp})
	if err != nil {
		h.log.Error("failed to marshal event", "error", err)
		return
	}
	h.broadcast <- data
}

type wireEvent struct {
	TID       uint64 `json:"tid"`
	Status    string `json:"status"`
	Timestamp uint64 `json:"timestamp"`
}
