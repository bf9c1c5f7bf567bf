// Package relay terminates realtime connections and routes channel events
// between live sessions. Each user has one logical room; every live
// connection registered under that user's id receives events addressed to it.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classroom-messaging/internal/models"
	"classroom-messaging/internal/observability"
	"classroom-messaging/internal/rabbitmq"
)

// Hub maintains the per-user rooms.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[int]map[*websocket.Conn]bool
	connInfo  map[int]map[*websocket.Conn]ConnInfo
	publisher rabbitmq.Publisher
}

// NewHub creates an empty hub. publisher may be nil to skip event publishing.
func NewHub(publisher rabbitmq.Publisher) *Hub {
	return &Hub{
		rooms:     make(map[int]map[*websocket.Conn]bool),
		connInfo:  make(map[int]map[*websocket.Conn]ConnInfo),
		publisher: publisher,
	}
}

// Register adds a connection to the user's room. Registering the same
// connection again is a no-op, so repeated join announcements are harmless.
func (h *Hub) Register(userID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[userID]; !ok {
		h.rooms[userID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[userID][conn] = true
	if _, ok := h.connInfo[userID]; !ok {
		h.connInfo[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[userID][conn] = info
}

// Unregister removes a connection from the user's room.
func (h *Hub) Unregister(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, userID)
		}
	}
	if infos, ok := h.connInfo[userID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, userID)
		}
	}
}

// RoomSize reports how many live connections the user currently has.
func (h *Hub) RoomSize(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// SendToUser delivers one event to every live connection of the user. Dead
// connections are closed and removed.
func (h *Hub) SendToUser(userID int, event string, payload any) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("relay: encode %s failed: %v", event, err)
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Printf("relay: encode %s failed: %v", event, err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[userID]))
	for conn := range h.rooms[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("relay: websocket write error: %v", err)
			conn.Close()
			h.publishConnEvent(userID, conn, "ws_error", err.Error())
			h.Unregister(userID, conn)
		}
	}
	observability.IncWSEvent("relay", event)
}

func (h *Hub) publishConnEvent(userID int, conn *websocket.Conn, event, reason string) {
	if h.publisher == nil {
		return
	}

	h.mu.RLock()
	info, ok := h.connInfo[userID][conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload := map[string]any{
		"event":       event,
		"conn_id":     info.ConnID,
		"user_id":     info.UserID,
		"role":        info.Role,
		"ip":          info.IP,
		"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
		"reason":      reason,
	}
	headers := map[string]string{}
	if info.RequestID != "" {
		headers["x-request-id"] = info.RequestID
	}
	if info.TraceID != "" {
		headers["trace_id"] = info.TraceID
	}
	_ = h.publisher.Publish(context.Background(), "ws_events.messaging", payload, headers)
	observability.IncWSEvent("relay", event)
}
