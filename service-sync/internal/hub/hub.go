// Package hub is the fan-out layer: it tracks which connections are
// subscribed to which room and user groups and delivers events to them.
// It holds no business logic and never mutates domain entities.
package hub

import (
	"sync"

	"github.com/redinc23/hathor-red-sub003/pkg/model"

	"github.com/google/uuid"
)

// Hub addresses two scope kinds: one group per room and one group per user
// (a user's group spans all of that user's devices). Subscriptions are tied
// to connection lifetime; Unregister removes a connection from every scope.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[uuid.UUID]*Conn // room id -> conn id -> conn
	users map[uuid.UUID]map[uuid.UUID]*Conn // user id -> conn id -> conn
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		rooms: make(map[uuid.UUID]map[uuid.UUID]*Conn),
		users: make(map[uuid.UUID]map[uuid.UUID]*Conn),
	}
}

// Register adds a connection to its user's group.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[uuid.UUID]*Conn)
	}
	h.users[c.UserID][c.ID] = c
}

// Unregister removes a connection from its user group and any room group.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.users[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.UserID)
		}
	}

	if roomID, ok := c.Room(); ok {
		h.removeFromRoom(roomID, c.ID)
	}
}

// SubscribeRoom adds a connection to a room's group.
func (h *Hub) SubscribeRoom(roomID uuid.UUID, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uuid.UUID]*Conn)
	}
	h.rooms[roomID][c.ID] = c
}

// UnsubscribeRoom removes a connection from a room's group.
func (h *Hub) UnsubscribeRoom(roomID uuid.UUID, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(roomID, c.ID)
}

func (h *Hub) removeFromRoom(roomID, connID uuid.UUID) {
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// BroadcastRoom delivers an event to every connection subscribed to the room,
// except the ones listed in exclude. Fan-out is independent per connection.
func (h *Hub) BroadcastRoom(roomID uuid.UUID, message model.ServerMessage, exclude ...uuid.UUID) {
	for _, c := range h.roomConns(roomID) {
		if excluded(c.ID, exclude) {
			continue
		}
		c.Send(message)
	}
}

// BroadcastUser delivers an event to every connection in a user's group,
// except the ones listed in exclude.
func (h *Hub) BroadcastUser(userID uuid.UUID, message model.ServerMessage, exclude ...uuid.UUID) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if excluded(c.ID, exclude) {
			continue
		}
		c.Send(message)
	}
}

// RoomConns returns a snapshot of the connections subscribed to a room.
func (h *Hub) RoomConns(roomID uuid.UUID) []*Conn {
	return h.roomConns(roomID)
}

// UserConnsInRoom counts a user's connections currently subscribed to a room.
func (h *Hub) UserConnsInRoom(roomID, userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, c := range h.rooms[roomID] {
		if c.UserID == userID {
			count++
		}
	}
	return count
}

func (h *Hub) roomConns(roomID uuid.UUID) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		conns = append(conns, c)
	}
	return conns
}

func excluded(id uuid.UUID, exclude []uuid.UUID) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}
