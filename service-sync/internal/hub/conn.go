package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/pkg/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is one live real-time session. Identity is fixed at admission; the
// current room id is the only settable slot and is owned by the room service.
type Conn struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DisplayName string

	ws   *websocket.Conn
	send chan []byte

	sendMu sync.Mutex
	closed bool

	roomMu sync.Mutex
	roomID *uuid.UUID
}

// NewConn wraps an upgraded websocket with the identity attached at the handshake.
func NewConn(ws *websocket.Conn, userID uuid.UUID, displayName string, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Conn{
		ID:          uuid.New(),
		UserID:      userID,
		DisplayName: displayName,
		ws:          ws,
		send:        make(chan []byte, sendBuffer),
	}
}

// Room returns the connection's current room id, if any.
func (c *Conn) Room() (uuid.UUID, bool) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	if c.roomID == nil {
		return uuid.Nil, false
	}
	return *c.roomID, true
}

// SetRoom records the room this connection is subscribed to.
func (c *Conn) SetRoom(roomID uuid.UUID) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	id := roomID
	c.roomID = &id
}

// ClearRoom resets the room slot after a leave or eviction.
func (c *Conn) ClearRoom() {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()

	c.roomID = nil
}

// Send enqueues an event for delivery. Delivery is best-effort: a connection
// whose queue is full is closed instead of blocking the sender.
func (c *Conn) Send(message model.ServerMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Errorf(err, "failed to marshal %s event for connection %s", message.Type, c.ID)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		logger.Warnf("send queue full, closing connection %s (user %s)", c.ID, c.UserID)
		c.closed = true
		close(c.send)
	}
}

// Close shuts the send queue exactly once; the write pump closes the socket
// once the queue drains.
func (c *Conn) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// PrepareRead arms the read deadline and installs the pong handler that
// extends it. It must run on the reader goroutine before the first
// ReadMessage; the read side of the socket belongs to that goroutine.
func (c *Conn) PrepareRead() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// ReadMessage blocks for the next inbound message, refreshing the read deadline.
func (c *Conn) ReadMessage() (*model.ClientMessage, error) {
	var message model.ClientMessage
	if err := c.ws.ReadJSON(&message); err != nil {
		return nil, err
	}
	return &message, nil
}

// WritePump drains the send queue onto the socket and keeps the peer alive
// with pings. It owns all writes to the underlying connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
