package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/redinc23/hathor-red-sub003/pkg/auth"
	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/hub"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SyncHandler owns the WebSocket entrypoint and the REST read endpoints.
type SyncHandler struct {
	roomService  service.RoomService
	stateService service.StateService
	jwtManager   *auth.JWTManager
	hub          *hub.Hub
	upgrader     websocket.Upgrader
	sendBuffer   int
}

// NewSyncHandler creates a new sync handler instance.
func NewSyncHandler(
	roomService service.RoomService,
	stateService service.StateService,
	jwtManager *auth.JWTManager,
	h *hub.Hub,
	sendBuffer int,
) *SyncHandler {
	return &SyncHandler{
		roomService:  roomService,
		stateService: stateService,
		jwtManager:   jwtManager,
		hub:          h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS middleware is the origin gate for REST; browsers do not
				// enforce CORS on WebSocket upgrades, so tokens do the gating
				return true
			},
		},
		sendBuffer: sendBuffer,
	}
}

// authenticate verifies the caller's token, taken from the Authorization
// header or, for browser WebSocket clients that cannot set headers, the
// token query parameter.
func (h *SyncHandler) authenticate(c *gin.Context) (*auth.Claims, error) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	return h.jwtManager.VerifyToken(token)
}

// HandleWebSocket authenticates the caller, upgrades the connection and runs
// its read loop until the client goes away.
func (h *SyncHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error(err, "failed to upgrade connection to WebSocket")
		return
	}

	conn := hub.NewConn(ws, claims.UserID, claims.DisplayName, h.sendBuffer)
	h.hub.Register(conn)

	go conn.WritePump()

	logger.Infof("user %s connected (conn %s)", conn.UserID, conn.ID)
	h.readLoop(conn)

	// cleanup order matters: membership bookkeeping first, then the
	// connection itself is deregistered and closed
	h.roomService.HandleDisconnect(context.Background(), conn)
	h.hub.Unregister(conn)
	conn.Close()
	logger.Infof("user %s disconnected (conn %s)", conn.UserID, conn.ID)
}

func (h *SyncHandler) readLoop(conn *hub.Conn) {
	conn.PrepareRead()
	for {
		message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf(err, "unexpected close on conn %s", conn.ID)
			}
			return
		}

		if err := h.dispatch(conn, message); err != nil {
			conn.Send(model.ServerMessage{
				Type:    model.TypeError,
				Payload: service.ClassifyError(err),
			})
		}
	}
}

// dispatch routes one inbound message to the owning service. A malformed
// payload or an unknown type yields an error event; the connection stays up.
func (h *SyncHandler) dispatch(conn *hub.Conn, message *model.ClientMessage) error {
	ctx := context.Background()

	switch message.Type {
	case model.TypeJoinRoom:
		var payload model.JoinRoomPayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil || payload.RoomID == uuid.Nil {
			return service.ErrBadRequest
		}
		return h.roomService.Join(ctx, conn, payload.RoomID)

	case model.TypeLeaveRoom:
		var payload model.LeaveRoomPayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil || payload.RoomID == uuid.Nil {
			return service.ErrBadRequest
		}
		return h.roomService.Leave(ctx, conn, payload.RoomID)

	case model.TypeRoomControl:
		var payload model.RoomControlPayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil || payload.RoomID == uuid.Nil {
			return service.ErrBadRequest
		}
		return h.roomService.Control(ctx, conn, &payload)

	case model.TypeRoomChat:
		var payload model.RoomChatPayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil || payload.Message == "" {
			return service.ErrBadRequest
		}
		return h.roomService.Chat(ctx, conn, &payload)

	case model.TypeSyncState:
		var payload model.SyncStatePayload
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			return service.ErrBadRequest
		}
		return h.stateService.SyncState(ctx, conn, &payload)

	default:
		logger.Warnf("unknown message type %q on conn %s", message.Type, conn.ID)
		return service.ErrBadRequest
	}
}

// createRoomRequest is the REST body for room creation.
type createRoomRequest struct {
	Name     string `json:"name" binding:"required"`
	Capacity int    `json:"capacity"`
	IsPublic bool   `json:"isPublic"`
}

// CreateRoom registers a new listening room hosted by the caller.
func (h *SyncHandler) CreateRoom(c *gin.Context) {
	claims, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), claims.UserID, req.Name, req.Capacity, req.IsPublic)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// GetRoomState returns the room's canonical playback snapshot.
func (h *SyncHandler) GetRoomState(c *gin.Context) {
	if _, err := h.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	roomID, err := uuid.Parse(c.Param("roomID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room ID"})
		return
	}

	state, err := h.roomService.RoomState(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state})
}

// GetRoomParticipants returns the room's durable membership.
func (h *SyncHandler) GetRoomParticipants(c *gin.Context) {
	if _, err := h.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	roomID, err := uuid.Parse(c.Param("roomID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room ID"})
		return
	}

	participants, err := h.roomService.Participants(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"count":        len(participants),
	})
}

// GetMyState returns the caller's own cross-device playback snapshot.
func (h *SyncHandler) GetMyState(c *gin.Context) {
	claims, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	state, err := h.stateService.GetState(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state})
}

// writeError maps a service error onto an HTTP status and the shared error
// payload shape.
func (h *SyncHandler) writeError(c *gin.Context, err error) {
	payload := service.ClassifyError(err)

	status := http.StatusInternalServerError
	switch payload.Code {
	case model.ErrCodeUnauthenticated:
		status = http.StatusUnauthorized
	case model.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case model.ErrCodeNotFound:
		status = http.StatusNotFound
	case model.ErrCodeCapacityExceeded:
		status = http.StatusConflict
	case model.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	case model.ErrCodeBadRequest:
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		logger.Error(err, "request failed")
	}

	c.JSON(status, gin.H{"error": payload})
}
