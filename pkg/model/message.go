package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClientMessage is the envelope for every inbound WebSocket message. The
// payload shape depends on Type.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// inbound message types
const (
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeRoomControl = "room-control"
	TypeRoomChat    = "room-chat"
	TypeSyncState   = "sync-state"
)

// ServerMessage is the envelope for every outbound WebSocket event.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// outbound event types
const (
	TypeRoomState         = "room-state"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeRoomUpdate        = "room-update"
	TypeChatMessage       = "chat-message"
	TypeRoomClosed        = "room-closed"
	TypeUserState         = "user-state"
	TypeError             = "error"
)

// JoinRoomPayload accompanies a join-room message.
type JoinRoomPayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

// LeaveRoomPayload accompanies a leave-room message.
type LeaveRoomPayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

// RoomControlPayload accompanies a room-control message. SongID is required
// for change-song, PositionMs for seek.
type RoomControlPayload struct {
	RoomID     uuid.UUID     `json:"roomId"`
	Action     ControlAction `json:"action"`
	SongID     *uuid.UUID    `json:"songId,omitempty"`
	PositionMs *int64        `json:"position,omitempty"`
}

// RoomChatPayload accompanies a room-chat message.
type RoomChatPayload struct {
	RoomID  uuid.UUID `json:"roomId"`
	Message string    `json:"message"`
}

// SyncStatePayload is a full playback snapshot from one of the user's devices.
type SyncStatePayload struct {
	SongID     *uuid.UUID  `json:"songId,omitempty"`
	PositionMs int64       `json:"position"`
	Playing    bool        `json:"playing"`
	Volume     float64     `json:"volume"`
	Speed      float64     `json:"speed"`
	PitchShift float64     `json:"pitchShift"`
	Stems      StemToggles `json:"stems"`
}

// RoomStatePayload is the playback snapshot sent to a joining connection.
type RoomStatePayload struct {
	SongID     *uuid.UUID `json:"songId,omitempty"`
	PositionMs int64      `json:"position"`
	Playing    bool       `json:"playing"`
}

// UserStatePayload mirrors an accepted sync-state snapshot to the user's
// other devices. UpdatedAt is the server-assigned write time.
type UserStatePayload struct {
	SongID     *uuid.UUID  `json:"songId,omitempty"`
	PositionMs int64       `json:"position"`
	Playing    bool        `json:"playing"`
	Volume     float64     `json:"volume"`
	Speed      float64     `json:"speed"`
	PitchShift float64     `json:"pitchShift"`
	Stems      StemToggles `json:"stems"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ParticipantPayload announces a membership change to the room.
type ParticipantPayload struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
}

// RoomUpdatePayload broadcasts an applied control transition. Seq increases
// monotonically per room in the order transitions were applied.
type RoomUpdatePayload struct {
	Action     ControlAction `json:"action"`
	SongID     *uuid.UUID    `json:"songId,omitempty"`
	PositionMs int64         `json:"position"`
	Playing    bool          `json:"playing"`
	Seq        uint64        `json:"seq"`
}

// ChatMessagePayload relays a chat line to the room; pure pass-through.
type ChatMessagePayload struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// RoomClosedPayload tells evicted participants why their room went away.
type RoomClosedPayload struct {
	RoomID uuid.UUID `json:"roomId"`
	Reason string    `json:"reason"`
}

// ErrorPayload is the single caller-visible error event. Code classifies the
// failure kind; every other field of the triggering operation is untouched.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// error classification codes
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeCapacityExceeded = "CAPACITY_EXCEEDED"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeBadRequest       = "BAD_REQUEST"
)
