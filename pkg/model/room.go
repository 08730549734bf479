package model

import (
	"time"

	"github.com/google/uuid"
)

// ListeningRoom represents a shared listening session with one authoritative
// playback state. Playback fields are mutated only through the room control
// path; membership-adjacent fields only through join/leave.
type ListeningRoom struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	HostID        uuid.UUID  `json:"host_id" db:"host_id"`
	Name          string     `json:"name" db:"name"`
	CurrentSongID *uuid.UUID `json:"current_song_id" db:"current_song_id"`
	PositionMs    int64      `json:"position_ms" db:"position_ms"`
	Playing       bool       `json:"playing" db:"playing"`
	Capacity      int        `json:"capacity" db:"capacity"`
	IsPublic      bool       `json:"is_public" db:"is_public"`
	Seq           uint64     `json:"seq" db:"seq"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// RoomParticipant is the durable join record, unique per (room, user).
type RoomParticipant struct {
	RoomID      uuid.UUID `json:"room_id" db:"room_id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}

// ControlAction enumerates the host-only playback commands.
type ControlAction string

const (
	ActionPlay       ControlAction = "play"
	ActionPause      ControlAction = "pause"
	ActionSeek       ControlAction = "seek"
	ActionChangeSong ControlAction = "change-song"
)

// Valid reports whether the action is one of the four control commands.
func (a ControlAction) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek, ActionChangeSong:
		return true
	}
	return false
}
