// Package queue publishes room lifecycle events to a message broker for
// downstream consumers (analytics, moderation) without touching the hot path.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// RoomEvent is emitted for joins, leaves, applied control actions and room
// closure. It carries enough for consumers to avoid querying the primary store.
type RoomEvent struct {
	RoomID      uuid.UUID  `json:"room_id"`
	UserID      uuid.UUID  `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Kind        string     `json:"kind"`
	SongID      *uuid.UUID `json:"song_id,omitempty"`
	PositionMs  int64      `json:"position_ms,omitempty"`
	Seq         uint64     `json:"seq,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// event kinds
const (
	KindJoined  = "room.joined"
	KindLeft    = "room.left"
	KindControl = "room.control"
	KindClosed  = "room.closed"
)
