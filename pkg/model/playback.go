package model

import (
	"time"

	"github.com/google/uuid"
)

// StemToggles maps a stem name ("vocals", "drums", ...) to whether it is audible.
type StemToggles map[string]bool

// PlaybackState is a user's own last-known playback snapshot, one row per
// user (not per device), mirrored in the cache under the same user id.
// UpdatedAt is always assigned by the server at write-accept time; it is the
// last-write-wins tiebreaker across that user's devices.
type PlaybackState struct {
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	SongID     *uuid.UUID  `json:"song_id" db:"song_id"`
	PositionMs int64       `json:"position_ms" db:"position_ms"`
	Playing    bool        `json:"playing" db:"playing"`
	Volume     float64     `json:"volume" db:"volume"`
	Speed      float64     `json:"speed" db:"speed"`
	PitchShift float64     `json:"pitch_shift" db:"pitch_shift"`
	Stems      StemToggles `json:"stems" db:"stems"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// NewerThan reports whether s was accepted after other.
func (s *PlaybackState) NewerThan(other *PlaybackState) bool {
	if other == nil {
		return true
	}
	return s.UpdatedAt.After(other.UpdatedAt)
}
