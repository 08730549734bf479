package repository

import "errors"

var (
	// ErrNotFound is returned when a room or playback row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRoomFull is returned when a conditional participant insert is
	// rejected because the room is at capacity.
	ErrRoomFull = errors.New("room is at capacity")
)
