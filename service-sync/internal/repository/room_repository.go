package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/model"

	"github.com/google/uuid"
)

// RoomRepository handles durable room and participant records.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *model.ListeningRoom) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (*model.ListeningRoom, error)

	// AddParticipant atomically checks capacity and inserts the join record.
	// Returns ErrNotFound when the room does not exist and ErrRoomFull when
	// the insert would exceed capacity. Re-joining is an upsert, never a
	// capacity violation.
	AddParticipant(ctx context.Context, roomID, userID uuid.UUID, displayName string) error
	RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveAllParticipants(ctx context.Context, roomID uuid.UUID) error
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]model.RoomParticipant, error)
	CountParticipants(ctx context.Context, roomID uuid.UUID) (int, error)

	// UpdatePlayback persists an applied control transition and returns the
	// room's next sequence number, assigned atomically by the store.
	UpdatePlayback(ctx context.Context, roomID uuid.UUID, songID *uuid.UUID, positionMs int64, playing bool) (uint64, error)
}

type roomRepository struct {
	db *sql.DB
}

// NewRoomRepository creates a Postgres-backed room repository.
func NewRoomRepository(db *sql.DB) RoomRepository {
	return &roomRepository{db: db}
}

// CreateRoom inserts a new listening room.
func (r *roomRepository) CreateRoom(ctx context.Context, room *model.ListeningRoom) error {
	query := `
		INSERT INTO listening_rooms (id, host_id, name, current_song_id, position_ms, playing, capacity, is_public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	_, err := r.db.ExecContext(ctx, query,
		room.ID, room.HostID, room.Name, room.CurrentSongID,
		room.PositionMs, room.Playing, room.Capacity, room.IsPublic, room.CreatedAt)
	return err
}

// GetRoom retrieves a room by ID.
func (r *roomRepository) GetRoom(ctx context.Context, roomID uuid.UUID) (*model.ListeningRoom, error) {
	var room model.ListeningRoom
	query := `
		SELECT id, host_id, name, current_song_id, position_ms, playing, capacity, is_public, seq, created_at, updated_at
		FROM listening_rooms WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, roomID)
	err := row.Scan(&room.ID, &room.HostID, &room.Name, &room.CurrentSongID,
		&room.PositionMs, &room.Playing, &room.Capacity, &room.IsPublic,
		&room.Seq, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &room, nil
}

// AddParticipant runs the capacity check and the insert in one transaction,
// holding the room row lock so two racing joins cannot both see a free slot.
func (r *roomRepository) AddParticipant(ctx context.Context, roomID, userID uuid.UUID, displayName string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var capacity int
	err = tx.QueryRowContext(ctx,
		`SELECT capacity FROM listening_rooms WHERE id = $1 FOR UPDATE`, roomID,
	).Scan(&capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_participants WHERE room_id = $1 AND user_id <> $2`,
		roomID, userID,
	).Scan(&count)
	if err != nil {
		return err
	}

	if count >= capacity {
		return ErrRoomFull
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, user_id, display_name, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		roomID, userID, displayName, time.Now().UTC())
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveParticipant deletes one join record; deleting a non-member is a no-op.
func (r *roomRepository) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`,
		roomID, userID)
	return err
}

// RemoveAllParticipants empties a room's membership on closure.
func (r *roomRepository) RemoveAllParticipants(ctx context.Context, roomID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM room_participants WHERE room_id = $1`, roomID)
	return err
}

// ListParticipants returns the room's join records ordered by join time.
func (r *roomRepository) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]model.RoomParticipant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT room_id, user_id, display_name, joined_at
		FROM room_participants WHERE room_id = $1 ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []model.RoomParticipant
	for rows.Next() {
		var p model.RoomParticipant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// CountParticipants returns the current membership size.
func (r *roomRepository) CountParticipants(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_participants WHERE room_id = $1`, roomID,
	).Scan(&count)
	return count, err
}

// UpdatePlayback writes the new canonical playback fields. The seq column is
// bumped in the same statement so ordering survives process restarts and is
// shared across instances.
func (r *roomRepository) UpdatePlayback(ctx context.Context, roomID uuid.UUID, songID *uuid.UUID, positionMs int64, playing bool) (uint64, error) {
	var seq uint64
	err := r.db.QueryRowContext(ctx, `
		UPDATE listening_rooms
		SET current_song_id = $2, position_ms = $3, playing = $4, seq = seq + 1, updated_at = $5
		WHERE id = $1
		RETURNING seq`,
		roomID, songID, positionMs, playing, time.Now().UTC(),
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update playback state: %w", err)
	}

	return seq, nil
}
