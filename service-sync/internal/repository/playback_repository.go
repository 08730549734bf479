package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redinc23/hathor-red-sub003/pkg/model"

	"github.com/google/uuid"
)

// PlaybackRepository handles the durable per-user playback snapshot.
type PlaybackRepository interface {
	Upsert(ctx context.Context, state *model.PlaybackState) error
	Get(ctx context.Context, userID uuid.UUID) (*model.PlaybackState, error)
}

type playbackRepository struct {
	db *sql.DB
}

// NewPlaybackRepository creates a Postgres-backed playback repository.
func NewPlaybackRepository(db *sql.DB) PlaybackRepository {
	return &playbackRepository{db: db}
}

// Upsert writes the user's snapshot, keeping the newest write by the
// server-assigned timestamp even if an older in-flight write lands late.
func (r *playbackRepository) Upsert(ctx context.Context, state *model.PlaybackState) error {
	stems, err := json.Marshal(state.Stems)
	if err != nil {
		return fmt.Errorf("failed to marshal stems: %w", err)
	}

	query := `
		INSERT INTO playback_states (user_id, song_id, position_ms, playing, volume, speed, pitch_shift, stems, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			song_id = EXCLUDED.song_id,
			position_ms = EXCLUDED.position_ms,
			playing = EXCLUDED.playing,
			volume = EXCLUDED.volume,
			speed = EXCLUDED.speed,
			pitch_shift = EXCLUDED.pitch_shift,
			stems = EXCLUDED.stems,
			updated_at = EXCLUDED.updated_at
		WHERE playback_states.updated_at <= EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		state.UserID, state.SongID, state.PositionMs, state.Playing,
		state.Volume, state.Speed, state.PitchShift, stems, state.UpdatedAt)
	return err
}

// Get retrieves the user's snapshot, ErrNotFound when none was ever written.
func (r *playbackRepository) Get(ctx context.Context, userID uuid.UUID) (*model.PlaybackState, error) {
	var state model.PlaybackState
	var stems []byte

	query := `
		SELECT user_id, song_id, position_ms, playing, volume, speed, pitch_shift, stems, updated_at
		FROM playback_states WHERE user_id = $1`

	row := r.db.QueryRowContext(ctx, query, userID)
	err := row.Scan(&state.UserID, &state.SongID, &state.PositionMs, &state.Playing,
		&state.Volume, &state.Speed, &state.PitchShift, &stems, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(stems) > 0 {
		if err := json.Unmarshal(stems, &state.Stems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stems: %w", err)
		}
	}

	return &state, nil
}
