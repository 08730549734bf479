package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheRepo(t *testing.T) CacheRepository {
	t.Helper()

	mr := miniredis.RunT(t)
	return NewCacheRepository(redis.Wrap(redislib.NewClient(&redislib.Options{Addr: mr.Addr()})))
}

func playbackAt(userID uuid.UUID, positionMs int64, updatedAt time.Time) *model.PlaybackState {
	return &model.PlaybackState{
		UserID:     userID,
		PositionMs: positionMs,
		Volume:     0.8,
		Speed:      1.0,
		UpdatedAt:  updatedAt,
	}
}

func TestSetPlaybackRoundTrip(t *testing.T) {
	repo := newCacheRepo(t)
	userID := uuid.New()

	state := playbackAt(userID, 42000, time.Now().UTC())
	require.NoError(t, repo.SetPlayback(context.Background(), state))

	got, err := repo.GetPlayback(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(42000), got.PositionMs)
}

func TestGetPlaybackMiss(t *testing.T) {
	repo := newCacheRepo(t)

	_, err := repo.GetPlayback(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// A write that lost the race on another instance arrives with an older
// timestamp; the cache must keep the newer entry it already holds.
func TestSetPlaybackIgnoresOlderSnapshot(t *testing.T) {
	repo := newCacheRepo(t)
	userID := uuid.New()
	now := time.Now().UTC()

	newer := playbackAt(userID, 90000, now)
	older := playbackAt(userID, 10000, now.Add(-time.Second))

	require.NoError(t, repo.SetPlayback(context.Background(), newer))
	require.NoError(t, repo.SetPlayback(context.Background(), older))

	got, err := repo.GetPlayback(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), got.PositionMs)
	assert.True(t, got.UpdatedAt.Equal(now))
}

func TestSetPlaybackAcceptsNewerSnapshot(t *testing.T) {
	repo := newCacheRepo(t)
	userID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, repo.SetPlayback(context.Background(), playbackAt(userID, 10000, now.Add(-time.Second))))
	require.NoError(t, repo.SetPlayback(context.Background(), playbackAt(userID, 90000, now)))

	got, err := repo.GetPlayback(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), got.PositionMs)
}

func TestDeletePlaybackDropsGuard(t *testing.T) {
	repo := newCacheRepo(t)
	userID := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, repo.SetPlayback(context.Background(), playbackAt(userID, 90000, now)))
	require.NoError(t, repo.DeletePlayback(context.Background(), userID))

	_, err := repo.GetPlayback(context.Background(), userID)
	assert.ErrorIs(t, err, ErrNotFound)

	// with the entry gone, a repopulation from the durable store is accepted
	// even when its timestamp predates the deleted entry
	require.NoError(t, repo.SetPlayback(context.Background(), playbackAt(userID, 10000, now.Add(-time.Second))))

	got, err := repo.GetPlayback(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.PositionMs)
}
