package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/pkg/redis"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
)

// playback cache entries outlive any realistic session but do expire, so a
// user who never returns does not pin memory forever.
const playbackCacheTTL = 7 * 24 * time.Hour

// CacheRepository is the fast-read mirror of playback state plus the
// cross-instance room event channel.
type CacheRepository interface {
	SetPlayback(ctx context.Context, state *model.PlaybackState) error
	GetPlayback(ctx context.Context, userID uuid.UUID) (*model.PlaybackState, error)
	DeletePlayback(ctx context.Context, userID uuid.UUID) error

	PublishRoomEvent(ctx context.Context, roomID uuid.UUID, envelope *RoomEventEnvelope) error
	SubscribeRoomEvents(ctx context.Context) *redislib.PubSub

	PublishUserEvent(ctx context.Context, userID uuid.UUID, envelope *UserEventEnvelope) error
	SubscribeUserEvents(ctx context.Context) *redislib.PubSub
}

// RoomEventEnvelope wraps a room broadcast for delivery to other instances.
// Origin lets each instance skip events it already delivered locally.
type RoomEventEnvelope struct {
	Origin  string              `json:"origin"`
	RoomID  uuid.UUID           `json:"room_id"`
	Message model.ServerMessage `json:"message"`
}

// UserEventEnvelope wraps a per-user broadcast, for devices connected to
// other instances.
type UserEventEnvelope struct {
	Origin  string              `json:"origin"`
	UserID  uuid.UUID           `json:"user_id"`
	Message model.ServerMessage `json:"message"`
}

type cacheRepository struct {
	redis *redis.Client
}

// NewCacheRepository creates a Redis-backed cache repository.
func NewCacheRepository(redisClient *redis.Client) CacheRepository {
	return &cacheRepository{redis: redisClient}
}

func (r *cacheRepository) playbackKey(userID uuid.UUID) string {
	return fmt.Sprintf("hathor:playback:%s", userID.String())
}

func (r *cacheRepository) playbackStampKey(userID uuid.UUID) string {
	return fmt.Sprintf("hathor:playback:%s:stamp", userID.String())
}

// setPlaybackScript writes the snapshot only when it carries a timestamp at
// least as new as the cached one. Per-user writes on one instance are already
// serialized, but a slow write racing a faster one on another instance must
// not clobber the newer entry. KEYS[1] holds the snapshot, KEYS[2] its write
// timestamp in unix nanoseconds.
var setPlaybackScript = redislib.NewScript(`
local stamp = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < stamp then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

func roomEventsChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:events", roomID.String())
}

func userEventsChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:events", userID.String())
}

// SetPlayback stores the snapshot unless the cache already holds a newer one.
// A rejected write is not an error, the cache simply kept the newer entry.
func (r *cacheRepository) SetPlayback(ctx context.Context, state *model.PlaybackState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal playback state: %w", err)
	}

	keys := []string{r.playbackKey(state.UserID), r.playbackStampKey(state.UserID)}
	return r.redis.RunScript(ctx, setPlaybackScript, keys,
		data, state.UpdatedAt.UnixNano(), playbackCacheTTL.Milliseconds())
}

// GetPlayback returns the cached snapshot, ErrNotFound on a miss.
func (r *cacheRepository) GetPlayback(ctx context.Context, userID uuid.UUID) (*model.PlaybackState, error) {
	data, err := r.redis.Get(ctx, r.playbackKey(userID))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var state model.PlaybackState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playback state: %w", err)
	}

	return &state, nil
}

// DeletePlayback drops the cache entry so reads fall back to the durable store.
func (r *cacheRepository) DeletePlayback(ctx context.Context, userID uuid.UUID) error {
	return r.redis.Delete(ctx, r.playbackKey(userID), r.playbackStampKey(userID))
}

// PublishRoomEvent fans a room broadcast out to other instances.
func (r *cacheRepository) PublishRoomEvent(ctx context.Context, roomID uuid.UUID, envelope *RoomEventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal room event envelope: %w", err)
	}

	return r.redis.Publish(ctx, roomEventsChannel(roomID), data)
}

// SubscribeRoomEvents subscribes to room event channels of all rooms.
func (r *cacheRepository) SubscribeRoomEvents(ctx context.Context) *redislib.PubSub {
	return r.redis.PSubscribe(ctx, "room:*:events")
}

// PublishUserEvent fans a per-user broadcast out to other instances.
func (r *cacheRepository) PublishUserEvent(ctx context.Context, userID uuid.UUID, envelope *UserEventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal user event envelope: %w", err)
	}

	return r.redis.Publish(ctx, userEventsChannel(userID), data)
}

// SubscribeUserEvents subscribes to user event channels of all users.
func (r *cacheRepository) SubscribeUserEvents(ctx context.Context) *redislib.PubSub {
	return r.redis.PSubscribe(ctx, "user:*:events")
}
