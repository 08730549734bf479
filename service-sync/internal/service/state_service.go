package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/hub"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/repository"

	"github.com/google/uuid"
)

// StateService keeps a user's devices agreed on that user's own playback
// snapshot. Writes for one user are serialized; the durable store is the
// source of truth and the cache is a write-through mirror of it.
type StateService interface {
	SyncState(ctx context.Context, c *hub.Conn, payload *model.SyncStatePayload) error
	GetState(ctx context.Context, userID uuid.UUID) (*model.PlaybackState, error)
}

type stateService struct {
	playbackRepo repository.PlaybackRepository
	cacheRepo    repository.CacheRepository
	hub          *hub.Hub
	userLocks    *keyedMutex
	storeTimeout time.Duration
	instanceID   string
}

// NewStateService creates the cross-device state synchronizer and starts its
// cross-instance subscriber.
func NewStateService(
	playbackRepo repository.PlaybackRepository,
	cacheRepo repository.CacheRepository,
	h *hub.Hub,
	storeTimeout time.Duration,
) StateService {
	s := &stateService{
		playbackRepo: playbackRepo,
		cacheRepo:    cacheRepo,
		hub:          h,
		userLocks:    newKeyedMutex(),
		storeTimeout: storeTimeout,
		instanceID:   uuid.NewString(),
	}

	go s.handleRemoteEvents()

	return s
}

// SyncState accepts a device's snapshot, stamps it with the server clock and
// writes it through to both stores before telling the user's other devices.
// If either write fails the whole operation fails and nothing is broadcast;
// a cache write failure additionally drops the cache entry so a later read
// cannot see a value older than the durable row.
func (s *stateService) SyncState(ctx context.Context, c *hub.Conn, payload *model.SyncStatePayload) error {
	if err := validateSnapshot(payload); err != nil {
		return err
	}

	s.userLocks.Lock(c.UserID)
	defer s.userLocks.Unlock(c.UserID)

	state := &model.PlaybackState{
		UserID:     c.UserID,
		SongID:     payload.SongID,
		PositionMs: payload.PositionMs,
		Playing:    payload.Playing,
		Volume:     payload.Volume,
		Speed:      payload.Speed,
		PitchShift: payload.PitchShift,
		Stems:      payload.Stems,
		UpdatedAt:  time.Now().UTC(),
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.playbackRepo.Upsert(storeCtx, state); err != nil {
		return mapStoreErr(err)
	}

	if err := s.cacheRepo.SetPlayback(storeCtx, state); err != nil {
		// the durable row is already newer than the cache entry; drop the
		// entry so reads fall back to the row instead of serving stale data
		dropCtx, dropCancel := context.WithTimeout(context.Background(), s.storeTimeout)
		defer dropCancel()
		if dropErr := s.cacheRepo.DeletePlayback(dropCtx, c.UserID); dropErr != nil {
			logger.Errorf(dropErr, "failed to drop stale playback cache entry for user %s", c.UserID)
		}
		return mapStoreErr(err)
	}

	message := model.ServerMessage{
		Type:    model.TypeUserState,
		Payload: userStatePayload(state),
	}
	s.hub.BroadcastUser(c.UserID, message, c.ID)
	s.publishRemote(c.UserID, message)

	return nil
}

// GetState serves reads cache-first. On a miss the durable store answers and
// the cache is repopulated best-effort.
func (s *stateService) GetState(ctx context.Context, userID uuid.UUID) (*model.PlaybackState, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	state, err := s.cacheRepo.GetPlayback(storeCtx, userID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf(err, "playback cache read failed for user %s, falling back to store", userID)
	}

	state, err = s.playbackRepo.Get(storeCtx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, mapStoreErr(err)
	}

	if cacheErr := s.cacheRepo.SetPlayback(storeCtx, state); cacheErr != nil {
		logger.Errorf(cacheErr, "failed to repopulate playback cache for user %s", userID)
	}

	return state, nil
}

// validateSnapshot rejects values no real client produces.
func validateSnapshot(payload *model.SyncStatePayload) error {
	if payload.PositionMs < 0 {
		return ErrBadRequest
	}
	if payload.Volume < 0 || payload.Volume > 1 {
		return ErrBadRequest
	}
	if payload.Speed <= 0 {
		return ErrBadRequest
	}
	return nil
}

func userStatePayload(state *model.PlaybackState) model.UserStatePayload {
	return model.UserStatePayload{
		SongID:     state.SongID,
		PositionMs: state.PositionMs,
		Playing:    state.Playing,
		Volume:     state.Volume,
		Speed:      state.Speed,
		PitchShift: state.PitchShift,
		Stems:      state.Stems,
		UpdatedAt:  state.UpdatedAt,
	}
}

// publishRemote forwards the snapshot to the user's devices on other
// instances. Local delivery already happened; failures are logged only.
func (s *stateService) publishRemote(userID uuid.UUID, message model.ServerMessage) {
	if s.cacheRepo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	envelope := &repository.UserEventEnvelope{
		Origin:  s.instanceID,
		UserID:  userID,
		Message: message,
	}
	if err := s.cacheRepo.PublishUserEvent(ctx, userID, envelope); err != nil {
		logger.Errorf(err, "failed to publish user event for user %s", userID)
	}
}

// handleRemoteEvents delivers snapshots accepted on other instances to the
// user's local connections.
func (s *stateService) handleRemoteEvents() {
	if s.cacheRepo == nil {
		return
	}

	ctx := context.Background()
	pubsub := s.cacheRepo.SubscribeUserEvents(ctx)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var envelope repository.UserEventEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			logger.Errorf(err, "failed to unmarshal user event envelope")
			continue
		}

		if envelope.Origin == s.instanceID {
			continue
		}

		s.hub.BroadcastUser(envelope.UserID, envelope.Message)
	}
}

func (s *stateService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}
