package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/pkg/queue"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/hub"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/repository"

	"github.com/google/uuid"
)

// RoomService is the single path through which room membership and shared
// playback state change. All mutating operations for one room are serialized;
// different rooms proceed in parallel.
type RoomService interface {
	CreateRoom(ctx context.Context, hostID uuid.UUID, name string, capacity int, isPublic bool) (*model.ListeningRoom, error)

	Join(ctx context.Context, c *hub.Conn, roomID uuid.UUID) error
	Leave(ctx context.Context, c *hub.Conn, roomID uuid.UUID) error
	Control(ctx context.Context, c *hub.Conn, payload *model.RoomControlPayload) error
	Chat(ctx context.Context, c *hub.Conn, payload *model.RoomChatPayload) error
	HandleDisconnect(ctx context.Context, c *hub.Conn)

	RoomState(ctx context.Context, roomID uuid.UUID) (*model.RoomStatePayload, error)
	Participants(ctx context.Context, roomID uuid.UUID) ([]model.RoomParticipant, error)
}

type roomService struct {
	roomRepo     repository.RoomRepository
	cacheRepo    repository.CacheRepository
	hub          *hub.Hub
	events       *queue.Publisher
	roomLocks    *keyedMutex
	storeTimeout time.Duration
	instanceID   string
}

// NewRoomService creates the room registry and playback authority, and starts
// the cross-instance event subscriber.
func NewRoomService(
	roomRepo repository.RoomRepository,
	cacheRepo repository.CacheRepository,
	h *hub.Hub,
	events *queue.Publisher,
	storeTimeout time.Duration,
) RoomService {
	s := &roomService{
		roomRepo:     roomRepo,
		cacheRepo:    cacheRepo,
		hub:          h,
		events:       events,
		roomLocks:    newKeyedMutex(),
		storeTimeout: storeTimeout,
		instanceID:   uuid.NewString(),
	}

	go s.handleRemoteEvents()

	return s
}

const defaultRoomCapacity = 10

// CreateRoom registers a new listening room with the caller as host. The
// room starts idle: no song loaded, position zero, paused.
func (s *roomService) CreateRoom(ctx context.Context, hostID uuid.UUID, name string, capacity int, isPublic bool) (*model.ListeningRoom, error) {
	if name == "" {
		return nil, ErrBadRequest
	}
	if capacity < 0 {
		return nil, ErrBadRequest
	}
	if capacity == 0 {
		capacity = defaultRoomCapacity
	}

	room := &model.ListeningRoom{
		ID:        uuid.New(),
		HostID:    hostID,
		Name:      name,
		Capacity:  capacity,
		IsPublic:  isPublic,
		CreatedAt: time.Now().UTC(),
	}
	room.UpdatedAt = room.CreatedAt

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.roomRepo.CreateRoom(storeCtx, room); err != nil {
		return nil, mapStoreErr(err)
	}

	logger.Infof("room %s created by host %s", room.ID, hostID)
	return room, nil
}

// Join atomically admits a connection into a room: capacity check and insert
// happen as one unit in the store, under the room's serialization point. A
// failed join leaves the connection's current membership untouched.
func (s *roomService) Join(ctx context.Context, c *hub.Conn, roomID uuid.UUID) error {
	current, hasCurrent := c.Room()

	// re-joining the current room only refreshes the snapshot
	if hasCurrent && current == roomID {
		s.roomLocks.Lock(roomID)
		defer s.roomLocks.Unlock(roomID)

		storeCtx, cancel := s.storeContext(ctx)
		defer cancel()

		room, err := s.roomRepo.GetRoom(storeCtx, roomID)
		if err != nil {
			return mapStoreErr(err)
		}
		c.Send(roomStateMessage(room))
		return nil
	}

	// a connection subscribes to at most one room; switching rooms leaves
	// the old one, but only once admission into the target succeeded. Both
	// rooms are locked in a fixed order for the duration of the switch.
	if hasCurrent {
		s.roomLocks.LockPair(current, roomID)
		defer s.roomLocks.UnlockPair(current, roomID)
	} else {
		s.roomLocks.Lock(roomID)
		defer s.roomLocks.Unlock(roomID)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	room, err := s.roomRepo.GetRoom(storeCtx, roomID)
	if err != nil {
		return mapStoreErr(err)
	}

	if err := s.roomRepo.AddParticipant(storeCtx, roomID, c.UserID, c.DisplayName); err != nil {
		return mapStoreErr(err)
	}

	if hasCurrent {
		s.removeConnectionLocked(ctx, c, current)
	}

	s.hub.SubscribeRoom(roomID, c)
	c.SetRoom(roomID)

	c.Send(roomStateMessage(room))

	joined := model.ServerMessage{
		Type: model.TypeParticipantJoined,
		Payload: model.ParticipantPayload{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
		},
	}
	s.hub.BroadcastRoom(roomID, joined, c.ID)
	s.publishRemote(roomID, joined)

	s.audit(queue.RoomEvent{
		RoomID:      roomID,
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		Kind:        queue.KindJoined,
		OccurredAt:  time.Now().UTC(),
	})

	logger.Infof("user %s joined room %s", c.UserID, roomID)
	return nil
}

// Leave unsubscribes the connection and removes the join record once the
// user has no other connection in the room. Leaving a room one is not a
// member of is a no-op.
func (s *roomService) Leave(ctx context.Context, c *hub.Conn, roomID uuid.UUID) error {
	if current, ok := c.Room(); !ok || current != roomID {
		return nil
	}

	s.roomLocks.Lock(roomID)
	defer s.roomLocks.Unlock(roomID)

	s.removeConnectionLocked(ctx, c, roomID)
	return nil
}

// removeConnectionLocked is the shared tail of Leave and disconnect cleanup.
// Callers hold the room lock.
func (s *roomService) removeConnectionLocked(ctx context.Context, c *hub.Conn, roomID uuid.UUID) {
	s.hub.UnsubscribeRoom(roomID, c)
	c.ClearRoom()

	// the join record lives while any of the user's connections is subscribed
	if s.hub.UserConnsInRoom(roomID, c.UserID) > 0 {
		return
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.roomRepo.RemoveParticipant(storeCtx, roomID, c.UserID); err != nil {
		logger.Errorf(err, "failed to remove participant %s from room %s", c.UserID, roomID)
	}

	left := model.ServerMessage{
		Type: model.TypeParticipantLeft,
		Payload: model.ParticipantPayload{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
		},
	}
	s.hub.BroadcastRoom(roomID, left)
	s.publishRemote(roomID, left)

	s.audit(queue.RoomEvent{
		RoomID:      roomID,
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		Kind:        queue.KindLeft,
		OccurredAt:  time.Now().UTC(),
	})

	logger.Infof("user %s left room %s", c.UserID, roomID)
}

// Control applies a host-issued playback command. Commands for one room are
// processed one at a time in arrival order; the store assigns the sequence
// number in the same statement that persists the transition.
func (s *roomService) Control(ctx context.Context, c *hub.Conn, payload *model.RoomControlPayload) error {
	if !payload.Action.Valid() {
		return ErrBadRequest
	}

	s.roomLocks.Lock(payload.RoomID)
	defer s.roomLocks.Unlock(payload.RoomID)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	room, err := s.roomRepo.GetRoom(storeCtx, payload.RoomID)
	if err != nil {
		return mapStoreErr(err)
	}

	if room.HostID != c.UserID {
		return ErrNotHost
	}

	songID, positionMs, playing, err := nextPlaybackState(room, payload)
	if err != nil {
		return err
	}

	seq, err := s.roomRepo.UpdatePlayback(storeCtx, room.ID, songID, positionMs, playing)
	if err != nil {
		return mapStoreErr(err)
	}

	update := model.ServerMessage{
		Type: model.TypeRoomUpdate,
		Payload: model.RoomUpdatePayload{
			Action:     payload.Action,
			SongID:     songID,
			PositionMs: positionMs,
			Playing:    playing,
			Seq:        seq,
		},
	}
	s.hub.BroadcastRoom(room.ID, update)
	s.publishRemote(room.ID, update)

	s.audit(queue.RoomEvent{
		RoomID:     room.ID,
		UserID:     c.UserID,
		Kind:       queue.KindControl,
		SongID:     songID,
		PositionMs: positionMs,
		Seq:        seq,
		OccurredAt: time.Now().UTC(),
	})

	return nil
}

// nextPlaybackState maps a control action onto the room's playback fields.
// change-song resets position to zero and keeps the playing flag; play,
// pause and seek require a loaded song.
func nextPlaybackState(room *model.ListeningRoom, payload *model.RoomControlPayload) (*uuid.UUID, int64, bool, error) {
	songID := room.CurrentSongID
	positionMs := room.PositionMs
	playing := room.Playing

	switch payload.Action {
	case model.ActionChangeSong:
		if payload.SongID == nil {
			return nil, 0, false, ErrBadRequest
		}
		id := *payload.SongID
		songID = &id
		positionMs = 0
	case model.ActionPlay:
		if songID == nil {
			return nil, 0, false, ErrBadRequest
		}
		playing = true
		if payload.PositionMs != nil {
			positionMs = *payload.PositionMs
		}
	case model.ActionPause:
		if songID == nil {
			return nil, 0, false, ErrBadRequest
		}
		playing = false
		if payload.PositionMs != nil {
			positionMs = *payload.PositionMs
		}
	case model.ActionSeek:
		if songID == nil || payload.PositionMs == nil {
			return nil, 0, false, ErrBadRequest
		}
		positionMs = *payload.PositionMs
	}

	if positionMs < 0 {
		return nil, 0, false, ErrBadRequest
	}

	return songID, positionMs, playing, nil
}

// Chat relays a message to the room; it mutates nothing.
func (s *roomService) Chat(ctx context.Context, c *hub.Conn, payload *model.RoomChatPayload) error {
	if current, ok := c.Room(); !ok || current != payload.RoomID {
		return ErrBadRequest
	}

	message := model.ServerMessage{
		Type: model.TypeChatMessage,
		Payload: model.ChatMessagePayload{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			Message:     payload.Message,
			Timestamp:   time.Now().UTC(),
		},
	}
	s.hub.BroadcastRoom(payload.RoomID, message)
	s.publishRemote(payload.RoomID, message)

	return nil
}

// HandleDisconnect runs the full leave path for a dropped connection, so
// membership bookkeeping never leaks a stale record. When the room's host
// drops their last connection in the room, the room closes and every
// participant is evicted.
func (s *roomService) HandleDisconnect(ctx context.Context, c *hub.Conn) {
	roomID, ok := c.Room()
	if !ok {
		return
	}

	s.roomLocks.Lock(roomID)
	defer s.roomLocks.Unlock(roomID)

	s.hub.UnsubscribeRoom(roomID, c)
	c.ClearRoom()

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	room, err := s.roomRepo.GetRoom(storeCtx, roomID)
	if err != nil {
		logger.Errorf(err, "disconnect cleanup: failed to load room %s", roomID)
		return
	}

	if room.HostID == c.UserID && s.hub.UserConnsInRoom(roomID, c.UserID) == 0 {
		s.closeRoomLocked(ctx, room)
		return
	}

	if s.hub.UserConnsInRoom(roomID, c.UserID) == 0 {
		if err := s.roomRepo.RemoveParticipant(storeCtx, roomID, c.UserID); err != nil {
			logger.Errorf(err, "disconnect cleanup: failed to remove participant %s", c.UserID)
		}

		left := model.ServerMessage{
			Type: model.TypeParticipantLeft,
			Payload: model.ParticipantPayload{
				UserID:      c.UserID,
				DisplayName: c.DisplayName,
			},
		}
		s.hub.BroadcastRoom(roomID, left)
		s.publishRemote(roomID, left)

		s.audit(queue.RoomEvent{
			RoomID:      roomID,
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			Kind:        queue.KindLeft,
			OccurredAt:  time.Now().UTC(),
		})
	}
}

// closeRoomLocked empties the room after its host is gone: membership records
// are deleted, playback pauses, and remaining connections are evicted.
// Callers hold the room lock.
func (s *roomService) closeRoomLocked(ctx context.Context, room *model.ListeningRoom) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if room.CurrentSongID != nil && room.Playing {
		if _, err := s.roomRepo.UpdatePlayback(storeCtx, room.ID, room.CurrentSongID, room.PositionMs, false); err != nil {
			logger.Errorf(err, "room close: failed to pause room %s", room.ID)
		}
	}

	if err := s.roomRepo.RemoveAllParticipants(storeCtx, room.ID); err != nil {
		logger.Errorf(err, "room close: failed to clear participants of room %s", room.ID)
	}

	closed := model.ServerMessage{
		Type: model.TypeRoomClosed,
		Payload: model.RoomClosedPayload{
			RoomID: room.ID,
			Reason: "host disconnected",
		},
	}

	s.evictLocalConns(room.ID, closed)
	s.publishRemote(room.ID, closed)

	s.audit(queue.RoomEvent{
		RoomID:     room.ID,
		UserID:     room.HostID,
		Kind:       queue.KindClosed,
		OccurredAt: time.Now().UTC(),
	})

	logger.Infof("room %s closed after host %s disconnected", room.ID, room.HostID)
}

// evictLocalConns notifies and unsubscribes every local connection in a room.
func (s *roomService) evictLocalConns(roomID uuid.UUID, message model.ServerMessage) {
	for _, member := range s.hub.RoomConns(roomID) {
		member.Send(message)
		s.hub.UnsubscribeRoom(roomID, member)
		member.ClearRoom()
	}
}

func roomStateMessage(room *model.ListeningRoom) model.ServerMessage {
	return model.ServerMessage{
		Type: model.TypeRoomState,
		Payload: model.RoomStatePayload{
			SongID:     room.CurrentSongID,
			PositionMs: room.PositionMs,
			Playing:    room.Playing,
		},
	}
}

// RoomState returns the room's current playback snapshot.
func (s *roomService) RoomState(ctx context.Context, roomID uuid.UUID) (*model.RoomStatePayload, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	room, err := s.roomRepo.GetRoom(storeCtx, roomID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	return &model.RoomStatePayload{
		SongID:     room.CurrentSongID,
		PositionMs: room.PositionMs,
		Playing:    room.Playing,
	}, nil
}

// Participants returns the room's durable membership.
func (s *roomService) Participants(ctx context.Context, roomID uuid.UUID) ([]model.RoomParticipant, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.roomRepo.GetRoom(storeCtx, roomID); err != nil {
		return nil, mapStoreErr(err)
	}

	participants, err := s.roomRepo.ListParticipants(storeCtx, roomID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	return participants, nil
}

// publishRemote forwards a room broadcast to other instances. Local delivery
// already happened; a publish failure is logged, not surfaced.
func (s *roomService) publishRemote(roomID uuid.UUID, message model.ServerMessage) {
	if s.cacheRepo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	envelope := &repository.RoomEventEnvelope{
		Origin:  s.instanceID,
		RoomID:  roomID,
		Message: message,
	}
	if err := s.cacheRepo.PublishRoomEvent(ctx, roomID, envelope); err != nil {
		logger.Errorf(err, "failed to publish room event for room %s", roomID)
	}
}

// handleRemoteEvents delivers room broadcasts originating from other instances.
func (s *roomService) handleRemoteEvents() {
	if s.cacheRepo == nil {
		return
	}

	ctx := context.Background()
	pubsub := s.cacheRepo.SubscribeRoomEvents(ctx)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var envelope repository.RoomEventEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			logger.Errorf(err, "failed to unmarshal room event envelope")
			continue
		}

		if envelope.Origin == s.instanceID {
			continue
		}

		if envelope.Message.Type == model.TypeRoomClosed {
			s.evictLocalConns(envelope.RoomID, envelope.Message)
			continue
		}

		s.hub.BroadcastRoom(envelope.RoomID, envelope.Message)
	}
}

func (s *roomService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// audit feeds the room event stream; never on the hot path's critical section
// outcome.
func (s *roomService) audit(event queue.RoomEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	_ = s.events.Publish(ctx, event)
}
