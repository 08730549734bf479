package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/pkg/redis"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/hub"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoomRepo is an in-memory RoomRepository with the same atomicity
// contract as the Postgres implementation.
type fakeRoomRepo struct {
	mu           sync.Mutex
	rooms        map[uuid.UUID]*model.ListeningRoom
	participants map[uuid.UUID]map[uuid.UUID]model.RoomParticipant
	failUpdate   bool
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{
		rooms:        make(map[uuid.UUID]*model.ListeningRoom),
		participants: make(map[uuid.UUID]map[uuid.UUID]model.RoomParticipant),
	}
}

func (f *fakeRoomRepo) CreateRoom(_ context.Context, room *model.ListeningRoom) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *room
	f.rooms[room.ID] = &copied
	f.participants[room.ID] = make(map[uuid.UUID]model.RoomParticipant)
	return nil
}

func (f *fakeRoomRepo) GetRoom(_ context.Context, roomID uuid.UUID) (*model.ListeningRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *room
	return &copied, nil
}

func (f *fakeRoomRepo) AddParticipant(_ context.Context, roomID, userID uuid.UUID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}

	others := 0
	for id := range f.participants[roomID] {
		if id != userID {
			others++
		}
	}
	if others >= room.Capacity {
		return repository.ErrRoomFull
	}

	f.participants[roomID][userID] = model.RoomParticipant{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    time.Now().UTC(),
	}
	return nil
}

func (f *fakeRoomRepo) RemoveParticipant(_ context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.participants[roomID], userID)
	return nil
}

func (f *fakeRoomRepo) RemoveAllParticipants(_ context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.participants[roomID] = make(map[uuid.UUID]model.RoomParticipant)
	return nil
}

func (f *fakeRoomRepo) ListParticipants(_ context.Context, roomID uuid.UUID) ([]model.RoomParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.RoomParticipant
	for _, p := range f.participants[roomID] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRoomRepo) CountParticipants(_ context.Context, roomID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.participants[roomID]), nil
}

func (f *fakeRoomRepo) UpdatePlayback(_ context.Context, roomID uuid.UUID, songID *uuid.UUID, positionMs int64, playing bool) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failUpdate {
		return 0, errors.New("connection refused")
	}

	room, ok := f.rooms[roomID]
	if !ok {
		return 0, repository.ErrNotFound
	}

	room.CurrentSongID = songID
	room.PositionMs = positionMs
	room.Playing = playing
	room.Seq++
	room.UpdatedAt = time.Now().UTC()
	return room.Seq, nil
}

// recordingCache delegates to a real Redis-backed cache repository and keeps
// every published room envelope for assertions.
type recordingCache struct {
	repository.CacheRepository

	mu         sync.Mutex
	roomEvents []repository.RoomEventEnvelope
}

func (r *recordingCache) PublishRoomEvent(ctx context.Context, roomID uuid.UUID, envelope *repository.RoomEventEnvelope) error {
	r.mu.Lock()
	r.roomEvents = append(r.roomEvents, *envelope)
	r.mu.Unlock()

	return r.CacheRepository.PublishRoomEvent(ctx, roomID, envelope)
}

func (r *recordingCache) eventsOfType(messageType string) []repository.RoomEventEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []repository.RoomEventEnvelope
	for _, e := range r.roomEvents {
		if e.Message.Type == messageType {
			out = append(out, e)
		}
	}
	return out
}

type roomServiceFixture struct {
	svc   RoomService
	repo  *fakeRoomRepo
	hub   *hub.Hub
	cache *recordingCache
}

func newRoomServiceFixture(t *testing.T) *roomServiceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.Wrap(redislib.NewClient(&redislib.Options{Addr: mr.Addr()}))

	repo := newFakeRoomRepo()
	cache := &recordingCache{CacheRepository: repository.NewCacheRepository(client)}
	h := hub.New()

	return &roomServiceFixture{
		svc:   NewRoomService(repo, cache, h, nil, time.Second),
		repo:  repo,
		hub:   h,
		cache: cache,
	}
}

func (f *roomServiceFixture) createRoom(t *testing.T, hostID uuid.UUID, capacity int) *model.ListeningRoom {
	t.Helper()

	room := &model.ListeningRoom{
		ID:        uuid.New(),
		HostID:    hostID,
		Name:      "listening party",
		Capacity:  capacity,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.repo.CreateRoom(context.Background(), room))
	return room
}

func (f *roomServiceFixture) connect(userID uuid.UUID) *hub.Conn {
	c := hub.NewConn(nil, userID, "tester", 16)
	f.hub.Register(c)
	return c
}

func ptrInt64(v int64) *int64 { return &v }

func TestJoinAdmitsConnection(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	c := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), c, room.ID))

	got, ok := c.Room()
	require.True(t, ok)
	assert.Equal(t, room.ID, got)

	participants, err := f.svc.Participants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 1)

	assert.Len(t, f.cache.eventsOfType(model.TypeParticipantJoined), 1)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newRoomServiceFixture(t)

	c := f.connect(uuid.New())
	err := f.svc.Join(context.Background(), c, uuid.New())
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, ok := c.Room()
	assert.False(t, ok)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	f := newRoomServiceFixture(t)
	room := f.createRoom(t, uuid.New(), 3)

	const joiners = 10
	results := make(chan error, joiners)

	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := f.connect(uuid.New())
			results <- f.svc.Join(context.Background(), c, room.ID)
		}()
	}
	wg.Wait()
	close(results)

	admitted, rejected := 0, 0
	for err := range results {
		if err == nil {
			admitted++
			continue
		}
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		rejected++
	}

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 7, rejected)

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRejoinIsNotACapacityViolation(t *testing.T) {
	f := newRoomServiceFixture(t)
	room := f.createRoom(t, uuid.New(), 1)
	userID := uuid.New()

	deviceA := f.connect(userID)
	deviceB := f.connect(userID)

	require.NoError(t, f.svc.Join(context.Background(), deviceA, room.ID))
	require.NoError(t, f.svc.Join(context.Background(), deviceB, room.ID))

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFailedJoinKeepsCurrentMembership(t *testing.T) {
	f := newRoomServiceFixture(t)
	roomA := f.createRoom(t, uuid.New(), 4)

	c := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), c, roomA.ID))

	err := f.svc.Join(context.Background(), c, uuid.New())
	assert.ErrorIs(t, err, ErrRoomNotFound)

	got, ok := c.Room()
	require.True(t, ok)
	assert.Equal(t, roomA.ID, got)

	count, err := f.repo.CountParticipants(context.Background(), roomA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// a full target room must not evict the caller either
	roomB := f.createRoom(t, uuid.New(), 1)
	occupant := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), occupant, roomB.ID))

	err = f.svc.Join(context.Background(), c, roomB.ID)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	got, ok = c.Room()
	require.True(t, ok)
	assert.Equal(t, roomA.ID, got)

	count, err = f.repo.CountParticipants(context.Background(), roomA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Empty(t, f.cache.eventsOfType(model.TypeParticipantLeft))
}

func TestJoinSwitchesRooms(t *testing.T) {
	f := newRoomServiceFixture(t)
	roomA := f.createRoom(t, uuid.New(), 4)
	roomB := f.createRoom(t, uuid.New(), 4)

	c := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), c, roomA.ID))
	require.NoError(t, f.svc.Join(context.Background(), c, roomB.ID))

	got, ok := c.Room()
	require.True(t, ok)
	assert.Equal(t, roomB.ID, got)

	countA, err := f.repo.CountParticipants(context.Background(), roomA.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, countA)

	countB, err := f.repo.CountParticipants(context.Background(), roomB.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countB)

	assert.Len(t, f.cache.eventsOfType(model.TypeParticipantLeft), 1)
}

func TestRejoinSameRoomOnlyResendsSnapshot(t *testing.T) {
	f := newRoomServiceFixture(t)
	room := f.createRoom(t, uuid.New(), 4)

	c := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), c, room.ID))
	require.NoError(t, f.svc.Join(context.Background(), c, room.ID))

	got, ok := c.Room()
	require.True(t, ok)
	assert.Equal(t, room.ID, got)

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Len(t, f.cache.eventsOfType(model.TypeParticipantJoined), 1)
	assert.Empty(t, f.cache.eventsOfType(model.TypeParticipantLeft))
}

func TestControlRejectsNonHost(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	member := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), member, room.ID))

	err := f.svc.Control(context.Background(), member, &model.RoomControlPayload{
		RoomID: room.ID,
		Action: model.ActionChangeSong,
		SongID: ptrUUID(uuid.New()),
	})
	assert.ErrorIs(t, err, ErrNotHost)

	got, getErr := f.repo.GetRoom(context.Background(), room.ID)
	require.NoError(t, getErr)
	assert.Nil(t, got.CurrentSongID)
	assert.Empty(t, f.cache.eventsOfType(model.TypeRoomUpdate))
}

func ptrUUID(v uuid.UUID) *uuid.UUID { return &v }

func TestControlAppliesInOrder(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	host := f.connect(hostID)
	require.NoError(t, f.svc.Join(context.Background(), host, room.ID))

	songID := uuid.New()
	ctx := context.Background()

	require.NoError(t, f.svc.Control(ctx, host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionChangeSong, SongID: &songID,
	}))
	require.NoError(t, f.svc.Control(ctx, host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionPlay, PositionMs: ptrInt64(10_000),
	}))
	require.NoError(t, f.svc.Control(ctx, host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionSeek, PositionMs: ptrInt64(45_000),
	}))

	got, err := f.repo.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.Playing)
	assert.Equal(t, int64(45_000), got.PositionMs)
	require.NotNil(t, got.CurrentSongID)
	assert.Equal(t, songID, *got.CurrentSongID)

	updates := f.cache.eventsOfType(model.TypeRoomUpdate)
	require.Len(t, updates, 3)
	for i, e := range updates {
		payload, ok := e.Message.Payload.(model.RoomUpdatePayload)
		require.True(t, ok)
		assert.Equal(t, uint64(i+1), payload.Seq)
	}
}

func TestControlValidation(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	host := f.connect(hostID)
	require.NoError(t, f.svc.Join(context.Background(), host, room.ID))

	ctx := context.Background()

	tests := []struct {
		name    string
		payload *model.RoomControlPayload
	}{
		{
			name:    "play with no song loaded",
			payload: &model.RoomControlPayload{RoomID: room.ID, Action: model.ActionPlay},
		},
		{
			name:    "seek without position",
			payload: &model.RoomControlPayload{RoomID: room.ID, Action: model.ActionSeek},
		},
		{
			name:    "change-song without song",
			payload: &model.RoomControlPayload{RoomID: room.ID, Action: model.ActionChangeSong},
		},
		{
			name:    "unknown action",
			payload: &model.RoomControlPayload{RoomID: room.ID, Action: "shuffle"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Control(ctx, host, tt.payload)
			assert.ErrorIs(t, err, ErrBadRequest)
		})
	}

	songID := uuid.New()
	require.NoError(t, f.svc.Control(ctx, host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionChangeSong, SongID: &songID,
	}))

	err := f.svc.Control(ctx, host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionSeek, PositionMs: ptrInt64(-5),
	})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestControlStoreFailure(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	host := f.connect(hostID)
	require.NoError(t, f.svc.Join(context.Background(), host, room.ID))

	f.repo.mu.Lock()
	f.repo.failUpdate = true
	f.repo.mu.Unlock()

	songID := uuid.New()
	err := f.svc.Control(context.Background(), host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionChangeSong, SongID: &songID,
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.cache.eventsOfType(model.TypeRoomUpdate))
}

func TestLeaveRemovesRecord(t *testing.T) {
	f := newRoomServiceFixture(t)
	room := f.createRoom(t, uuid.New(), 4)

	c := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), c, room.ID))
	require.NoError(t, f.svc.Leave(context.Background(), c, room.ID))

	_, ok := c.Room()
	assert.False(t, ok)

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, f.cache.eventsOfType(model.TypeParticipantLeft), 1)

	// leaving again is a no-op
	require.NoError(t, f.svc.Leave(context.Background(), c, room.ID))
	assert.Len(t, f.cache.eventsOfType(model.TypeParticipantLeft), 1)
}

func TestLeaveKeepsRecordWhileAnotherDeviceRemains(t *testing.T) {
	f := newRoomServiceFixture(t)
	room := f.createRoom(t, uuid.New(), 4)
	userID := uuid.New()

	deviceA := f.connect(userID)
	deviceB := f.connect(userID)
	require.NoError(t, f.svc.Join(context.Background(), deviceA, room.ID))
	require.NoError(t, f.svc.Join(context.Background(), deviceB, room.ID))

	require.NoError(t, f.svc.Leave(context.Background(), deviceA, room.ID))

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, f.cache.eventsOfType(model.TypeParticipantLeft))

	require.NoError(t, f.svc.Leave(context.Background(), deviceB, room.ID))

	count, err = f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, f.cache.eventsOfType(model.TypeParticipantLeft), 1)
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	f := newRoomServiceFixture(t)
	room := f.createRoom(t, uuid.New(), 4)

	c := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), c, room.ID))

	f.svc.HandleDisconnect(context.Background(), c)

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, f.hub.UserConnsInRoom(room.ID, c.UserID))
}

func TestHostDisconnectClosesRoom(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	host := f.connect(hostID)
	member := f.connect(uuid.New())
	require.NoError(t, f.svc.Join(context.Background(), host, room.ID))
	require.NoError(t, f.svc.Join(context.Background(), member, room.ID))

	songID := uuid.New()
	require.NoError(t, f.svc.Control(context.Background(), host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionChangeSong, SongID: &songID,
	}))
	require.NoError(t, f.svc.Control(context.Background(), host, &model.RoomControlPayload{
		RoomID: room.ID, Action: model.ActionPlay,
	}))

	f.svc.HandleDisconnect(context.Background(), host)

	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, ok := member.Room()
	assert.False(t, ok)
	assert.Empty(t, f.hub.RoomConns(room.ID))

	got, err := f.repo.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.False(t, got.Playing)

	assert.Len(t, f.cache.eventsOfType(model.TypeRoomClosed), 1)
}

func TestHostDisconnectWithRemainingHostDevice(t *testing.T) {
	f := newRoomServiceFixture(t)
	hostID := uuid.New()
	room := f.createRoom(t, hostID, 4)

	deviceA := f.connect(hostID)
	deviceB := f.connect(hostID)
	require.NoError(t, f.svc.Join(context.Background(), deviceA, room.ID))
	require.NoError(t, f.svc.Join(context.Background(), deviceB, room.ID))

	f.svc.HandleDisconnect(context.Background(), deviceA)

	// the host is still present through another device; the room stays open
	count, err := f.repo.CountParticipants(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, f.cache.eventsOfType(model.TypeRoomClosed))
}

func TestCreateRoomValidation(t *testing.T) {
	f := newRoomServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, uuid.New(), "", 4, false)
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.svc.CreateRoom(ctx, uuid.New(), "party", -1, false)
	assert.ErrorIs(t, err, ErrBadRequest)

	room, err := f.svc.CreateRoom(ctx, uuid.New(), "party", 0, true)
	require.NoError(t, err)
	assert.Equal(t, defaultRoomCapacity, room.Capacity)
	assert.False(t, room.Playing)
	assert.Nil(t, room.CurrentSongID)
}
