// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/roomledger/roomledger/internal/config"
	"github.com/roomledger/roomledger/internal/models"
)

// mockStore implements Store with function fields. Unset fields behave as
// successful no-ops so tests only wire what they assert on. The embedded
// recorders are safe for concurrent use.
type mockStore struct {
	PingFunc                    func(ctx context.Context) error
	UpsertUserFunc              func(ctx context.Context, user *models.MatrixUser) error
	UpsertRoomFunc              func(ctx context.Context, room *models.MatrixRoom) error
	UpsertMembershipFunc        func(ctx context.Context, m *models.MatrixRoomMembership) error
	DeleteMembershipsExceptFunc func(ctx context.Context, roomID string, keep []string) (int64, error)
	ListRoomsFunc               func(ctx context.Context) ([]models.MatrixRoom, error)
	ListPriorityRoomIDsFunc     func(ctx context.Context) ([]string, error)
	PriorityRoomUsersFunc       func(ctx context.Context, roomID string) ([]models.PriorityRoomUser, error)

	mu          stdsync.Mutex
	users       map[string]models.MatrixUser
	rooms       map[string]models.MatrixRoom
	memberships map[string]models.MatrixRoomMembership // key roomID + "|" + userID
	evictions   map[string][]string                    // roomID -> last keep list
}

func newMockStore() *mockStore {
	return &mockStore{
		users:       make(map[string]models.MatrixUser),
		rooms:       make(map[string]models.MatrixRoom),
		memberships: make(map[string]models.MatrixRoomMembership),
		evictions:   make(map[string][]string),
	}
}

func (s *mockStore) Ping(ctx context.Context) error {
	if s.PingFunc != nil {
		return s.PingFunc(ctx)
	}
	return nil
}

func (s *mockStore) UpsertMatrixUser(ctx context.Context, user *models.MatrixUser) error {
	if s.UpsertUserFunc != nil {
		if err := s.UpsertUserFunc(ctx, user); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = *user
	return nil
}

func (s *mockStore) UpsertMatrixRoom(ctx context.Context, room *models.MatrixRoom) error {
	if s.UpsertRoomFunc != nil {
		if err := s.UpsertRoomFunc(ctx, room); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.RoomID] = *room
	return nil
}

func (s *mockStore) UpsertMatrixRoomMembership(ctx context.Context, m *models.MatrixRoomMembership) error {
	if s.UpsertMembershipFunc != nil {
		if err := s.UpsertMembershipFunc(ctx, m); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.RoomID+"|"+m.UserID] = *m
	return nil
}

func (s *mockStore) DeleteMembershipsExcept(ctx context.Context, roomID string, keep []string) (int64, error) {
	if s.DeleteMembershipsExceptFunc != nil {
		return s.DeleteMembershipsExceptFunc(ctx, roomID, keep)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictions[roomID] = keep

	keepSet := make(map[string]bool, len(keep))
	for _, userID := range keep {
		keepSet[userID] = true
	}
	var evicted int64
	for key, m := range s.memberships {
		if m.RoomID == roomID && !keepSet[m.UserID] {
			delete(s.memberships, key)
			evicted++
		}
	}
	return evicted, nil
}

func (s *mockStore) ListMatrixRooms(ctx context.Context) ([]models.MatrixRoom, error) {
	if s.ListRoomsFunc != nil {
		return s.ListRoomsFunc(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]models.MatrixRoom, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (s *mockStore) ListPriorityRoomIDs(ctx context.Context) ([]string, error) {
	if s.ListPriorityRoomIDsFunc != nil {
		return s.ListPriorityRoomIDsFunc(ctx)
	}
	return nil, nil
}

func (s *mockStore) PriorityRoomUsers(ctx context.Context, roomID string) ([]models.PriorityRoomUser, error) {
	if s.PriorityRoomUsersFunc != nil {
		return s.PriorityRoomUsersFunc(ctx, roomID)
	}
	return nil, nil
}

func (s *mockStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *mockStore) user(userID string) (models.MatrixUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	return u, ok
}

func (s *mockStore) room(roomID string) (models.MatrixRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	return r, ok
}

func (s *mockStore) membership(roomID, userID string) (models.MatrixRoomMembership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[roomID+"|"+userID]
	return m, ok
}

func (s *mockStore) evictionKeepList(roomID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep, ok := s.evictions[roomID]
	return keep, ok
}

// mockClient implements MatrixClientInterface with function fields.
type mockClient struct {
	JoinedRoomsFunc func(ctx context.Context) ([]string, error)
	RoomStateFunc   func(ctx context.Context, roomID string) ([]models.StateEvent, error)
	RoomMembersFunc func(ctx context.Context, roomID string) ([]models.MemberEvent, error)
}

func (c *mockClient) JoinedRooms(ctx context.Context) ([]string, error) {
	if c.JoinedRoomsFunc != nil {
		return c.JoinedRoomsFunc(ctx)
	}
	return nil, nil
}

func (c *mockClient) RoomState(ctx context.Context, roomID string) ([]models.StateEvent, error) {
	if c.RoomStateFunc != nil {
		return c.RoomStateFunc(ctx, roomID)
	}
	return nil, nil
}

func (c *mockClient) RoomMembers(ctx context.Context, roomID string) ([]models.MemberEvent, error) {
	if c.RoomMembersFunc != nil {
		return c.RoomMembersFunc(ctx, roomID)
	}
	return nil, nil
}

// newTestConfig returns a config with sane sync defaults for engine tests.
func newTestConfig() *config.Config {
	return &config.Config{
		Matrix: config.MatrixConfig{
			HomeserverURL:     "https://matrix.example.org",
			AccessToken:       "syt_test",
			RequestTimeout:    5 * time.Second,
			RequestsPerSecond: 100,
		},
		Sync: config.SyncConfig{
			Enabled:         true,
			Interval:        30 * time.Minute,
			MinInterval:     5 * time.Minute,
			RoomConcurrency: 4,
		},
	}
}

func newTestEngine(store Store, client MatrixClientInterface) *Engine {
	return NewEngine(store, client, newTestConfig())
}

// Fixtures shared across phase tests.

func roomFixture(roomID string) models.MatrixRoom {
	name := "Test Room"
	return models.MatrixRoom{
		RoomID:       roomID,
		Name:         &name,
		MemberCount:  2,
		LastSyncedAt: time.Now(),
	}
}

// testRoomState reports name, topic, and two joined members.
func testRoomState() []models.StateEvent {
	return []models.StateEvent{
		{Type: models.EventTypeRoomName, Content: models.StateEventContent{Name: "Test Room"}},
		{Type: models.EventTypeRoomTopic, Content: models.StateEventContent{Topic: "This is a test room"}},
		{Type: models.EventTypeRoomMember, StateKey: "@user1:matrix.org", Content: models.StateEventContent{Membership: models.MembershipJoin}},
		{Type: models.EventTypeRoomMember, StateKey: "@signal_123:matrix.org", Content: models.StateEventContent{Membership: models.MembershipJoin}},
	}
}

func testRoomMembers() []models.MemberEvent {
	return []models.MemberEvent{
		{
			StateKey: "@user1:matrix.org",
			Content: models.MemberContent{
				Membership:  models.MembershipJoin,
				DisplayName: "User One",
				AvatarURL:   "mxc://matrix.org/avatar1",
			},
		},
		{
			StateKey: "@signal_123:matrix.org",
			Content: models.MemberContent{
				Membership: models.MembershipJoin,
			},
		},
	}
}
