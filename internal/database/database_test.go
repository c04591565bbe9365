// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roomledger/roomledger/internal/config"
	"github.com/roomledger/roomledger/internal/models"
)

// newTestDB opens a DuckDB database in a per-test temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "500MB",
		Threads:   1,
	}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func strptr(s string) *string { return &s }

func TestUpsertAndGetMatrixUser(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	user := &models.MatrixUser{
		UserID:       "@user1:matrix.org",
		DisplayName:  strptr("User One"),
		IsSignalUser: false,
		LastSyncedAt: now,
	}
	if err := db.UpsertMatrixUser(ctx, user); err != nil {
		t.Fatalf("UpsertMatrixUser failed: %v", err)
	}

	got, err := db.GetMatrixUser(ctx, "@user1:matrix.org")
	if err != nil {
		t.Fatalf("GetMatrixUser failed: %v", err)
	}
	if got.DisplayName == nil || *got.DisplayName != "User One" {
		t.Errorf("DisplayName = %v, want User One", got.DisplayName)
	}
	if got.AvatarURL != nil {
		t.Errorf("AvatarURL = %v, want nil", got.AvatarURL)
	}

	// Second upsert updates in place rather than failing on the PK.
	user.DisplayName = strptr("Renamed")
	user.AvatarURL = strptr("mxc://matrix.org/abc")
	if err := db.UpsertMatrixUser(ctx, user); err != nil {
		t.Fatalf("second UpsertMatrixUser failed: %v", err)
	}

	got, err = db.GetMatrixUser(ctx, "@user1:matrix.org")
	if err != nil {
		t.Fatalf("GetMatrixUser after update failed: %v", err)
	}
	if got.DisplayName == nil || *got.DisplayName != "Renamed" {
		t.Errorf("DisplayName after update = %v, want Renamed", got.DisplayName)
	}
	if got.AvatarURL == nil || *got.AvatarURL != "mxc://matrix.org/abc" {
		t.Errorf("AvatarURL after update = %v", got.AvatarURL)
	}

	users, err := db.ListMatrixUsers(ctx)
	if err != nil {
		t.Fatalf("ListMatrixUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("ListMatrixUsers returned %d users, want 1", len(users))
	}
}

func TestGetMatrixUserNotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	_, err := db.GetMatrixUser(context.Background(), "@nobody:matrix.org")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetMatrixUser error = %v, want ErrUserNotFound", err)
	}
}

func TestUpsertAndGetMatrixRoom(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	room := &models.MatrixRoom{
		RoomID:         "!room1:matrix.org",
		Name:           strptr("Test Room"),
		Topic:          strptr("A room for testing"),
		MemberCount:    2,
		IsPriorityRoom: true,
		LastSyncedAt:   now,
	}
	if err := db.UpsertMatrixRoom(ctx, room); err != nil {
		t.Fatalf("UpsertMatrixRoom failed: %v", err)
	}

	got, err := db.GetMatrixRoom(ctx, "!room1:matrix.org")
	if err != nil {
		t.Fatalf("GetMatrixRoom failed: %v", err)
	}
	if got.Name == nil || *got.Name != "Test Room" {
		t.Errorf("Name = %v, want Test Room", got.Name)
	}
	if got.MemberCount != 2 {
		t.Errorf("MemberCount = %d, want 2", got.MemberCount)
	}
	if !got.IsPriorityRoom {
		t.Error("IsPriorityRoom = false, want true")
	}

	// The priority flag is recomputed every pass; clearing it must stick.
	room.IsPriorityRoom = false
	if err := db.UpsertMatrixRoom(ctx, room); err != nil {
		t.Fatalf("second UpsertMatrixRoom failed: %v", err)
	}
	got, err = db.GetMatrixRoom(ctx, "!room1:matrix.org")
	if err != nil {
		t.Fatalf("GetMatrixRoom after update failed: %v", err)
	}
	if got.IsPriorityRoom {
		t.Error("IsPriorityRoom after clear = true, want false")
	}

	exists, err := db.RoomExists(ctx, "!room1:matrix.org")
	if err != nil || !exists {
		t.Errorf("RoomExists = (%v, %v), want (true, nil)", exists, err)
	}
	exists, err = db.RoomExists(ctx, "!missing:matrix.org")
	if err != nil || exists {
		t.Errorf("RoomExists for missing room = (%v, %v), want (false, nil)", exists, err)
	}

	if _, err := db.GetMatrixRoom(ctx, "!missing:matrix.org"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("GetMatrixRoom error = %v, want ErrRoomNotFound", err)
	}
}

func TestListPriorityRoomIDsOrdered(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rooms := []models.MatrixRoom{
		{RoomID: "!ccc:matrix.org", IsPriorityRoom: true, LastSyncedAt: now},
		{RoomID: "!aaa:matrix.org", IsPriorityRoom: true, LastSyncedAt: now},
		{RoomID: "!bbb:matrix.org", IsPriorityRoom: false, LastSyncedAt: now},
	}
	for i := range rooms {
		if err := db.UpsertMatrixRoom(ctx, &rooms[i]); err != nil {
			t.Fatalf("UpsertMatrixRoom failed: %v", err)
		}
	}

	ids, err := db.ListPriorityRoomIDs(ctx)
	if err != nil {
		t.Fatalf("ListPriorityRoomIDs failed: %v", err)
	}
	want := []string{"!aaa:matrix.org", "!ccc:matrix.org"}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("ListPriorityRoomIDs = %v, want %v", ids, want)
	}
}

func TestMembershipUpsertAndEviction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const roomA = "!roomA:matrix.org"
	const roomB = "!roomB:matrix.org"

	for _, m := range []models.MatrixRoomMembership{
		{RoomID: roomA, UserID: "@user1:matrix.org", Membership: models.MembershipJoin, LastSyncedAt: now},
		{RoomID: roomA, UserID: "@user2:matrix.org", Membership: models.MembershipJoin, LastSyncedAt: now},
		{RoomID: roomA, UserID: "@gone:matrix.org", Membership: models.MembershipJoin, LastSyncedAt: now},
		{RoomID: roomB, UserID: "@user1:matrix.org", Membership: models.MembershipJoin, LastSyncedAt: now},
	} {
		m := m
		if err := db.UpsertMatrixRoomMembership(ctx, &m); err != nil {
			t.Fatalf("UpsertMatrixRoomMembership failed: %v", err)
		}
	}

	// Eviction removes only the departed user and only in room A.
	evicted, err := db.DeleteMembershipsExcept(ctx, roomA, []string{"@user1:matrix.org", "@user2:matrix.org"})
	if err != nil {
		t.Fatalf("DeleteMembershipsExcept failed: %v", err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}

	remaining, err := db.ListRoomMemberships(ctx, roomA)
	if err != nil {
		t.Fatalf("ListRoomMemberships failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("room A has %d memberships after eviction, want 2", len(remaining))
	}
	for _, m := range remaining {
		if m.UserID == "@gone:matrix.org" {
			t.Error("departed user still present after eviction")
		}
	}

	other, err := db.ListRoomMemberships(ctx, roomB)
	if err != nil {
		t.Fatalf("ListRoomMemberships for room B failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("room B has %d memberships, want 1 (eviction must be room-scoped)", len(other))
	}

	// Empty keep list clears the room entirely.
	evicted, err = db.DeleteMembershipsExcept(ctx, roomA, nil)
	if err != nil {
		t.Fatalf("DeleteMembershipsExcept with empty keep failed: %v", err)
	}
	if evicted != 2 {
		t.Errorf("evicted with empty keep = %d, want 2", evicted)
	}
}

func TestPriorityRoomUsers(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const room = "!indoc:matrix.org"

	users := []models.MatrixUser{
		{UserID: "@signal_123:matrix.org", IsSignalUser: true, LastSyncedAt: now},
		{UserID: "@user1:matrix.org", DisplayName: strptr("User One"), LastSyncedAt: now},
		{UserID: "@invited:matrix.org", LastSyncedAt: now},
	}
	for i := range users {
		if err := db.UpsertMatrixUser(ctx, &users[i]); err != nil {
			t.Fatalf("UpsertMatrixUser failed: %v", err)
		}
	}

	memberships := []models.MatrixRoomMembership{
		{RoomID: room, UserID: "@signal_123:matrix.org", Membership: models.MembershipJoin, LastSyncedAt: now},
		{RoomID: room, UserID: "@user1:matrix.org", Membership: models.MembershipJoin, LastSyncedAt: now},
		{RoomID: room, UserID: "@invited:matrix.org", Membership: models.MembershipInvite, LastSyncedAt: now},
	}
	for i := range memberships {
		if err := db.UpsertMatrixRoomMembership(ctx, &memberships[i]); err != nil {
			t.Fatalf("UpsertMatrixRoomMembership failed: %v", err)
		}
	}

	got, err := db.PriorityRoomUsers(ctx, room)
	if err != nil {
		t.Fatalf("PriorityRoomUsers failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("PriorityRoomUsers returned %d users, want 2 (invited excluded)", len(got))
	}
	if got[0].UserID != "@signal_123:matrix.org" || !got[0].IsSignalUser {
		t.Errorf("got[0] = %+v, want signal user", got[0])
	}
	if got[1].UserID != "@user1:matrix.org" || got[1].DisplayName == nil || *got[1].DisplayName != "User One" {
		t.Errorf("got[1] = %+v, want @user1 with display name", got[1])
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
