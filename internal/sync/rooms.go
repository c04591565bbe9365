// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package sync

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/roomledger/roomledger/internal/logging"
	"github.com/roomledger/roomledger/internal/metrics"
	"github.com/roomledger/roomledger/internal/models"
)

// syncRooms reconciles the room directory from each joined room's full
// state. Name comes from m.room.name, topic from m.room.topic, and the
// member count is the number of m.room.member events with membership join.
// Per-room failures are collected while sibling rooms continue; a room
// whose state fetch failed keeps its previous cached row untouched.
func (e *Engine) syncRooms(ctx context.Context) error {
	roomIDs, err := e.client.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("room sync failed: %w", err)
	}

	now := e.now()
	var mu stdsync.Mutex
	var roomErrs []string
	var synced int

	var g errgroup.Group
	g.SetLimit(e.cfg.Sync.RoomConcurrency)

	for _, roomID := range roomIDs {
		roomID := roomID
		g.Go(func() error {
			state, err := e.client.RoomState(ctx, roomID)
			if err != nil {
				mu.Lock()
				roomErrs = append(roomErrs, fmt.Sprintf("room %s: %v", roomID, err))
				mu.Unlock()
				return nil
			}

			room := roomFromState(roomID, state)
			room.IsPriorityRoom = e.cfg.Matrix.IsPriorityRoom(roomID)
			room.LastSyncedAt = now

			if err := e.store.UpsertMatrixRoom(ctx, room); err != nil {
				mu.Lock()
				roomErrs = append(roomErrs, err.Error())
				mu.Unlock()
				return nil
			}

			mu.Lock()
			synced++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	metrics.RoomsSynced.Set(float64(synced))
	logging.Info().
		Int("rooms", synced).
		Int("room_errors", len(roomErrs)).
		Msg("Room phase complete")

	if len(roomErrs) > 0 {
		return fmt.Errorf("room sync incomplete: %s", strings.Join(roomErrs, "; "))
	}
	return nil
}

// roomFromState builds a MatrixRoom from the room's flat state event array.
func roomFromState(roomID string, state []models.StateEvent) *models.MatrixRoom {
	room := &models.MatrixRoom{RoomID: roomID}

	for _, ev := range state {
		switch ev.Type {
		case models.EventTypeRoomName:
			room.Name = models.OptionalString(ev.Content.Name)
		case models.EventTypeRoomTopic:
			room.Topic = models.OptionalString(ev.Content.Topic)
		case models.EventTypeRoomMember:
			if ev.Content.Membership == models.MembershipJoin {
				room.MemberCount++
			}
		}
	}

	return room
}
