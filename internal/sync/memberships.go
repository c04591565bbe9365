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

// syncMemberships reconciles per-room membership rows for every room the
// STORE tracks, not the live joined_rooms list: a room that failed its
// state fetch this run still gets its memberships refreshed, and a room
// the bot just left keeps its last-known membership snapshot.
//
// For each room: fetch /members, defensively upsert users so the foreign
// profile join never dangles, upsert (room_id, user_id) rows, then evict
// rows whose user is absent from the fetched set. Eviction is strictly
// room-scoped and is skipped when any upsert for the room failed, so a
// partial write can never be mistaken for a departure.
func (e *Engine) syncMemberships(ctx context.Context) error {
	rooms, err := e.store.ListMatrixRooms(ctx)
	if err != nil {
		return fmt.Errorf("membership sync failed: %w", err)
	}

	var mu stdsync.Mutex
	var roomErrs []string

	var g errgroup.Group
	g.SetLimit(e.cfg.Sync.RoomConcurrency)

	for _, room := range rooms {
		roomID := room.RoomID
		g.Go(func() error {
			if err := e.syncRoomMemberships(ctx, roomID); err != nil {
				mu.Lock()
				roomErrs = append(roomErrs, err.Error())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	logging.Info().
		Int("rooms", len(rooms)).
		Int("room_errors", len(roomErrs)).
		Msg("Membership phase complete")

	if len(roomErrs) > 0 {
		return fmt.Errorf("membership sync incomplete: %s", strings.Join(roomErrs, "; "))
	}
	return nil
}

// syncRoomMemberships reconciles one room's membership rows.
func (e *Engine) syncRoomMemberships(ctx context.Context, roomID string) error {
	members, err := e.client.RoomMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room %s: %w", roomID, err)
	}

	now := e.now()
	present := make([]string, 0, len(members))
	var upsertErrs []string

	for _, m := range members {
		if m.StateKey == "" {
			continue
		}
		present = append(present, m.StateKey)

		// Defensive user upsert: the member may have been missed by the
		// user phase (new join mid-sync, or the user phase failed).
		user := &models.MatrixUser{
			UserID:       m.StateKey,
			DisplayName:  models.OptionalString(m.Content.DisplayName),
			AvatarURL:    models.OptionalString(m.Content.AvatarURL),
			IsSignalUser: models.IsSignalUserID(m.StateKey),
			LastSyncedAt: now,
		}
		if err := e.store.UpsertMatrixUser(ctx, user); err != nil {
			upsertErrs = append(upsertErrs, err.Error())
			continue
		}

		membership := &models.MatrixRoomMembership{
			RoomID:       roomID,
			UserID:       m.StateKey,
			Membership:   m.Content.Membership,
			DisplayName:  models.OptionalString(m.Content.DisplayName),
			AvatarURL:    models.OptionalString(m.Content.AvatarURL),
			LastSyncedAt: now,
		}
		if err := e.store.UpsertMatrixRoomMembership(ctx, membership); err != nil {
			upsertErrs = append(upsertErrs, err.Error())
			continue
		}
		metrics.MembershipsUpserted.Inc()
	}

	if len(upsertErrs) > 0 {
		// Evicting after partial writes would treat unsaved members as
		// departed. Leave stale rows for the next run instead.
		return fmt.Errorf("room %s: %s", roomID, strings.Join(upsertErrs, "; "))
	}

	evicted, err := e.store.DeleteMembershipsExcept(ctx, roomID, present)
	if err != nil {
		return fmt.Errorf("room %s: %w", roomID, err)
	}
	if evicted > 0 {
		metrics.MembershipsEvicted.Add(float64(evicted))
		logging.Debug().Str("room_id", roomID).Int64("evicted", evicted).Msg("Evicted stale memberships")
	}

	return nil
}
