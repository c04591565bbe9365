// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/roomledger/roomledger/internal/logging"
	"github.com/roomledger/roomledger/internal/metrics"
	"github.com/roomledger/roomledger/internal/models"
)

// syncUsers reconciles the user directory: the distinct union of member
// user IDs across all joined rooms. A joined_rooms failure is fatal to the
// phase; per-room member fetch failures are collected while sibling rooms
// continue.
func (e *Engine) syncUsers(ctx context.Context) error {
	roomIDs, err := e.client.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("user sync failed: %w", err)
	}

	type profile struct {
		displayName string
		avatarURL   string
	}

	users := make(map[string]profile)
	var mu stdsync.Mutex
	var roomErrs []string

	// Plain errgroup rather than WithContext: one room failing must not
	// cancel its siblings.
	var g errgroup.Group
	g.SetLimit(e.cfg.Sync.RoomConcurrency)

	for _, roomID := range roomIDs {
		roomID := roomID
		g.Go(func() error {
			members, err := e.client.RoomMembers(ctx, roomID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				roomErrs = append(roomErrs, fmt.Sprintf("room %s: %v", roomID, err))
				return nil
			}
			for _, m := range members {
				if m.StateKey == "" {
					continue
				}
				// Last writer wins across rooms; the membership table keeps
				// the per-room profile snapshots.
				p := users[m.StateKey]
				if m.Content.DisplayName != "" {
					p.displayName = m.Content.DisplayName
				}
				if m.Content.AvatarURL != "" {
					p.avatarURL = m.Content.AvatarURL
				}
				users[m.StateKey] = p
			}
			return nil
		})
	}
	_ = g.Wait() // Goroutines report through roomErrs, never a Go error

	now := e.now()
	userIDs := make([]string, 0, len(users))
	for userID := range users {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs) // Deterministic write order

	var upsertErrs []string
	for _, userID := range userIDs {
		p := users[userID]
		user := &models.MatrixUser{
			UserID:       userID,
			DisplayName:  models.OptionalString(p.displayName),
			AvatarURL:    models.OptionalString(p.avatarURL),
			IsSignalUser: models.IsSignalUserID(userID),
			LastSyncedAt: now,
		}
		if err := e.store.UpsertMatrixUser(ctx, user); err != nil {
			upsertErrs = append(upsertErrs, err.Error())
		}
	}

	metrics.UsersSynced.Set(float64(len(userIDs)))
	logging.Info().
		Int("rooms", len(roomIDs)).
		Int("users", len(userIDs)).
		Int("room_errors", len(roomErrs)).
		Msg("User phase complete")

	all := append(roomErrs, upsertErrs...)
	if len(all) > 0 {
		return fmt.Errorf("user sync incomplete: %s", strings.Join(all, "; "))
	}
	return nil
}
