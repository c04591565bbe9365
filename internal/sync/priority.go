// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package sync

import (
	"context"
	"fmt"

	"github.com/roomledger/roomledger/internal/models"
)

// UsersFromPriorityRooms returns the joined members of the resolved
// priority room. Pure read over the cache; never touches the homeserver.
// Returns an empty slice when no priority room can be resolved.
func (e *Engine) UsersFromPriorityRooms(ctx context.Context) ([]models.PriorityRoomUser, error) {
	roomID, err := e.resolvePriorityRoom(ctx)
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return []models.PriorityRoomUser{}, nil
	}
	return e.store.PriorityRoomUsers(ctx, roomID)
}

// resolvePriorityRoom picks the room the onboarding flow should read.
// Preference order:
//  1. the configured INDOC room, if tracked in the cache;
//  2. the first configured priority ID that is tracked, in configuration
//     order default, welcome, signal-bridge, indoc;
//  3. the lowest room ID among cached rows flagged priority.
//
// Returns "" when nothing matches.
func (e *Engine) resolvePriorityRoom(ctx context.Context) (string, error) {
	tracked, err := e.store.ListPriorityRoomIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve priority room: %w", err)
	}
	if len(tracked) == 0 {
		return "", nil
	}

	isTracked := make(map[string]bool, len(tracked))
	for _, id := range tracked {
		isTracked[id] = true
	}

	if indoc := e.cfg.Matrix.IndocRoomID; indoc != "" && isTracked[indoc] {
		return indoc, nil
	}

	for _, id := range e.cfg.Matrix.PriorityRoomIDs() {
		if isTracked[id] {
			return id, nil
		}
	}

	// tracked is ordered by room ID, so the first entry is the tie-break.
	return tracked[0], nil
}
