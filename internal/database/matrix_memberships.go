// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roomledger/roomledger/internal/metrics"
	"github.com/roomledger/roomledger/internal/models"
)

// UpsertMatrixRoomMembership inserts or updates a membership row keyed by
// (room_id, user_id).
func (db *DB) UpsertMatrixRoomMembership(ctx context.Context, m *models.MatrixRoomMembership) error {
	start := time.Now()

	query := `INSERT INTO matrix_room_memberships (
		room_id, user_id, membership, display_name, avatar_url, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (room_id, user_id) DO UPDATE SET
		membership = excluded.membership,
		display_name = excluded.display_name,
		avatar_url = excluded.avatar_url,
		last_synced_at = excluded.last_synced_at`

	_, err := db.conn.ExecContext(ctx, query,
		m.RoomID, m.UserID, m.Membership, m.DisplayName, m.AvatarURL, m.LastSyncedAt,
	)
	metrics.RecordDBQuery("upsert", "matrix_room_memberships", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert membership %s/%s: %w", m.RoomID, m.UserID, err)
	}

	return nil
}

// DeleteMembershipsExcept removes membership rows for a room whose user is
// not in keep. An empty keep list deletes every row for the room. This is
// the eviction step that keeps the membership table a live projection of
// current room state; it is always scoped to a single room.
func (db *DB) DeleteMembershipsExcept(ctx context.Context, roomID string, keep []string) (int64, error) {
	start := time.Now()

	var query string
	args := []any{roomID}

	if len(keep) == 0 {
		query = `DELETE FROM matrix_room_memberships WHERE room_id = ?`
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", ")
		query = fmt.Sprintf(
			`DELETE FROM matrix_room_memberships WHERE room_id = ? AND user_id NOT IN (%s)`,
			placeholders)
		for _, userID := range keep {
			args = append(args, userID)
		}
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	metrics.RecordDBQuery("delete", "matrix_room_memberships", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to evict stale memberships for %s: %w", roomID, err)
	}

	evicted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return evicted, nil
}

// ListRoomMemberships retrieves all membership rows for a room ordered by
// user ID.
func (db *DB) ListRoomMemberships(ctx context.Context, roomID string) ([]models.MatrixRoomMembership, error) {
	query := `SELECT room_id, user_id, membership, display_name, avatar_url, last_synced_at
	FROM matrix_room_memberships WHERE room_id = ? ORDER BY user_id`

	rows, err := db.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships for %s: %w", roomID, err)
	}
	defer rows.Close()

	memberships := make([]models.MatrixRoomMembership, 0)
	for rows.Next() {
		var m models.MatrixRoomMembership
		var displayName, avatarURL sql.NullString
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Membership, &displayName, &avatarURL, &m.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if displayName.Valid {
			m.DisplayName = &displayName.String
		}
		if avatarURL.Valid {
			m.AvatarURL = &avatarURL.String
		}
		memberships = append(memberships, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

// PriorityRoomUsers returns the joined members of a room with their global
// profile, for consumption by onboarding flows. Only membership = 'join'
// rows are included.
func (db *DB) PriorityRoomUsers(ctx context.Context, roomID string) ([]models.PriorityRoomUser, error) {
	query := `SELECT u.user_id, u.display_name, u.is_signal_user
	FROM matrix_room_memberships m
	JOIN matrix_users u ON u.user_id = m.user_id
	WHERE m.room_id = ? AND m.membership = 'join'
	ORDER BY u.user_id`

	rows, err := db.conn.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query priority room users for %s: %w", roomID, err)
	}
	defer rows.Close()

	users := make([]models.PriorityRoomUser, 0)
	for rows.Next() {
		var u models.PriorityRoomUser
		var displayName sql.NullString
		if err := rows.Scan(&u.UserID, &displayName, &u.IsSignalUser); err != nil {
			return nil, fmt.Errorf("failed to scan priority room user: %w", err)
		}
		if displayName.Valid {
			u.DisplayName = &displayName.String
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating priority room users: %w", err)
	}

	return users, nil
}
