// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roomledger/roomledger/internal/metrics"
	"github.com/roomledger/roomledger/internal/models"
)

// ErrRoomNotFound is returned when a room is not in the cache.
var ErrRoomNotFound = errors.New("matrix room not found")

// UpsertMatrixRoom inserts or updates a room row. IsPriorityRoom is
// recomputed by the caller on every sync pass, so a room removed from
// configuration loses its flag on the next sync.
func (db *DB) UpsertMatrixRoom(ctx context.Context, room *models.MatrixRoom) error {
	start := time.Now()

	query := `INSERT INTO matrix_rooms (
		room_id, name, topic, member_count, is_priority_room, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (room_id) DO UPDATE SET
		name = excluded.name,
		topic = excluded.topic,
		member_count = excluded.member_count,
		is_priority_room = excluded.is_priority_room,
		last_synced_at = excluded.last_synced_at`

	_, err := db.conn.ExecContext(ctx, query,
		room.RoomID, room.Name, room.Topic, room.MemberCount, room.IsPriorityRoom, room.LastSyncedAt,
	)
	metrics.RecordDBQuery("upsert", "matrix_rooms", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert matrix room %s: %w", room.RoomID, err)
	}

	return nil
}

// GetMatrixRoom retrieves a room by ID.
func (db *DB) GetMatrixRoom(ctx context.Context, roomID string) (*models.MatrixRoom, error) {
	query := `SELECT room_id, name, topic, member_count, is_priority_room, last_synced_at
	FROM matrix_rooms WHERE room_id = ?`

	row := db.conn.QueryRowContext(ctx, query, roomID)
	room, err := scanMatrixRoom(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get matrix room %s: %w", roomID, err)
	}
	return room, nil
}

// RoomExists reports whether a room is present in the cache.
func (db *DB) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matrix_rooms WHERE room_id = ?`, roomID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check room existence: %w", err)
	}
	return count > 0, nil
}

// ListMatrixRooms retrieves all cached rooms ordered by room ID.
func (db *DB) ListMatrixRooms(ctx context.Context) ([]models.MatrixRoom, error) {
	query := `SELECT room_id, name, topic, member_count, is_priority_room, last_synced_at
	FROM matrix_rooms ORDER BY room_id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list matrix rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]models.MatrixRoom, 0)
	for rows.Next() {
		room, err := scanMatrixRoom(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matrix room: %w", err)
		}
		rooms = append(rooms, *room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matrix rooms: %w", err)
	}

	return rooms, nil
}

// ListPriorityRoomIDs returns the IDs of rooms flagged as priority,
// ordered lexicographically for a deterministic fallback choice.
func (db *DB) ListPriorityRoomIDs(ctx context.Context) ([]string, error) {
	query := `SELECT room_id FROM matrix_rooms WHERE is_priority_room = true ORDER BY room_id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list priority rooms: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan priority room id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating priority rooms: %w", err)
	}

	return ids, nil
}

// scanMatrixRoom scans one room row via the given Scan function, which
// lets it serve both QueryRow and Rows iteration.
func scanMatrixRoom(scan func(...any) error) (*models.MatrixRoom, error) {
	var room models.MatrixRoom
	var name, topic sql.NullString

	err := scan(&room.RoomID, &name, &topic, &room.MemberCount, &room.IsPriorityRoom, &room.LastSyncedAt)
	if err != nil {
		return nil, err
	}

	if name.Valid {
		room.Name = &name.String
	}
	if topic.Valid {
		room.Topic = &topic.String
	}

	return &room, nil
}
