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

// ErrUserNotFound is returned when a user is not in the cache.
var ErrUserNotFound = errors.New("matrix user not found")

// UpsertMatrixUser inserts or updates a user row. The engine never deletes
// users; a user who has left every room keeps their last-known profile.
func (db *DB) UpsertMatrixUser(ctx context.Context, user *models.MatrixUser) error {
	start := time.Now()

	query := `INSERT INTO matrix_users (
		user_id, display_name, avatar_url, is_signal_user, last_synced_at
	) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		display_name = excluded.display_name,
		avatar_url = excluded.avatar_url,
		is_signal_user = excluded.is_signal_user,
		last_synced_at = excluded.last_synced_at`

	_, err := db.conn.ExecContext(ctx, query,
		user.UserID, user.DisplayName, user.AvatarURL, user.IsSignalUser, user.LastSyncedAt,
	)
	metrics.RecordDBQuery("upsert", "matrix_users", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert matrix user %s: %w", user.UserID, err)
	}

	return nil
}

// GetMatrixUser retrieves a user by ID.
func (db *DB) GetMatrixUser(ctx context.Context, userID string) (*models.MatrixUser, error) {
	query := `SELECT user_id, display_name, avatar_url, is_signal_user, last_synced_at
	FROM matrix_users WHERE user_id = ?`

	var user models.MatrixUser
	var displayName, avatarURL sql.NullString

	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &displayName, &avatarURL, &user.IsSignalUser, &user.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get matrix user %s: %w", userID, err)
	}

	if displayName.Valid {
		user.DisplayName = &displayName.String
	}
	if avatarURL.Valid {
		user.AvatarURL = &avatarURL.String
	}

	return &user, nil
}

// ListMatrixUsers retrieves all cached users ordered by user ID.
func (db *DB) ListMatrixUsers(ctx context.Context) ([]models.MatrixUser, error) {
	query := `SELECT user_id, display_name, avatar_url, is_signal_user, last_synced_at
	FROM matrix_users ORDER BY user_id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list matrix users: %w", err)
	}
	defer rows.Close()

	users := make([]models.MatrixUser, 0)
	for rows.Next() {
		var user models.MatrixUser
		var displayName, avatarURL sql.NullString
		if err := rows.Scan(&user.UserID, &displayName, &avatarURL, &user.IsSignalUser, &user.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan matrix user: %w", err)
		}
		if displayName.Valid {
			user.DisplayName = &displayName.String
		}
		if avatarURL.Valid {
			user.AvatarURL = &avatarURL.String
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matrix users: %w", err)
	}

	return users, nil
}
