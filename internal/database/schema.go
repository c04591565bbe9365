// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package database

import (
	"context"
	"fmt"
)

// schemaStatements defines the cache tables. Statements are idempotent so
// startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS matrix_users (
		user_id        VARCHAR PRIMARY KEY,
		display_name   VARCHAR,
		avatar_url     VARCHAR,
		is_signal_user BOOLEAN NOT NULL DEFAULT false,
		last_synced_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS matrix_rooms (
		room_id          VARCHAR PRIMARY KEY,
		name             VARCHAR,
		topic            VARCHAR,
		member_count     INTEGER NOT NULL DEFAULT 0,
		is_priority_room BOOLEAN NOT NULL DEFAULT false,
		last_synced_at   TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS matrix_room_memberships (
		room_id        VARCHAR NOT NULL,
		user_id        VARCHAR NOT NULL,
		membership     VARCHAR NOT NULL,
		display_name   VARCHAR,
		avatar_url     VARCHAR,
		last_synced_at TIMESTAMP NOT NULL,
		PRIMARY KEY (room_id, user_id)
	)`,
}

// initSchema creates the cache tables if they do not exist.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
