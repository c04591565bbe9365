// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

// Package models defines the cached Matrix entities and the wire types
// returned by the homeserver's Client-Server API.
package models

import (
	"strings"
	"time"
)

// Membership states defined by the Matrix specification.
const (
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipInvite = "invite"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// signalUserPrefix is the localpart prefix the Signal bridge uses for
// puppeted identities, e.g. @signal_4475550123:example.org.
const signalUserPrefix = "signal_"

// MatrixUser is a user observed in at least one room the bot is joined to.
// Rows are only ever created or updated by the sync engine, never deleted.
type MatrixUser struct {
	UserID       string    `json:"user_id"`
	DisplayName  *string   `json:"display_name,omitempty"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	IsSignalUser bool      `json:"is_signal_user"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// MatrixRoom is a room the bot has been joined to and successfully synced.
// Rows are never deleted; IsPriorityRoom is recomputed on every sync pass
// from static configuration and is not user-editable.
type MatrixRoom struct {
	RoomID         string    `json:"room_id"`
	Name           *string   `json:"name,omitempty"`
	Topic          *string   `json:"topic,omitempty"`
	MemberCount    int       `json:"member_count"`
	IsPriorityRoom bool      `json:"is_priority_room"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
}

// MatrixRoomMembership is a live projection of current room membership:
// a row exists for (RoomID, UserID) iff that user was returned as a member
// of the room by the most recent successful membership pass. DisplayName
// and AvatarURL are per-room snapshots and may differ from the user's
// global profile.
type MatrixRoomMembership struct {
	RoomID       string    `json:"room_id"`
	UserID       string    `json:"user_id"`
	Membership   string    `json:"membership"`
	DisplayName  *string   `json:"display_name,omitempty"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// PriorityRoomUser is the projection returned by the priority-room query,
// consumed by onboarding flows.
type PriorityRoomUser struct {
	UserID       string  `json:"user_id"`
	DisplayName  *string `json:"display_name,omitempty"`
	IsSignalUser bool    `json:"is_signal_user"`
}

// IsSignalUserID reports whether a Matrix user ID belongs to a
// Signal-bridge puppet, i.e. its localpart starts with "signal_".
// A user ID has the form @localpart:server.name.
func IsSignalUserID(userID string) bool {
	localpart, ok := Localpart(userID)
	if !ok {
		return false
	}
	return strings.HasPrefix(localpart, signalUserPrefix)
}

// Localpart extracts the localpart from a Matrix user ID.
// Returns false if the ID is not of the form @localpart:server.
func Localpart(userID string) (string, bool) {
	if !strings.HasPrefix(userID, "@") {
		return "", false
	}
	rest := userID[1:]
	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// OptionalString returns nil for the empty string, otherwise a pointer to s.
// Matrix omits displayname/avatar_url rather than sending empty values, and
// the cache stores NULL for absent fields.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
