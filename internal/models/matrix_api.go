// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package models

// Wire types for the three Matrix Client-Server API read endpoints the
// engine consumes. Field names follow the Matrix specification.

// JoinedRoomsResponse is returned by GET /_matrix/client/r0/joined_rooms.
type JoinedRoomsResponse struct {
	JoinedRooms []string `json:"joined_rooms"`
}

// StateEvent is a single room-state event from
// GET /_matrix/client/r0/rooms/{roomId}/state. The endpoint returns a
// heterogeneous array; Content carries the union of the fields the engine
// reads, keyed by event type.
type StateEvent struct {
	Type     string            `json:"type"`
	StateKey string            `json:"state_key"`
	Content  StateEventContent `json:"content"`
}

// StateEventContent holds the content fields the engine extracts:
// name from m.room.name, topic from m.room.topic, and membership from
// m.room.member events.
type StateEventContent struct {
	Name       string `json:"name,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Membership string `json:"membership,omitempty"`
}

// RoomMembersResponse is returned by the room members endpoint.
type RoomMembersResponse struct {
	Chunk []MemberEvent `json:"chunk"`
}

// MemberEvent is an m.room.member state event from the members endpoint.
// StateKey carries the member's user ID.
type MemberEvent struct {
	StateKey string        `json:"state_key"`
	Content  MemberContent `json:"content"`
}

// MemberContent is the content of an m.room.member event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// State event types the engine cares about.
const (
	EventTypeRoomName   = "m.room.name"
	EventTypeRoomTopic  = "m.room.topic"
	EventTypeRoomMember = "m.room.member"
)
