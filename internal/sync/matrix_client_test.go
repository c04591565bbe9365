// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roomledger/roomledger/internal/config"
)

func newTestMatrixClient(serverURL string) *MatrixClient {
	c := NewMatrixClient(&config.MatrixConfig{
		HomeserverURL:     serverURL,
		AccessToken:       "syt_test_token",
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
	})
	c.retryBaseDelay = 10 * time.Millisecond // Keep backoff tests fast
	return c
}

func TestJoinedRooms(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/r0/joined_rooms" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer syt_test_token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"joined_rooms": ["!room1:matrix.org", "!room2:matrix.org"]}`))
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	rooms, err := client.JoinedRooms(context.Background())
	if err != nil {
		t.Fatalf("JoinedRooms failed: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "!room1:matrix.org" {
		t.Errorf("rooms = %v", rooms)
	}
}

func TestRoomState(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/r0/rooms/!room1:matrix.org/state" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type": "m.room.name", "state_key": "", "content": {"name": "Test Room"}},
			{"type": "m.room.topic", "state_key": "", "content": {"topic": "This is a test room"}},
			{"type": "m.room.member", "state_key": "@user1:matrix.org", "content": {"membership": "join"}}
		]`))
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	state, err := client.RoomState(context.Background(), "!room1:matrix.org")
	if err != nil {
		t.Fatalf("RoomState failed: %v", err)
	}
	if len(state) != 3 {
		t.Fatalf("len(state) = %d, want 3", len(state))
	}
	if state[0].Content.Name != "Test Room" {
		t.Errorf("name = %q", state[0].Content.Name)
	}
	if state[2].StateKey != "@user1:matrix.org" || state[2].Content.Membership != "join" {
		t.Errorf("member event = %+v", state[2])
	}
}

func TestRoomMembers(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/r0/rooms/!room1:matrix.org/members" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chunk": [
			{"state_key": "@user1:matrix.org", "content": {"membership": "join", "displayname": "User One", "avatar_url": "mxc://matrix.org/avatar1"}}
		]}`))
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	members, err := client.RoomMembers(context.Background(), "!room1:matrix.org")
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("len(members) = %d, want 1", len(members))
	}
	m := members[0]
	if m.StateKey != "@user1:matrix.org" || m.Content.DisplayName != "User One" || m.Content.AvatarURL != "mxc://matrix.org/avatar1" {
		t.Errorf("member = %+v", m)
	}
}

func TestRateLimitRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"joined_rooms": []}`))
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	if _, err := client.JoinedRooms(context.Background()); err != nil {
		t.Fatalf("JoinedRooms failed after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3 (two 429s then success)", got)
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	client.maxRetries = 1

	if _, err := client.JoinedRooms(context.Background()); err == nil {
		t.Error("expected error after exhausting 429 retries")
	}
}

func TestAuthFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errcode": "M_UNKNOWN_TOKEN"}`))
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	_, err := client.JoinedRooms(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
}

func TestServerErrorIncludesBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errcode": "M_UNKNOWN"}`))
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)
	_, err := client.JoinedRooms(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, ErrAuthFailed) {
		t.Error("500 must not map to ErrAuthFailed")
	}
}

func TestContextCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestMatrixClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.JoinedRooms(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, backoff wait not interruptible", elapsed)
	}
}
