// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

/*
matrix_client.go - Matrix Client-Server API Client

This file provides the MatrixClient struct and HTTP communication layer for
the three read endpoints the sync engine consumes:

  - GET /_matrix/client/r0/joined_rooms
  - GET /_matrix/client/r0/rooms/{roomId}/state
  - GET /_matrix/client/r0/rooms/{roomId}/members

Resilience Mechanisms:
  - Client-side rate limiting via golang.org/x/time/rate
  - Automatic HTTP 429 handling with exponential backoff and Retry-After
  - Auth failures (401/403) surface as ErrAuthFailed for fast abort
  - Context support for cancellation and timeouts
*/
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/roomledger/roomledger/internal/config"
	"github.com/roomledger/roomledger/internal/metrics"
	"github.com/roomledger/roomledger/internal/models"
)

// ErrAuthFailed indicates the access token was rejected by the homeserver.
// Retrying is pointless until the token is rotated.
var ErrAuthFailed = errors.New("matrix access token rejected")

// maxErrorBodySize limits the response body read for error reporting.
// This prevents unbounded memory allocation on large error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// readBodyForError reads the response body for error reporting (max 64KB).
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// MatrixClientInterface defines the homeserver operations the sync engine
// needs. Implemented by MatrixClient for production use and by mock
// implementations for testing.
//
// Thread Safety: All methods are safe for concurrent use.
type MatrixClientInterface interface {
	// JoinedRooms returns the room IDs the bot account is currently joined to.
	JoinedRooms(ctx context.Context) ([]string, error)

	// RoomState returns the full current state of a room.
	RoomState(ctx context.Context, roomID string) ([]models.StateEvent, error)

	// RoomMembers returns the m.room.member events of a room.
	RoomMembers(ctx context.Context, roomID string) ([]models.MemberEvent, error)
}

// MatrixClient handles communication with the Matrix Client-Server API.
//
// Thread Safety: Safe for concurrent use. Each request creates its own
// HTTP request; the rate limiter serializes admission.
type MatrixClient struct {
	baseURL        string
	accessToken    string
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int           // Maximum retries for HTTP 429
	retryBaseDelay time.Duration // Base delay for exponential backoff
}

// NewMatrixClient creates a Matrix API client from configuration.
func NewMatrixClient(cfg *config.MatrixConfig) *MatrixClient {
	return &MatrixClient{
		baseURL:     cfg.HomeserverURL,
		accessToken: cfg.AccessToken,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxRetries:     5,
		retryBaseDelay: 1 * time.Second, // Doubles each retry: 1s, 2s, 4s, 8s, 16s
	}
}

// JoinedRooms returns the room IDs the bot account is currently joined to.
func (c *MatrixClient) JoinedRooms(ctx context.Context) ([]string, error) {
	var resp models.JoinedRoomsResponse
	if err := c.get(ctx, "joined_rooms", "/_matrix/client/r0/joined_rooms", &resp); err != nil {
		return nil, err
	}
	return resp.JoinedRooms, nil
}

// RoomState returns the full current state of a room as a flat event array.
func (c *MatrixClient) RoomState(ctx context.Context, roomID string) ([]models.StateEvent, error) {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/state", url.PathEscape(roomID))
	var events []models.StateEvent
	if err := c.get(ctx, "room_state", path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// RoomMembers returns the m.room.member events of a room.
func (c *MatrixClient) RoomMembers(ctx context.Context, roomID string) ([]models.MemberEvent, error) {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/members", url.PathEscape(roomID))
	var resp models.RoomMembersResponse
	if err := c.get(ctx, "room_members", path, &resp); err != nil {
		return nil, err
	}
	return resp.Chunk, nil
}

// get performs an authenticated GET against the homeserver and decodes the
// JSON response into result. The endpoint label is used for metrics only.
func (c *MatrixClient) get(ctx context.Context, endpoint, path string, result interface{}) error {
	start := time.Now()
	err := c.doGet(ctx, path, result)
	metrics.RecordMatrixAPIRequest(endpoint, outcomeLabel(err), time.Since(start))
	return err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	default:
		return "error"
	}
}

func (c *MatrixClient) doGet(ctx context.Context, path string, result interface{}) error {
	resp, err := c.doRequestWithRateLimit(ctx, c.baseURL+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s returned status %d: %w", path, resp.StatusCode, ErrAuthFailed)
	default:
		body := readBodyForError(resp.Body)
		return fmt.Errorf("%s request failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// doRequestWithRateLimit performs an HTTP request with client-side rate
// limiting and automatic HTTP 429 handling. Implements exponential backoff
// (1s, 2s, 4s, 8s, 16s), honoring the Retry-After header when present.
// The context is used for cancellation during backoff waits.
func (c *MatrixClient) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited (HTTP 429) - close body and retry with backoff
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))

		// Retry-After (RFC 6585) overrides the computed backoff
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
