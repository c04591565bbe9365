// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

// Package api provides the HTTP surface over the sync engine and the
// read-only cache directory.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/roomledger/roomledger/internal/logging"
	"github.com/roomledger/roomledger/internal/models"
	syncengine "github.com/roomledger/roomledger/internal/sync"
)

// SyncEngine is the engine surface the handlers need.
type SyncEngine interface {
	FullSync(ctx context.Context, force bool) syncengine.SyncResult
	UsersFromPriorityRooms(ctx context.Context) ([]models.PriorityRoomUser, error)
	LastCompletedAt() time.Time
	Syncing() bool
}

// Directory is the read-only cache surface the handlers need.
type Directory interface {
	Ping(ctx context.Context) error
	ListMatrixUsers(ctx context.Context) ([]models.MatrixUser, error)
	ListMatrixRooms(ctx context.Context) ([]models.MatrixRoom, error)
}

// Handler serves the API routes.
type Handler struct {
	engine SyncEngine
	dir    Directory
}

// NewHandler creates a Handler.
func NewHandler(engine SyncEngine, dir Directory) *Handler {
	return &Handler{engine: engine, dir: dir}
}

// writeJSON encodes v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// errorResponse is the shape of all error payloads.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// TriggerSync runs a full sync and returns the result verbatim. The sync
// result is total: skipped and partial outcomes are ordinary responses,
// not HTTP errors, so callers can render status and error as-is.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	result := h.engine.FullSync(r.Context(), force)
	writeJSON(w, http.StatusOK, result)
}

// syncStatusResponse reports engine state without running anything.
type syncStatusResponse struct {
	Syncing         bool       `json:"syncing"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// SyncStatus reports whether a sync is running and when the last one
// completed.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{Syncing: h.engine.Syncing()}
	if last := h.engine.LastCompletedAt(); !last.IsZero() {
		resp.LastCompletedAt = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// Users returns the cached user directory.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.dir.ListMatrixUsers(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list users")
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Rooms returns the cached room directory.
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.ListMatrixRooms(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list rooms")
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// PriorityRoomUsers returns the joined members of the resolved priority
// room, for onboarding flows.
func (h *Handler) PriorityRoomUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.UsersFromPriorityRooms(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to query priority room users")
		writeError(w, http.StatusInternalServerError, "failed to query priority room users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HealthLive always reports ok while the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports ok only when the database is reachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
