// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

// Package sync implements the reconciliation engine that pulls user, room,
// and membership state from a Matrix homeserver into the local cache.
package sync

import (
	"context"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roomledger/roomledger/internal/config"
	"github.com/roomledger/roomledger/internal/logging"
	"github.com/roomledger/roomledger/internal/metrics"
	"github.com/roomledger/roomledger/internal/models"
)

// SyncStatus is the overall outcome of a sync run.
type SyncStatus string

const (
	// StatusSuccess means every phase completed without errors.
	StatusSuccess SyncStatus = "success"
	// StatusPartialSuccess means at least one phase reported errors but the
	// run completed; successfully synced entities were still persisted.
	StatusPartialSuccess SyncStatus = "partial_success"
	// StatusSkipped means the run never started.
	StatusSkipped SyncStatus = "skipped"
	// StatusFailed means the run aborted before any phase could do work.
	StatusFailed SyncStatus = "failed"
)

// SkipReason explains why a sync trigger was skipped.
type SkipReason string

const (
	// ReasonSyncInProgress means another sync holds the single-flight guard.
	ReasonSyncInProgress SkipReason = "sync_in_progress"
	// ReasonRateLimited means the run fell inside the cooldown window.
	ReasonRateLimited SkipReason = "rate_limited"
)

// Phase names in execution order.
const (
	PhaseUsers       = "users"
	PhaseRooms       = "rooms"
	PhaseMemberships = "memberships"
)

// PhaseResult reports the outcome of one sync phase.
type PhaseResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SyncResult is returned by every FullSync call, including skipped ones.
// RunID identifies one executed run across log lines and API responses;
// skipped runs have none.
type SyncResult struct {
	RunID    string                 `json:"run_id,omitempty"`
	Status   SyncStatus             `json:"status"`
	Reason   SkipReason             `json:"reason,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Phases   map[string]PhaseResult `json:"phases,omitempty"`
	Duration time.Duration          `json:"duration_ns,omitempty"`
}

// Store is the persistence surface the engine writes to. Implemented by
// database.DB in production and by mocks in tests.
type Store interface {
	Ping(ctx context.Context) error
	UpsertMatrixUser(ctx context.Context, user *models.MatrixUser) error
	UpsertMatrixRoom(ctx context.Context, room *models.MatrixRoom) error
	UpsertMatrixRoomMembership(ctx context.Context, m *models.MatrixRoomMembership) error
	DeleteMembershipsExcept(ctx context.Context, roomID string, keep []string) (int64, error)
	ListMatrixRooms(ctx context.Context) ([]models.MatrixRoom, error)
	ListPriorityRoomIDs(ctx context.Context) ([]string, error)
	PriorityRoomUsers(ctx context.Context, roomID string) ([]models.PriorityRoomUser, error)
}

// Engine reconciles homeserver state into the cache. A single Engine is
// shared by the scheduler and the API; the single-flight guard ensures at
// most one sync runs at a time process-wide.
type Engine struct {
	store  Store
	client MatrixClientInterface
	cfg    *config.Config

	syncing atomic.Bool

	mu            stdsync.Mutex
	lastCompleted time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(store Store, client MatrixClientInterface, cfg *config.Config) *Engine {
	return &Engine{
		store:  store,
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Syncing reports whether a sync run currently holds the guard.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// LastCompletedAt returns when the last success or partial_success run
// finished. Zero if no run has completed yet.
func (e *Engine) LastCompletedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCompleted
}

// FullSync runs the three reconciliation phases: users, rooms, memberships.
//
// Triggers inside the cooldown window are skipped with reason rate_limited
// unless force is set. The cooldown is checked before the single-flight
// guard so a rate-limited caller never blocks a concurrent legitimate run.
// Force bypasses the cooldown but never the guard; two syncs must not run
// concurrently regardless of how they were triggered.
//
// Phases run sequentially because later phases read what earlier phases
// wrote. A phase failure does not stop subsequent phases; the run completes
// with status partial_success and the per-phase errors aggregated.
func (e *Engine) FullSync(ctx context.Context, force bool) SyncResult {
	if !force {
		e.mu.Lock()
		sinceLast := e.now().Sub(e.lastCompleted)
		inCooldown := !e.lastCompleted.IsZero() && sinceLast < e.cfg.Sync.MinInterval
		e.mu.Unlock()

		if inCooldown {
			logging.Debug().Dur("since_last", sinceLast).Msg("Sync skipped: inside cooldown window")
			metrics.RecordSyncSkip(string(ReasonRateLimited))
			return SyncResult{Status: StatusSkipped, Reason: ReasonRateLimited}
		}
	}

	if !e.syncing.CompareAndSwap(false, true) {
		logging.Debug().Msg("Sync skipped: another sync in progress")
		metrics.RecordSyncSkip(string(ReasonSyncInProgress))
		return SyncResult{Status: StatusSkipped, Reason: ReasonSyncInProgress}
	}
	defer e.syncing.Store(false)

	start := e.now()
	runID := uuid.New().String()
	logging.Info().Str("run_id", runID).Bool("force", force).Msg("Starting full sync")

	if err := e.store.Ping(ctx); err != nil {
		logging.Error().Str("run_id", runID).Err(err).Msg("Sync aborted: database unreachable")
		result := SyncResult{
			RunID:    runID,
			Status:   StatusFailed,
			Error:    "database unreachable: " + err.Error(),
			Duration: e.now().Sub(start),
		}
		metrics.RecordSyncRun(string(StatusFailed), result.Duration)
		return result
	}

	phases := map[string]PhaseResult{}
	var failures []string

	runPhase := func(name string, fn func(context.Context) error) {
		err := fn(ctx)
		if err != nil {
			logging.Error().Str("run_id", runID).Err(err).Str("phase", name).Msg("Sync phase failed")
			metrics.SyncPhaseErrors.WithLabelValues(name).Inc()
			phases[name] = PhaseResult{OK: false, Error: err.Error()}
			failures = append(failures, err.Error())
			return
		}
		phases[name] = PhaseResult{OK: true}
	}

	runPhase(PhaseUsers, e.syncUsers)
	runPhase(PhaseRooms, e.syncRooms)
	runPhase(PhaseMemberships, e.syncMemberships)

	result := SyncResult{
		RunID:    runID,
		Phases:   phases,
		Duration: e.now().Sub(start),
	}
	if len(failures) == 0 {
		result.Status = StatusSuccess
	} else {
		result.Status = StatusPartialSuccess
		result.Error = strings.Join(failures, "; ")
	}

	// Both outcomes advance the cooldown window: a partial run still did
	// real work against the homeserver and should not be retried
	// immediately.
	e.mu.Lock()
	e.lastCompleted = e.now()
	e.mu.Unlock()

	metrics.RecordSyncRun(string(result.Status), result.Duration)
	metrics.RecordSyncSuccess()

	logging.Info().
		Str("run_id", runID).
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Msg("Full sync finished")

	return result
}
