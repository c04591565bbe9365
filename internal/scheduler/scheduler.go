// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

// Package scheduler triggers periodic sync runs. The engine itself is
// purely reactive; all timing lives here so reconciliation logic stays
// testable without timers.
package scheduler

import (
	"context"
	"time"

	"github.com/roomledger/roomledger/internal/logging"
	syncengine "github.com/roomledger/roomledger/internal/sync"
)

// Engine is the slice of the sync engine the scheduler needs.
type Engine interface {
	FullSync(ctx context.Context, force bool) syncengine.SyncResult
}

// Scheduler calls FullSync on a fixed interval. Implements suture.Service.
type Scheduler struct {
	engine   Engine
	interval time.Duration
}

// New creates a scheduler.
func New(engine Engine, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, interval: interval}
}

// Serve runs an initial sync and then ticks until the context is
// canceled. Triggers are never forced; the engine's cooldown and
// single-flight guard decide whether each tick does work.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Sync scheduler started")

	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-ctx.Done():
			logging.Info().Msg("Sync scheduler stopping")
			return ctx.Err()
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	result := s.engine.FullSync(ctx, false)
	if result.Status == syncengine.StatusSkipped {
		// Common and expected: another trigger won, or we are inside the
		// cooldown window.
		logging.Debug().Str("reason", string(result.Reason)).Msg("Scheduled sync skipped")
		return
	}
	if result.Error != "" {
		logging.Warn().Str("status", string(result.Status)).Str("error", result.Error).Msg("Scheduled sync completed with errors")
	}
}

// String implements fmt.Stringer for suture log messages.
func (s *Scheduler) String() string {
	return "sync-scheduler"
}
