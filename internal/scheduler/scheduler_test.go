// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	syncengine "github.com/roomledger/roomledger/internal/sync"
)

type mockEngine struct {
	calls  atomic.Int32
	result syncengine.SyncResult
}

func (e *mockEngine) FullSync(ctx context.Context, force bool) syncengine.SyncResult {
	e.calls.Add(1)
	return e.result
}

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{result: syncengine.SyncResult{Status: syncengine.StatusSuccess}}
	s := New(engine, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	err := s.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve returned %v, want context deadline", err)
	}

	// One immediate run plus several ticks; allow generous slack for CI.
	if calls := engine.calls.Load(); calls < 2 {
		t.Errorf("FullSync called %d times, want at least 2", calls)
	}
}

func TestSchedulerNeverForces(t *testing.T) {
	t.Parallel()

	var forced atomic.Bool
	engine := &forceRecordingEngine{forced: &forced}
	s := New(engine, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	_ = s.Serve(ctx)

	if forced.Load() {
		t.Error("scheduler issued a forced sync")
	}
}

type forceRecordingEngine struct {
	forced *atomic.Bool
}

func (e *forceRecordingEngine) FullSync(ctx context.Context, force bool) syncengine.SyncResult {
	if force {
		e.forced.Store(true)
	}
	return syncengine.SyncResult{Status: syncengine.StatusSkipped, Reason: syncengine.ReasonRateLimited}
}

func TestSchedulerString(t *testing.T) {
	t.Parallel()

	if got := New(&mockEngine{}, time.Minute).String(); got != "sync-scheduler" {
		t.Errorf("String() = %q", got)
	}
}
