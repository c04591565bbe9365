// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

// Package main is the entry point for the Roomledger server.
//
// Roomledger maintains a local relational cache of Matrix homeserver
// state: the users the service account shares rooms with, the rooms it
// has joined, and the membership of each room. A reconciliation engine
// pulls state through the Matrix Client-Server API and upserts it into
// DuckDB, so downstream consumers can query rooms and users without
// touching the homeserver.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, environment (Koanf v2)
//  2. Database: DuckDB file with schema bootstrap
//  3. Matrix client: rate-limited HTTP client behind a circuit breaker
//  4. Sync engine: single-flight full reconciliation with cooldown
//  5. Supervisor tree: scheduler and HTTP server under suture
//
// # Configuration
//
// Highest priority wins:
//   - Environment variables (MATRIX_HOMESERVER_URL, MATRIX_ACCESS_TOKEN, ...)
//   - Config file (config.yaml, path via ROOMLEDGER_CONFIG)
//   - Built-in defaults
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the scheduler stops, the
// HTTP server drains in-flight requests, and the database is closed.
//
// # Example Usage
//
//	export MATRIX_HOMESERVER_URL=https://matrix.example.org
//	export MATRIX_ACCESS_TOKEN=syt_...
//	export MATRIX_DEFAULT_ROOM_ID='!abc123:example.org'
//	./roomledger
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomledger/roomledger/internal/api"
	"github.com/roomledger/roomledger/internal/config"
	"github.com/roomledger/roomledger/internal/database"
	"github.com/roomledger/roomledger/internal/logging"
	"github.com/roomledger/roomledger/internal/scheduler"
	"github.com/roomledger/roomledger/internal/supervisor"
	"github.com/roomledger/roomledger/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors are reported with the default logger since the
		// configured one is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("homeserver", cfg.Matrix.HomeserverURL).
		Str("db_path", cfg.Database.Path).
		Bool("sync_enabled", cfg.Sync.Enabled).
		Msg("Starting Roomledger")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	client := sync.NewCircuitBreakerClient(&cfg.Matrix)
	engine := sync.NewEngine(db, client, cfg)

	handler := api.NewHandler(engine, db)
	router := api.NewRouter(handler, &cfg.Server)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPServerService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))

	if cfg.Sync.Enabled {
		tree.AddSyncService(scheduler.New(engine, cfg.Sync.Interval))
	} else {
		logging.Info().Msg("Periodic sync disabled; syncs run only via the API")
	}

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within shutdown timeout")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
