// Roomledger - Matrix State Synchronization Cache
// Copyright 2026 Roomledger Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/roomledger/roomledger

// Package config loads and validates Roomledger configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority). Configuration is read once at startup; the
// sync engine and resolver receive the resulting value object and never
// consult the process environment themselves.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration object.
type Config struct {
	Matrix   MatrixConfig   `koanf:"matrix"`
	Sync     SyncConfig     `koanf:"sync"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// MatrixConfig holds homeserver connection settings and the well-known
// room IDs that mark rooms as operationally significant. Any room ID may
// be left unset; unset IDs never match and are skipped by the priority
// resolver's fallback chain.
type MatrixConfig struct {
	HomeserverURL string `koanf:"homeserver_url" validate:"required"`
	AccessToken   string `koanf:"access_token" validate:"required"`

	RequestTimeout    time.Duration `koanf:"request_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`

	DefaultRoomID      string `koanf:"default_room_id"`
	WelcomeRoomID      string `koanf:"welcome_room_id"`
	SignalBridgeRoomID string `koanf:"signal_bridge_room_id"`
	IndocRoomID        string `koanf:"indoc_room_id"`
}

// PriorityRoomIDs returns the configured well-known room IDs in their
// documented fallback order: default, welcome, signal-bridge, indoc.
// Unset IDs are omitted.
func (c *MatrixConfig) PriorityRoomIDs() []string {
	ids := make([]string, 0, 4)
	for _, id := range []string{c.DefaultRoomID, c.WelcomeRoomID, c.SignalBridgeRoomID, c.IndocRoomID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsPriorityRoom reports whether roomID is one of the configured
// well-known rooms.
func (c *MatrixConfig) IsPriorityRoom(roomID string) bool {
	if roomID == "" {
		return false
	}
	for _, id := range c.PriorityRoomIDs() {
		if id == roomID {
			return true
		}
	}
	return false
}

// SyncConfig controls the reconciliation engine and its scheduler.
type SyncConfig struct {
	// Enabled starts the periodic scheduler. FullSync remains callable via
	// the API either way.
	Enabled bool `koanf:"enabled"`

	// Interval is the periodic trigger cadence used by the scheduler.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// MinInterval is the cooldown between completed syncs; non-forced
	// triggers inside the window are skipped with reason rate_limited.
	MinInterval time.Duration `koanf:"min_interval" validate:"gte=0"`

	// RoomConcurrency bounds per-room fan-out within a phase.
	RoomConcurrency int `koanf:"room_concurrency" validate:"gte=1"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// validate is shared across Validate calls; validator caches struct info.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and well-formed.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if err := validateHTTPURL(c.Matrix.HomeserverURL, "MATRIX_HOMESERVER_URL"); err != nil {
		return err
	}

	for name, id := range map[string]string{
		"MATRIX_DEFAULT_ROOM_ID":       c.Matrix.DefaultRoomID,
		"MATRIX_WELCOME_ROOM_ID":       c.Matrix.WelcomeRoomID,
		"MATRIX_SIGNAL_BRIDGE_ROOM_ID": c.Matrix.SignalBridgeRoomID,
		"MATRIX_INDOC_ROOM_ID":         c.Matrix.IndocRoomID,
	} {
		if err := validateRoomID(id, name); err != nil {
			return err
		}
	}

	if c.Sync.MinInterval > c.Sync.Interval {
		return fmt.Errorf("SYNC_MIN_INTERVAL (%s) must not exceed SYNC_INTERVAL (%s): the scheduler would never trigger a sync", c.Sync.MinInterval, c.Sync.Interval)
	}

	return nil
}

// validateHTTPURL checks that the value is an absolute http(s) URL.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	return nil
}

// validateRoomID checks that a configured room ID looks like a Matrix room
// ID (!opaque:server.name). Empty values are allowed - the room is simply
// not configured.
func validateRoomID(id, name string) error {
	if id == "" {
		return nil
	}
	if !strings.HasPrefix(id, "!") || !strings.Contains(id, ":") {
		return fmt.Errorf("%s is not a valid Matrix room ID (expected !opaque:server.name): %q", name, id)
	}
	return nil
}
