// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package store persists per-user proximity settings in BadgerDB. The
// debouncers never touch it directly; they receive its Apply methods as
// persistence callbacks.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/settings"
)

const settingsKeyPrefix = "proximity_settings:"

// ErrNotFound is returned when a user has no stored settings row.
var ErrNotFound = errors.New("store: settings not found")

// settingsRow is the on-disk shape. Durations are stored as millisecond
// integers so rows stay readable in debugging dumps.
type settingsRow struct {
	UserID                string  `json:"user_id"`
	Enabled               bool    `json:"enabled"`
	NotificationDistanceM float64 `json:"notification_distance_m"`
	OuterDistanceM        float64 `json:"outer_distance_m"`
	CardDistanceM         float64 `json:"card_distance_m"`
	GraceEnabled          bool    `json:"grace_enabled"`
	InitializationGraceMS int64   `json:"initialization_grace_ms"`
	MovementGraceMS       int64   `json:"movement_grace_ms"`
	AppResumeGraceMS      int64   `json:"app_resume_grace_ms"`
	MovementThresholdM    float64 `json:"movement_threshold_m"`
	LocationSettlingMS    int64   `json:"location_settling_grace_ms"`
	UpdatedAt             int64   `json:"updated_at_unix_ms"`
}

func rowFromSettings(s settings.Settings) settingsRow {
	return settingsRow{
		UserID:                s.UserID,
		Enabled:               s.Enabled,
		NotificationDistanceM: s.NotificationDistance,
		OuterDistanceM:        s.OuterDistance,
		CardDistanceM:         s.CardDistance,
		GraceEnabled:          s.GraceEnabled,
		InitializationGraceMS: s.InitializationGrace.Milliseconds(),
		MovementGraceMS:       s.MovementGrace.Milliseconds(),
		AppResumeGraceMS:      s.AppResumeGrace.Milliseconds(),
		MovementThresholdM:    s.MovementThreshold,
		LocationSettlingMS:    s.LocationSettlingGrace.Milliseconds(),
		UpdatedAt:             time.Now().UnixMilli(),
	}
}

func (r settingsRow) toSettings() settings.Settings {
	return settings.Settings{
		UserID:                r.UserID,
		Enabled:               r.Enabled,
		NotificationDistance:  r.NotificationDistanceM,
		OuterDistance:         r.OuterDistanceM,
		CardDistance:          r.CardDistanceM,
		GraceEnabled:          r.GraceEnabled,
		InitializationGrace:   time.Duration(r.InitializationGraceMS) * time.Millisecond,
		MovementGrace:         time.Duration(r.MovementGraceMS) * time.Millisecond,
		AppResumeGrace:        time.Duration(r.AppResumeGraceMS) * time.Millisecond,
		MovementThreshold:     r.MovementThresholdM,
		LocationSettlingGrace: time.Duration(r.LocationSettlingMS) * time.Millisecond,
	}
}

// SettingsStore is the BadgerDB-backed settings row store. One row per
// user, read-modify-write under a single mutex so partial field updates
// from concurrent flushes never interleave.
type SettingsStore struct {
	mu  sync.Mutex
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory instance for tests and ephemeral deployments.
func Open(path string, log zerolog.Logger) (*SettingsStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	return &SettingsStore{db: db, log: log}, nil
}

// NewWithDB wraps an already-open BadgerDB handle. The caller keeps
// ownership of the handle's lifecycle.
func NewWithDB(db *badger.DB, log zerolog.Logger) *SettingsStore {
	return &SettingsStore{db: db, log: log}
}

func key(userID string) []byte {
	return []byte(settingsKeyPrefix + userID)
}

// Load returns the stored settings for one user, or ErrNotFound.
func (s *SettingsStore) Load(ctx context.Context, userID string) (settings.Settings, error) {
	if err := ctx.Err(); err != nil {
		return settings.Settings{}, err
	}

	var row settingsRow
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get settings: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
	})
	if err != nil {
		return settings.Settings{}, err
	}
	return row.toSettings(), nil
}

// Save writes a full settings row, replacing any existing one.
func (s *SettingsStore) Save(ctx context.Context, in settings.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(in)
}

func (s *SettingsStore) writeLocked(in settings.Settings) error {
	data, err := json.Marshal(rowFromSettings(in))
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(in.UserID), data)
	})
}

// ApplyFields performs a read-modify-write partial update: missing rows
// start from the balanced preset. This is the persistence callback handed
// to the update debouncer.
func (s *SettingsStore) ApplyFields(ctx context.Context, userID string, updates settings.FieldUpdates) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		current = settings.PresetSettings(settings.PresetBalanced)
		current.UserID = userID
	} else if err != nil {
		return err
	}

	if err := settings.ApplyUpdates(&current, updates); err != nil {
		return err
	}
	if err := s.writeLocked(current); err != nil {
		return err
	}

	s.log.Debug().Str("user_id", userID).Int("fields", len(updates)).
		Msg("settings fields persisted")
	return nil
}

// SetEnabled flips the enablement flag for one user. This is the
// persistence callback handed to the enabled debouncer.
func (s *SettingsStore) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	return s.ApplyFields(ctx, userID, settings.FieldUpdates{settings.FieldEnabled: enabled})
}

// Delete removes a user's settings row. Missing rows are not an error.
func (s *SettingsStore) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(userID))
	})
}

// Close releases the underlying database.
func (s *SettingsStore) Close() error {
	return s.db.Close()
}
