// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/settings"
)

func newTestStore(t *testing.T) *SettingsStore {
	t.Helper()
	s, err := Open("", zerolog.Nop())
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := settings.PresetSettings(settings.PresetConservative)
	in.UserID = "u1"
	in.Enabled = true

	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

func TestLoadMissingUser(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyFieldsPartialUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := settings.PresetSettings(settings.PresetBalanced)
	in.UserID = "u1"
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	err := s.ApplyFields(ctx, "u1", settings.FieldUpdates{
		settings.FieldMovement:          7 * time.Second,
		settings.FieldMovementThreshold: 250.0,
	})
	if err != nil {
		t.Fatalf("apply fields: %v", err)
	}

	got, err := s.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.MovementGrace != 7*time.Second {
		t.Errorf("movement grace = %v, want 7s", got.MovementGrace)
	}
	if got.MovementThreshold != 250 {
		t.Errorf("movement threshold = %v, want 250", got.MovementThreshold)
	}
	// Untouched fields survive.
	if got.InitializationGrace != in.InitializationGrace {
		t.Errorf("initialization grace changed: %v", got.InitializationGrace)
	}
}

func TestApplyFieldsCreatesRowFromBalanced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.ApplyFields(ctx, "fresh", settings.FieldUpdates{
		settings.FieldEnabled: true,
	})
	if err != nil {
		t.Fatalf("apply fields: %v", err)
	}

	got, err := s.Load(ctx, "fresh")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Enabled {
		t.Error("enabled flag not applied")
	}
	balanced := settings.PresetSettings(settings.PresetBalanced)
	if got.InitializationGrace != balanced.InitializationGrace {
		t.Errorf("missing row not seeded from balanced preset: %v", got.InitializationGrace)
	}
	if got.UserID != "fresh" {
		t.Errorf("user id = %q", got.UserID)
	}
}

func TestApplyFieldsRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)

	err := s.ApplyFields(context.Background(), "u1", settings.FieldUpdates{
		settings.Field("bogus"): 1,
	})
	if !errors.Is(err, settings.ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestSetEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetEnabled(ctx, "u1", true); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	got, err := s.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Enabled {
		t.Error("enabled flag not persisted")
	}

	if err := s.SetEnabled(ctx, "u1", false); err != nil {
		t.Fatalf("set enabled false: %v", err)
	}
	got, _ = s.Load(ctx, "u1")
	if got.Enabled {
		t.Error("enabled flag not cleared")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := settings.PresetSettings(settings.PresetBalanced)
	in.UserID = "u1"
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Load(ctx, "u1"); !errors.Is(err, context.Canceled) {
		t.Errorf("load err = %v, want context.Canceled", err)
	}
	if err := s.SetEnabled(ctx, "u1", true); !errors.Is(err, context.Canceled) {
		t.Errorf("set enabled err = %v, want context.Canceled", err)
	}
}
