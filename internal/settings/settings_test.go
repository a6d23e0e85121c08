// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package settings

import (
	"errors"
	"testing"
	"time"
)

func TestApplyFieldCoercion(t *testing.T) {
	var s Settings

	// Durations arrive as time.Duration from Go callers and as numeric
	// milliseconds from the store row and the settings UI.
	if err := ApplyField(&s, FieldMovement, 5*time.Second); err != nil {
		t.Fatalf("duration value: %v", err)
	}
	if s.MovementGrace != 5*time.Second {
		t.Errorf("movement = %v, want 5s", s.MovementGrace)
	}

	if err := ApplyField(&s, FieldMovement, int64(7000)); err != nil {
		t.Fatalf("int64 millisecond value: %v", err)
	}
	if s.MovementGrace != 7*time.Second {
		t.Errorf("movement = %v, want 7s", s.MovementGrace)
	}

	if err := ApplyField(&s, FieldInitialization, float64(15000)); err != nil {
		t.Fatalf("float64 millisecond value: %v", err)
	}
	if s.InitializationGrace != 15*time.Second {
		t.Errorf("initialization = %v, want 15s", s.InitializationGrace)
	}

	if err := ApplyField(&s, FieldEnabled, true); err != nil {
		t.Fatalf("bool value: %v", err)
	}
	if !s.Enabled {
		t.Error("enabled not applied")
	}

	if err := ApplyField(&s, FieldMovementThreshold, 150.0); err != nil {
		t.Fatalf("meters value: %v", err)
	}
	if s.MovementThreshold != 150 {
		t.Errorf("threshold = %v, want 150", s.MovementThreshold)
	}
}

func TestApplyFieldUnknown(t *testing.T) {
	var s Settings
	err := ApplyField(&s, Field("bogus"), 1)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestApplyFieldTypeMismatch(t *testing.T) {
	var s Settings
	if err := ApplyField(&s, FieldEnabled, "yes"); err == nil {
		t.Error("string accepted for bool field")
	}
	if err := ApplyField(&s, FieldMovement, "fast"); err == nil {
		t.Error("string accepted for duration field")
	}
}

func TestApplyUpdates(t *testing.T) {
	s := PresetSettings(PresetBalanced)
	err := ApplyUpdates(&s, FieldUpdates{
		FieldMovement:          8 * time.Second,
		FieldGraceEnabled:      true,
		FieldMovementThreshold: 250.0,
	})
	if err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}
	if s.MovementGrace != 8*time.Second || s.MovementThreshold != 250 {
		t.Errorf("updates not applied: %+v", s)
	}
}

func TestKnownField(t *testing.T) {
	if !KnownField(FieldAppResume) {
		t.Error("appResume should be known")
	}
	if KnownField(Field("nope")) {
		t.Error("unknown field reported as known")
	}
}
