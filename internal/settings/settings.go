// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package settings defines the per-user proximity alert configuration,
// the named presets, range/logic validation with auto-correction, and the
// recovery controller that turns invalid configurations into valid ones.
//
// Settings are never written directly by callers; all mutation flows
// through the debouncers in internal/debounce, which apply partial updates
// via the typed field table in this package.
package settings

import (
	"fmt"
	"time"
)

// Settings is the per-user proximity alert configuration row.
//
// Durations are grace periods: deliberate delays before trusting a new
// location or state reading, so GPS settling and app resume do not produce
// false proximity triggers. A zero duration means the field is unset.
type Settings struct {
	UserID  string
	Enabled bool

	// Alert distances in meters. Each must be positive.
	NotificationDistance float64
	OuterDistance        float64
	CardDistance         float64

	// GraceEnabled is the master switch for grace period handling.
	// When false, no range or cross-field validation applies.
	GraceEnabled bool

	InitializationGrace   time.Duration
	MovementGrace         time.Duration
	AppResumeGrace        time.Duration
	MovementThreshold     float64 // meters
	LocationSettlingGrace time.Duration // optional; 0 = unset
}

// Field identifies a single updatable settings field.
type Field string

// Updatable settings fields.
const (
	FieldEnabled              Field = "enabled"
	FieldGraceEnabled         Field = "graceEnabled"
	FieldNotificationDistance Field = "notificationDistance"
	FieldOuterDistance        Field = "outerDistance"
	FieldCardDistance         Field = "cardDistance"
	FieldInitialization       Field = "initializationGracePeriod"
	FieldMovement             Field = "movementGracePeriod"
	FieldAppResume            Field = "appResumeGracePeriod"
	FieldMovementThreshold    Field = "movementThreshold"
	FieldLocationSettling     Field = "locationSettlingGracePeriod"
)

// FieldUpdates is a partial settings update: one pending value per field,
// last write wins.
type FieldUpdates map[Field]any

// ErrUnknownField is returned when a field name is not in the setter table.
var ErrUnknownField = fmt.Errorf("settings: unknown field")

// setter applies one coerced value to a settings struct.
type setter func(s *Settings, v any) error

// setters is the typed field table. It replaces stringly-typed field
// assignment: every updatable field has exactly one entry here.
var setters = map[Field]setter{
	FieldEnabled: func(s *Settings, v any) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		s.Enabled = b
		return nil
	},
	FieldGraceEnabled: func(s *Settings, v any) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		s.GraceEnabled = b
		return nil
	},
	FieldNotificationDistance: func(s *Settings, v any) error {
		m, err := toMeters(v)
		if err != nil {
			return err
		}
		s.NotificationDistance = m
		return nil
	},
	FieldOuterDistance: func(s *Settings, v any) error {
		m, err := toMeters(v)
		if err != nil {
			return err
		}
		s.OuterDistance = m
		return nil
	},
	FieldCardDistance: func(s *Settings, v any) error {
		m, err := toMeters(v)
		if err != nil {
			return err
		}
		s.CardDistance = m
		return nil
	},
	FieldInitialization: func(s *Settings, v any) error {
		d, err := toDuration(v)
		if err != nil {
			return err
		}
		s.InitializationGrace = d
		return nil
	},
	FieldMovement: func(s *Settings, v any) error {
		d, err := toDuration(v)
		if err != nil {
			return err
		}
		s.MovementGrace = d
		return nil
	},
	FieldAppResume: func(s *Settings, v any) error {
		d, err := toDuration(v)
		if err != nil {
			return err
		}
		s.AppResumeGrace = d
		return nil
	},
	FieldMovementThreshold: func(s *Settings, v any) error {
		m, err := toMeters(v)
		if err != nil {
			return err
		}
		s.MovementThreshold = m
		return nil
	},
	FieldLocationSettling: func(s *Settings, v any) error {
		d, err := toDuration(v)
		if err != nil {
			return err
		}
		s.LocationSettlingGrace = d
		return nil
	},
}

// KnownField reports whether f is an updatable settings field.
func KnownField(f Field) bool {
	_, ok := setters[f]
	return ok
}

// ApplyField sets a single field on s, coercing v to the field's type.
// Durations accept time.Duration or a numeric millisecond count (the shape
// the settings UI and the store row both produce).
func ApplyField(s *Settings, f Field, v any) error {
	set, ok := setters[f]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	return set(s, v)
}

// ApplyUpdates applies a partial update to s. The first unknown field or
// uncoercible value aborts with an error; s may be partially modified.
func ApplyUpdates(s *Settings, updates FieldUpdates) error {
	for f, v := range updates {
		if err := ApplyField(s, f, v); err != nil {
			return err
		}
	}
	return nil
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("settings: expected bool, got %T", v)
	}
	return b, nil
}

func toMeters(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("settings: expected meters as number, got %T", v)
	}
}

func toDuration(v any) (time.Duration, error) {
	switch n := v.(type) {
	case time.Duration:
		return n, nil
	case int:
		return time.Duration(n) * time.Millisecond, nil
	case int64:
		return time.Duration(n) * time.Millisecond, nil
	case float64:
		return time.Duration(n * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("settings: expected duration or milliseconds, got %T", v)
	}
}
