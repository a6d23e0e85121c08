// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Grace period bounds. Closed intervals: a value equal to a bound is valid.
const (
	MinInitializationGrace = 5 * time.Second
	MaxInitializationGrace = 60 * time.Second

	MinMovementGrace = 3 * time.Second
	MaxMovementGrace = 30 * time.Second

	MinAppResumeGrace = 1 * time.Second
	MaxAppResumeGrace = 15 * time.Second

	MinMovementThreshold = 50.0  // meters
	MaxMovementThreshold = 500.0 // meters

	MinLocationSettlingGrace = 1 * time.Second
	MaxLocationSettlingGrace = 15 * time.Second
)

// appResumeInitRatio is the share of the initialization grace period the
// app-resume grace period may use before a warning is raised.
const appResumeInitRatio = 0.8

// FieldIssue describes one validation finding for a single field.
type FieldIssue struct {
	Field            Field
	Message          string
	CurrentValue     any
	RecommendedValue any
}

// Result splits validation findings into blocking errors and advisory
// warnings. Warnings never affect validity.
type Result struct {
	Errors   []FieldIssue
	Warnings []FieldIssue
}

// IsValid reports whether the settings passed validation.
func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// rangeCheck mirrors the grace period fields as milliseconds so the range
// rules live in validator tags. Bounds here must match the constants above.
type rangeCheck struct {
	Initialization    int64   `validate:"min=5000,max=60000"`
	Movement          int64   `validate:"min=3000,max=30000"`
	AppResume         int64   `validate:"min=1000,max=15000"`
	MovementThreshold float64 `validate:"min=50,max=500"`
	LocationSettling  int64   `validate:"omitempty,min=1000,max=15000"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func rangeValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// rangeBound maps a rangeCheck struct field to its issue metadata.
var rangeBounds = map[string]struct {
	field       Field
	min, max    string
	recommended func() any
}{
	"Initialization": {
		field: FieldInitialization, min: "5s", max: "60s",
		recommended: func() any { return PresetSettings(PresetBalanced).InitializationGrace },
	},
	"Movement": {
		field: FieldMovement, min: "3s", max: "30s",
		recommended: func() any { return PresetSettings(PresetBalanced).MovementGrace },
	},
	"AppResume": {
		field: FieldAppResume, min: "1s", max: "15s",
		recommended: func() any { return PresetSettings(PresetBalanced).AppResumeGrace },
	},
	"MovementThreshold": {
		field: FieldMovementThreshold, min: "50m", max: "500m",
		recommended: func() any { return PresetSettings(PresetBalanced).MovementThreshold },
	},
	"LocationSettling": {
		field: FieldLocationSettling, min: "1s", max: "15s",
		recommended: func() any { return PresetSettings(PresetBalanced).LocationSettlingGrace },
	},
}

// ValidateRanges checks grace period ranges and cross-field consistency.
// When GraceEnabled is false no rules apply and the result is valid.
func ValidateRanges(s Settings) Result {
	var res Result
	if !s.GraceEnabled {
		return res
	}

	check := rangeCheck{
		Initialization:    s.InitializationGrace.Milliseconds(),
		Movement:          s.MovementGrace.Milliseconds(),
		AppResume:         s.AppResumeGrace.Milliseconds(),
		MovementThreshold: s.MovementThreshold,
		LocationSettling:  s.LocationSettlingGrace.Milliseconds(),
	}

	if err := rangeValidator().Struct(check); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, ve := range verrs {
				res.Errors = append(res.Errors, rangeIssue(ve.StructField(), fieldValue(s, ve.StructField())))
			}
		}
	}

	res = appendCrossFieldIssues(s, res)
	res = appendHeuristicWarnings(s, res)
	return res
}

func rangeIssue(structField string, current any) FieldIssue {
	b := rangeBounds[structField]
	return FieldIssue{
		Field:            b.field,
		Message:          fmt.Sprintf("%s must be between %s and %s, got %v", b.field, b.min, b.max, current),
		CurrentValue:     current,
		RecommendedValue: b.recommended(),
	}
}

func fieldValue(s Settings, structField string) any {
	switch structField {
	case "Initialization":
		return s.InitializationGrace
	case "Movement":
		return s.MovementGrace
	case "AppResume":
		return s.AppResumeGrace
	case "MovementThreshold":
		return s.MovementThreshold
	case "LocationSettling":
		return s.LocationSettlingGrace
	default:
		return nil
	}
}

// appendCrossFieldIssues applies the logical rules. Each rule runs only
// when every field it references is present (non-zero).
func appendCrossFieldIssues(s Settings, res Result) Result {
	init := s.InitializationGrace
	movement := s.MovementGrace
	appResume := s.AppResumeGrace
	settling := s.LocationSettlingGrace

	if movement > 0 && init > 0 && movement > init {
		res.Errors = append(res.Errors, FieldIssue{
			Field: FieldMovement,
			Message: fmt.Sprintf("movement grace period %v must not exceed initialization grace period %v",
				movement, init),
			CurrentValue:     movement,
			RecommendedValue: minDuration(movement, init-time.Second),
		})
	}

	if appResume > 0 && movement > 0 && appResume > movement {
		res.Errors = append(res.Errors, FieldIssue{
			Field: FieldAppResume,
			Message: fmt.Sprintf("app resume grace period %v must not exceed movement grace period %v",
				appResume, movement),
			CurrentValue:     appResume,
			RecommendedValue: minDuration(appResume, movement),
		})
	} else if appResume > 0 && init > 0 && float64(appResume) > float64(init)*appResumeInitRatio {
		res.Warnings = append(res.Warnings, FieldIssue{
			Field: FieldAppResume,
			Message: fmt.Sprintf("app resume grace period %v exceeds 80%% of initialization grace period %v",
				appResume, init),
			CurrentValue:     appResume,
			RecommendedValue: time.Duration(float64(init) * appResumeInitRatio).Round(time.Millisecond),
		})
	}

	if settling > 0 && movement > 0 && settling > movement {
		res.Warnings = append(res.Warnings, FieldIssue{
			Field: FieldLocationSettling,
			Message: fmt.Sprintf("location settling grace period %v exceeds movement grace period %v",
				settling, movement),
			CurrentValue:     settling,
			RecommendedValue: movement,
		})
	}

	return res
}

// appendHeuristicWarnings flags values that are in range but unusual
// enough to be worth surfacing. Never blocks validity.
func appendHeuristicWarnings(s Settings, res Result) Result {
	if s.InitializationGrace > 30*time.Second && s.InitializationGrace <= MaxInitializationGrace {
		res.Warnings = append(res.Warnings, FieldIssue{
			Field:            FieldInitialization,
			Message:          fmt.Sprintf("initialization grace period %v is unusually long; alerts will be slow to arm", s.InitializationGrace),
			CurrentValue:     s.InitializationGrace,
			RecommendedValue: PresetSettings(PresetBalanced).InitializationGrace,
		})
	}
	if s.MovementGrace >= MinMovementGrace && s.MovementGrace < 5*time.Second {
		res.Warnings = append(res.Warnings, FieldIssue{
			Field:            FieldMovement,
			Message:          fmt.Sprintf("movement grace period %v is unusually short; expect noisy re-arming", s.MovementGrace),
			CurrentValue:     s.MovementGrace,
			RecommendedValue: PresetSettings(PresetBalanced).MovementGrace,
		})
	}
	return res
}

// AutoCorrect returns a copy of s with every grace field clamped to its
// interval, missing fields filled from the Balanced preset, and cross-field
// ordering restored. Pure and idempotent: AutoCorrect(AutoCorrect(s)) ==
// AutoCorrect(s).
func AutoCorrect(s Settings) Settings {
	balanced := PresetSettings(PresetBalanced)

	s.InitializationGrace = correctDuration(s.InitializationGrace, balanced.InitializationGrace,
		MinInitializationGrace, MaxInitializationGrace)
	s.MovementGrace = correctDuration(s.MovementGrace, balanced.MovementGrace,
		MinMovementGrace, MaxMovementGrace)
	s.AppResumeGrace = correctDuration(s.AppResumeGrace, balanced.AppResumeGrace,
		MinAppResumeGrace, MaxAppResumeGrace)
	s.LocationSettlingGrace = correctDuration(s.LocationSettlingGrace, balanced.LocationSettlingGrace,
		MinLocationSettlingGrace, MaxLocationSettlingGrace)

	switch {
	case s.MovementThreshold == 0:
		s.MovementThreshold = balanced.MovementThreshold
	case s.MovementThreshold < MinMovementThreshold:
		s.MovementThreshold = MinMovementThreshold
	case s.MovementThreshold > MaxMovementThreshold:
		s.MovementThreshold = MaxMovementThreshold
	}

	if s.NotificationDistance <= 0 {
		s.NotificationDistance = balanced.NotificationDistance
	}
	if s.OuterDistance <= 0 {
		s.OuterDistance = balanced.OuterDistance
	}
	if s.CardDistance <= 0 {
		s.CardDistance = balanced.CardDistance
	}

	// Restore cross-field ordering. The interval minimums guarantee these
	// never push a field below its own lower bound.
	if s.MovementGrace > s.InitializationGrace {
		s.MovementGrace = s.InitializationGrace
	}
	if s.AppResumeGrace > s.MovementGrace {
		s.AppResumeGrace = s.MovementGrace
	}
	if s.LocationSettlingGrace > s.MovementGrace {
		s.LocationSettlingGrace = s.MovementGrace
	}

	return s
}

// correctDuration fills a missing (zero) value with the preset default and
// clamps everything else to [min, max].
func correctDuration(v, preset, min, max time.Duration) time.Duration {
	switch {
	case v == 0:
		return preset
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
