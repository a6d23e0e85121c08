// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package settings

import "time"

// Preset names a complete, always-valid grace period configuration.
type Preset string

// Named presets. Balanced is the source of recommended values during
// validation and the wholesale fallback when recovery is exhausted.
const (
	PresetConservative Preset = "conservative"
	PresetBalanced     Preset = "balanced"
	PresetAggressive   Preset = "aggressive"
)

// PresetSettings returns the full tuple of defaults for a preset.
// Unknown presets resolve to Balanced. UserID and Enabled are identity
// fields, left zero for the caller to fill.
func PresetSettings(p Preset) Settings {
	switch p {
	case PresetConservative:
		return Settings{
			NotificationDistance:  150,
			OuterDistance:         400,
			CardDistance:          75,
			GraceEnabled:          true,
			InitializationGrace:   30 * time.Second,
			MovementGrace:         20 * time.Second,
			AppResumeGrace:        8 * time.Second,
			MovementThreshold:     200,
			LocationSettlingGrace: 5 * time.Second,
		}
	case PresetAggressive:
		return Settings{
			NotificationDistance:  75,
			OuterDistance:         200,
			CardDistance:          30,
			GraceEnabled:          true,
			InitializationGrace:   8 * time.Second,
			MovementGrace:         5 * time.Second,
			AppResumeGrace:        2 * time.Second,
			MovementThreshold:     50,
			LocationSettlingGrace: 2 * time.Second,
		}
	default:
		return Settings{
			NotificationDistance:  100,
			OuterDistance:         300,
			CardDistance:          50,
			GraceEnabled:          true,
			InitializationGrace:   15 * time.Second,
			MovementGrace:         10 * time.Second,
			AppResumeGrace:        5 * time.Second,
			MovementThreshold:     100,
			LocationSettlingGrace: 3 * time.Second,
		}
	}
}
