// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/debounce"
	"github.com/wanderline/proximity/internal/settings"
)

// Self-test scenario names accepted by RunSelfTest.
const (
	SelfTestValidation     = "validation-invalid-input"
	SelfTestRecoveryForced = "recovery-forced"
	SelfTestDebounceTiming = "debounce-timing"
	SelfTestTimerLeak      = "timer-leak"
)

// SelfTestNames lists the available scenarios in a stable order.
var SelfTestNames = []string{
	SelfTestValidation,
	SelfTestRecoveryForced,
	SelfTestDebounceTiming,
	SelfTestTimerLeak,
}

// ErrUnknownSelfTest is returned for a scenario name RunSelfTest does not
// recognize.
type ErrUnknownSelfTest struct {
	Name string
}

func (e ErrUnknownSelfTest) Error() string {
	return fmt.Sprintf("diagnostics: unknown self-test %q", e.Name)
}

// SelfTestResult reports one scenario run.
type SelfTestResult struct {
	Name     string        `json:"name"`
	RunID    string        `json:"run_id"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration_ms"`
	Detail   string        `json:"detail,omitempty"`
}

// RunSelfTest runs one named scenario against throwaway component
// instances so live coordination state is never disturbed.
func (a *Aggregator) RunSelfTest(name string) (SelfTestResult, error) {
	var run func() (bool, string)
	switch name {
	case SelfTestValidation:
		run = selfTestValidation
	case SelfTestRecoveryForced:
		run = a.selfTestRecoveryForced
	case SelfTestDebounceTiming:
		run = selfTestDebounceTiming
	case SelfTestTimerLeak:
		run = selfTestTimerLeak
	default:
		return SelfTestResult{}, ErrUnknownSelfTest{Name: name}
	}

	result := SelfTestResult{Name: name, RunID: uuid.NewString()}
	start := time.Now()
	result.Passed, result.Detail = run()
	result.Duration = time.Since(start)

	a.log.Info().Str("self_test", name).Str("run_id", result.RunID).
		Bool("passed", result.Passed).Dur("duration", result.Duration).
		Msg("self-test completed")
	return result, nil
}

// selfTestValidation checks that out-of-range input is rejected and that
// auto-correct repairs it into a passing configuration.
func selfTestValidation() (bool, string) {
	bad := settings.Settings{
		GraceEnabled:        true,
		InitializationGrace: 999999 * time.Millisecond,
		MovementGrace:       -time.Second,
	}
	res := settings.ValidateRanges(bad)
	if res.IsValid() {
		return false, "out-of-range settings passed validation"
	}
	fixed := settings.AutoCorrect(bad)
	if after := settings.ValidateRanges(fixed); !after.IsValid() {
		return false, fmt.Sprintf("auto-correct left %d errors", len(after.Errors))
	}
	return true, ""
}

// selfTestRecoveryForced forces the fallback path with an always-failing
// validator and checks the balanced preset comes back.
func (a *Aggregator) selfTestRecoveryForced() (bool, string) {
	rec := settings.NewRecoverer(settings.DefaultMaxRecoveryAttempts, a.log)
	rec.SetValidator(func(settings.Settings) settings.Result {
		return settings.Result{Errors: []settings.FieldIssue{{Field: "forced", Message: "forced failure"}}}
	})

	out := rec.Recover(settings.Settings{UserID: "selftest", GraceEnabled: true}, "selftest")
	if !out.Success {
		return false, "recovery reported failure"
	}
	if out.Method != settings.RecoveryFallback {
		return false, fmt.Sprintf("recovery method = %s, want fallback", out.Method)
	}
	balanced := settings.PresetSettings(settings.PresetBalanced)
	if out.Settings.InitializationGrace != balanced.InitializationGrace {
		return false, "fallback did not apply the balanced preset"
	}
	return true, ""
}

// selfTestDebounceTiming runs a throwaway update debouncer through a
// three-field batch and checks exactly one combined persist fires.
func selfTestDebounceTiming() (bool, string) {
	calls := make(chan settings.FieldUpdates, 4)
	persist := func(_ context.Context, _ string, updates settings.FieldUpdates) error {
		calls <- updates
		return nil
	}
	d := debounce.NewUpdateDebouncer(debounce.UpdateConfig{
		BaseDelay: 20 * time.Millisecond,
		DelayStep: 5 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
	}, persist, debounce.NewCollector(nil), zerolog.Nop())

	d.Debounce("selftest", settings.FieldInitialization, 15*time.Second)
	d.Debounce("selftest", settings.FieldMovement, 10*time.Second)
	d.Debounce("selftest", settings.FieldMovementThreshold, 100.0)

	select {
	case got := <-calls:
		if len(got) != 3 {
			return false, fmt.Sprintf("flush carried %d fields, want 3", len(got))
		}
	case <-time.After(500 * time.Millisecond):
		return false, "batch never flushed"
	}

	select {
	case <-calls:
		return false, "batch flushed more than once"
	case <-time.After(100 * time.Millisecond):
	}
	return true, ""
}

// selfTestTimerLeak queues work on throwaway debouncers, clears it, and
// checks no timer survives.
func selfTestTimerLeak() (bool, string) {
	m := debounce.NewCollector(nil)
	enabled := debounce.NewEnabledDebouncer(debounce.EnabledConfig{Delay: time.Minute},
		func(context.Context, string, bool) error { return nil }, m, zerolog.Nop())
	geo := debounce.NewGeolocateDebouncer(debounce.GeolocateConfig{
		Delays: map[debounce.EventType]time.Duration{debounce.EventGeolocate: time.Minute},
	}, enabled, m, zerolog.Nop())

	enabled.Debounce("selftest", true)
	geo.Handle(debounce.Event{Type: debounce.EventGeolocate, UserID: "selftest", Enabled: true})

	enabled.ClearPending("selftest")
	geo.ClearAllTimeouts()

	if n := enabled.ActiveTimers() + geo.ActiveTimers(); n != 0 {
		return false, fmt.Sprintf("%d timers still armed after clear", n)
	}
	return true, ""
}
