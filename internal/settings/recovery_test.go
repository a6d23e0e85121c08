// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package settings

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRecoverAutoCorrects(t *testing.T) {
	r := NewRecoverer(0, zerolog.Nop())

	s := Settings{
		UserID:              "u1",
		GraceEnabled:        true,
		InitializationGrace: 999999 * time.Millisecond,
		MovementGrace:       -1000 * time.Millisecond,
	}
	res := r.Recover(s, "load:u1")

	if !res.Success {
		t.Fatal("recovery must always succeed")
	}
	if res.Method != RecoveryAutoCorrect {
		t.Errorf("method = %q, want %q", res.Method, RecoveryAutoCorrect)
	}
	if res.Settings.InitializationGrace != 60*time.Second {
		t.Errorf("initialization = %v, want interval max 60s", res.Settings.InitializationGrace)
	}
	if res.Settings.MovementGrace != 3*time.Second {
		t.Errorf("movement = %v, want interval min 3s", res.Settings.MovementGrace)
	}
	if res.Settings.UserID != "u1" {
		t.Errorf("user id not preserved: %q", res.Settings.UserID)
	}
}

func TestRecoverFallsBackWhenValidationKeepsFailing(t *testing.T) {
	r := NewRecoverer(3, zerolog.Nop())
	r.SetValidator(func(Settings) Result {
		return Result{Errors: []FieldIssue{{Field: FieldMovement, Message: "forced"}}}
	})

	s := validBalanced()
	res := r.Recover(s, "forced")

	if !res.Success {
		t.Fatal("fallback must still report success")
	}
	if res.Method != RecoveryFallback {
		t.Errorf("method = %q, want %q", res.Method, RecoveryFallback)
	}
	balanced := PresetSettings(PresetBalanced)
	if res.Settings.MovementGrace != balanced.MovementGrace {
		t.Errorf("fallback settings not from balanced preset: %+v", res.Settings)
	}
	if res.Settings.UserID != s.UserID {
		t.Error("fallback dropped the user id")
	}
}

func TestRecoverBoundedAttemptsPerTag(t *testing.T) {
	r := NewRecoverer(2, zerolog.Nop())
	r.SetValidator(func(Settings) Result {
		return Result{Errors: []FieldIssue{{Field: FieldMovement, Message: "forced"}}}
	})
	// Advance the clock an hour per observation so backoff windows are
	// always expired and the attempt cap is the thing being exercised.
	base := time.Unix(0, 0)
	calls := 0
	r.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Hour)
	}

	for i := 0; i < 5; i++ {
		res := r.Recover(validBalanced(), "stuck")
		if res.Method != RecoveryFallback {
			t.Fatalf("call %d: method = %q, want fallback", i, res.Method)
		}
	}

	r.mu.Lock()
	attempts := r.tags["stuck"].attempts
	r.mu.Unlock()
	if attempts > 2 {
		t.Errorf("attempts = %d, want capped at 2", attempts)
	}
}

func TestRecoveryHealth(t *testing.T) {
	r := NewRecoverer(3, zerolog.Nop())

	h := r.Health()
	if h.SuccessRate != 1.0 || h.ActiveRetries != 0 {
		t.Errorf("fresh recoverer health = %+v", h)
	}

	r.Recover(Settings{GraceEnabled: true, MovementGrace: -time.Second}, "a")
	h = r.Health()
	if h.SuccessRate != 1.0 {
		t.Errorf("success rate = %v after clean auto-correct, want 1.0", h.SuccessRate)
	}

	r.SetValidator(func(Settings) Result {
		return Result{Errors: []FieldIssue{{Field: FieldMovement, Message: "forced"}}}
	})
	r.Recover(validBalanced(), "b")
	h = r.Health()
	if h.ActiveRetries != 1 {
		t.Errorf("active retries = %d, want 1", h.ActiveRetries)
	}
	if h.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", h.SuccessRate)
	}

	r.Reset()
	h = r.Health()
	if h.ActiveRetries != 0 || h.SuccessRate != 1.0 {
		t.Errorf("health after reset = %+v", h)
	}
}
