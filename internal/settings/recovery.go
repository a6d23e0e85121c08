// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package settings

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RecoveryMethod names how an invalid configuration was repaired.
type RecoveryMethod string

// Recovery methods, in order of preference.
const (
	RecoveryAutoCorrect RecoveryMethod = "auto-correct"
	RecoveryFallback    RecoveryMethod = "fallback"
)

// RecoveryResult is the outcome of one recovery pass. Success is always
// true: the fallback preset is valid by construction, so recovery cannot
// fail outright. Method records which line of defense resolved it.
type RecoveryResult struct {
	Success  bool
	Method   RecoveryMethod
	Settings Settings
}

// RecoveryHealth is a point-in-time snapshot of the recoverer.
type RecoveryHealth struct {
	// ActiveRetries is the number of context tags currently in a retry
	// window (auto-correct failed for them at least once).
	ActiveRetries int

	// SuccessRate is the share of recoveries resolved by auto-correct
	// rather than the wholesale preset fallback. 1.0 when no recoveries
	// have run.
	SuccessRate float64
}

// retryState tracks bounded retry bookkeeping for one context tag.
type retryState struct {
	attempts int
	backoff  *backoff.ExponentialBackOff
	nextTry  time.Time
}

// Recoverer repairs invalid proximity settings. Auto-correct is attempted
// first; if the corrected result still fails validation (cross-field logic
// on pathological input), or the tag has exhausted its bounded attempts,
// the Balanced preset is substituted wholesale.
type Recoverer struct {
	mu          sync.Mutex
	maxAttempts int
	tags        map[string]*retryState
	total       int64
	corrected   int64
	log         zerolog.Logger
	now         func() time.Time

	// validate is swappable so the diagnostics self-tests can force the
	// fallback line of defense, which is otherwise unreachable because
	// AutoCorrect repairs everything ValidateRanges checks.
	validate func(Settings) Result
}

// DefaultMaxRecoveryAttempts bounds auto-correct attempts per context tag
// before the fallback is returned unconditionally.
const DefaultMaxRecoveryAttempts = 3

// NewRecoverer creates a recovery controller. maxAttempts <= 0 selects
// DefaultMaxRecoveryAttempts.
func NewRecoverer(maxAttempts int, log zerolog.Logger) *Recoverer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRecoveryAttempts
	}
	return &Recoverer{
		maxAttempts: maxAttempts,
		tags:        make(map[string]*retryState),
		log:         log,
		now:         time.Now,
		validate:    ValidateRanges,
	}
}

// SetValidator replaces the validation function used to re-check
// auto-corrected settings. Exposed for self-test scenarios.
func (r *Recoverer) SetValidator(fn func(Settings) Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.validate = fn
	}
}

// Recover repairs s. The contextTag identifies the caller (e.g. a load
// path or a user id) so persistently malformed input from one source stops
// being re-attempted after maxAttempts.
func (r *Recoverer) Recover(s Settings, contextTag string) RecoveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	state := r.tags[contextTag]

	if state != nil && (state.attempts >= r.maxAttempts || r.now().Before(state.nextTry)) {
		r.log.Warn().Str("context", contextTag).Int("attempts", state.attempts).
			Msg("recovery attempts exhausted, substituting balanced preset")
		return r.fallback(s)
	}

	repaired := AutoCorrect(s)
	if r.validate(repaired).IsValid() {
		delete(r.tags, contextTag)
		r.corrected++
		r.log.Debug().Str("context", contextTag).Msg("settings recovered via auto-correct")
		return RecoveryResult{Success: true, Method: RecoveryAutoCorrect, Settings: repaired}
	}

	if state == nil {
		state = &retryState{backoff: newRecoveryBackoff()}
		r.tags[contextTag] = state
	}
	state.attempts++
	state.nextTry = r.now().Add(state.backoff.NextBackOff())

	r.log.Warn().Str("context", contextTag).Int("attempts", state.attempts).
		Msg("auto-correct did not produce valid settings, substituting balanced preset")
	return r.fallback(s)
}

// fallback substitutes the Balanced preset, preserving identity fields.
// Must be called with r.mu held.
func (r *Recoverer) fallback(s Settings) RecoveryResult {
	out := PresetSettings(PresetBalanced)
	out.UserID = s.UserID
	out.Enabled = s.Enabled
	out.GraceEnabled = s.GraceEnabled
	return RecoveryResult{Success: true, Method: RecoveryFallback, Settings: out}
}

// Health returns current retry and success-rate figures.
func (r *Recoverer) Health() RecoveryHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := RecoveryHealth{ActiveRetries: len(r.tags), SuccessRate: 1.0}
	if r.total > 0 {
		h.SuccessRate = float64(r.corrected) / float64(r.total)
	}
	return h
}

// Reset clears retry state and counters. Used by the diagnostics
// aggregator's ResetMetrics.
func (r *Recoverer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = make(map[string]*retryState)
	r.total = 0
	r.corrected = 0
}

func newRecoveryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // attempts are bounded by count, not wall time
	return b
}
