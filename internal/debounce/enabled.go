// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// PersistEnabledFunc writes the enablement flag for one user.
type PersistEnabledFunc func(ctx context.Context, userID string, enabled bool) error

// EnabledConfig tunes the enable/disable toggle debouncer.
type EnabledConfig struct {
	// Delay before a queued toggle executes. Kept short so the toggle
	// feels responsive. Default: 300ms
	Delay time.Duration

	// Cooldown is the minimum interval between two executed updates for
	// the same user. Default: 2s
	Cooldown time.Duration

	// DuplicateWindow drops a request matching the last executed value.
	// Longer than the cooldown so redundant writes from multiple UI
	// sources are caught even after the cooldown expires. Default: 5s
	DuplicateWindow time.Duration

	// RetryInitial seeds the backoff before the single retry. Default: 500ms
	RetryInitial time.Duration

	// PersistTimeout bounds a single persistence call. Default: 5s
	PersistTimeout time.Duration
}

func (c *EnabledConfig) applyDefaults() {
	if c.Delay <= 0 {
		c.Delay = 300 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 5 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
}

type pendingToggle struct {
	value    bool
	queuedAt time.Time
}

type executedToggle struct {
	value bool
	at    time.Time
}

type toggleState struct {
	pending      *pendingToggle
	timer        *time.Timer
	lastExecuted *executedToggle
	inFlight     bool
}

// EnabledDebouncer coordinates the single proximity-alerts on/off toggle
// per user. Rapid toggling is absorbed by a short debounce window,
// executed values start a cooldown, and repeats of the last executed value
// are suppressed entirely.
type EnabledDebouncer struct {
	mu      sync.Mutex
	cfg     EnabledConfig
	persist PersistEnabledFunc
	users   map[string]*toggleState
	metrics *Collector
	log     zerolog.Logger
}

const enabledDebouncerName = "enabled"

// NewEnabledDebouncer creates the toggle debouncer.
func NewEnabledDebouncer(cfg EnabledConfig, persist PersistEnabledFunc, metrics *Collector, log zerolog.Logger) *EnabledDebouncer {
	cfg.applyDefaults()
	return &EnabledDebouncer{
		cfg:     cfg,
		persist: persist,
		users:   make(map[string]*toggleState),
		metrics: metrics,
		log:     log,
	}
}

// Debounce requests an enablement change. Returns false when the request
// is dropped: still inside the post-execution cooldown, or a duplicate of
// the last executed value inside the duplicate-detection window. A pending
// value is replaced (last write wins) and the timer restarts.
func (d *EnabledDebouncer) Debounce(userID string, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.users[userID]
	if st == nil {
		st = &toggleState{}
		d.users[userID] = st
	}

	now := time.Now()
	if st.lastExecuted != nil {
		since := now.Sub(st.lastExecuted.at)
		if st.lastExecuted.value == enabled && since < d.cfg.DuplicateWindow && st.pending == nil {
			d.metrics.Blocked(enabledDebouncerName, BlockReasonDuplicate)
			d.log.Debug().Str("user_id", userID).Bool("enabled", enabled).Msg("duplicate toggle dropped")
			return false
		}
		if since < d.cfg.Cooldown {
			d.metrics.Blocked(enabledDebouncerName, BlockReasonCooldown)
			d.log.Debug().Str("user_id", userID).Bool("enabled", enabled).
				Dur("remaining", d.cfg.Cooldown-since).Msg("toggle inside cooldown window")
			return false
		}
	}

	st.pending = &pendingToggle{value: enabled, queuedAt: now}
	d.metrics.UpdateQueued(enabledDebouncerName)

	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(d.cfg.Delay, func() {
		d.execute(userID)
	})
	return true
}

// execute persists the pending value, retrying once with backoff.
func (d *EnabledDebouncer) execute(userID string) {
	d.mu.Lock()
	st := d.users[userID]
	if st == nil || st.pending == nil {
		d.mu.Unlock()
		return
	}
	if st.inFlight {
		// An earlier execution is still persisting; try again shortly.
		st.timer = time.AfterFunc(d.cfg.Delay, func() { d.execute(userID) })
		d.mu.Unlock()
		return
	}
	value := st.pending.value
	st.pending = nil
	st.timer = nil
	st.inFlight = true
	d.mu.Unlock()

	err := d.persistOnce(userID, value)
	if err != nil {
		// One retry with exponential backoff, then give up. The pending
		// state was already consumed; a later user action starts fresh.
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = d.cfg.RetryInitial
		// Reset re-seeds the current interval; without it the configured
		// initial interval is ignored.
		bo.Reset()
		wait := bo.NextBackOff()
		d.log.Warn().Err(err).Str("user_id", userID).Dur("retry_in", wait).
			Msg("enabled persist failed, retrying once")
		time.Sleep(wait)
		err = d.persistOnce(userID, value)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	st.inFlight = false

	if err != nil {
		d.metrics.TerminalFailure(enabledDebouncerName)
		d.log.Error().Err(err).Str("user_id", userID).Bool("enabled", value).
			Msg("enabled persist failed after retry")
		return
	}

	st.lastExecuted = &executedToggle{value: value, at: time.Now()}
	d.metrics.FlushSucceeded(enabledDebouncerName, 1)
	d.log.Debug().Str("user_id", userID).Bool("enabled", value).Msg("enabled state persisted")

	if st.pending != nil && st.timer == nil {
		// A toggle arrived mid-flight; run it after the cooldown clears.
		st.timer = time.AfterFunc(d.cfg.Cooldown, func() { d.execute(userID) })
	}
}

func (d *EnabledDebouncer) persistOnce(userID string, enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistTimeout)
	defer cancel()
	if err := d.persist(ctx, userID, enabled); err != nil {
		d.metrics.FlushFailed(enabledDebouncerName)
		return err
	}
	return nil
}

// ForceFlush executes the user's pending toggle immediately, if any.
// Callers that need to read settings right after use this to synchronize.
func (d *EnabledDebouncer) ForceFlush(userID string) {
	d.mu.Lock()
	st := d.users[userID]
	if st == nil || st.pending == nil {
		d.mu.Unlock()
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	d.mu.Unlock()
	d.execute(userID)
}

// ClearPending cancels the timer and discards the pending toggle.
func (d *EnabledDebouncer) ClearPending(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.users[userID]
	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.pending = nil
}

// HasPending reports whether a toggle is queued or persisting.
func (d *EnabledDebouncer) HasPending(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.users[userID]
	return st != nil && (st.pending != nil || st.inFlight)
}

// PendingState returns the queued value, if one exists.
func (d *EnabledDebouncer) PendingState(userID string) (enabled, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.users[userID]
	if st == nil || st.pending == nil {
		return false, false
	}
	return st.pending.value, true
}

// LastExecuted returns the most recently persisted value, if any.
func (d *EnabledDebouncer) LastExecuted(userID string) (enabled, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.users[userID]
	if st == nil || st.lastExecuted == nil {
		return false, false
	}
	return st.lastExecuted.value, true
}

// ActiveTimers counts users with an armed execution timer.
func (d *EnabledDebouncer) ActiveTimers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, st := range d.users {
		if st.timer != nil {
			n++
		}
	}
	return n
}
