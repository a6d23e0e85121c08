// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package debounce

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a raw geolocation/map-control event.
type EventType string

// Control event types emitted by the map's geolocate control.
const (
	EventGeolocate     EventType = "geolocate"
	EventTrackingStart EventType = "trackingStart"
	EventTrackingStop  EventType = "trackingStop"
	EventTrackingError EventType = "trackingError"
)

// EventTypes lists all known control event types.
var EventTypes = []EventType{EventGeolocate, EventTrackingStart, EventTrackingStop, EventTrackingError}

// Event is one raw control event. WatchActive, when present, carries the
// control's own view of whether location tracking is currently running.
type Event struct {
	Type        EventType `json:"type"`
	UserID      string    `json:"user_id"`
	Enabled     bool      `json:"enabled"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	WatchActive *bool     `json:"watch_active,omitempty"`
}

// HistoryStatus classifies an event's fate in the per-type history.
type HistoryStatus string

// Event history statuses.
const (
	HistoryQueued   HistoryStatus = "queued"
	HistoryExecuted HistoryStatus = "executed"
	HistorySkipped  HistoryStatus = "skipped"
	HistoryFiltered HistoryStatus = "filtered"
)

// HistoryEntry records one event's fate with a human-readable reason.
// The history is the primary debugging aid for the filter chain.
type HistoryEntry struct {
	Event  Event         `json:"event"`
	Status HistoryStatus `json:"status"`
	Reason string        `json:"reason"`
	At     time.Time     `json:"at"`
}

// historyRing is a fixed-capacity event history, oldest entries evicted.
type historyRing struct {
	entries []HistoryEntry
	next    int
	size    int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 10
	}
	return &historyRing{entries: make([]HistoryEntry, capacity)}
}

func (r *historyRing) add(e HistoryEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// list returns entries oldest first.
func (r *historyRing) list() []HistoryEntry {
	out := make([]HistoryEntry, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}

// EnabledForwarder is the downstream update path for surviving events.
// Satisfied by *EnabledDebouncer.
type EnabledForwarder interface {
	Debounce(userID string, enabled bool) bool
}

// GeolocateConfig tunes the source-aware event debouncer.
type GeolocateConfig struct {
	// Delays holds the per-type debounce delay. Start/stop are short so
	// deliberate actions feel immediate; geolocate and error events are
	// noisy and wait longer. Missing types get DefaultDelay.
	Delays map[EventType]time.Duration

	// Cooldowns holds the per-type post-execution cooldown, always longer
	// than the matching delay to prevent thrashing.
	Cooldowns map[EventType]time.Duration

	// DefaultDelay and DefaultCooldown cover unlisted event types.
	DefaultDelay    time.Duration
	DefaultCooldown time.Duration

	// BurstWindow and BurstThreshold define pattern detection: reaching
	// the threshold count inside the rolling window drops events until
	// the window clears. Default: 3 events in 5s.
	BurstWindow    time.Duration
	BurstThreshold int
	BurstBuckets   int

	// TransitionErrorWindow drops error events arriving right after a
	// start/stop transition; those are side effects of the transition,
	// not new failures. Default: 2s
	TransitionErrorWindow time.Duration

	// InProgressExpiry bounds the per-type mutual-exclusion flag set
	// while an event executes. Default: 1500ms
	InProgressExpiry time.Duration

	// HistorySize is the per-type history ring capacity. Default: 10
	HistorySize int
}

func (c *GeolocateConfig) applyDefaults() {
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = 500 * time.Millisecond
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = 2 * time.Second
	}
	if c.Delays == nil {
		c.Delays = map[EventType]time.Duration{
			EventGeolocate:     800 * time.Millisecond,
			EventTrackingStart: 400 * time.Millisecond,
			EventTrackingStop:  400 * time.Millisecond,
			EventTrackingError: time.Second,
		}
	}
	if c.Cooldowns == nil {
		c.Cooldowns = map[EventType]time.Duration{
			EventGeolocate:     3 * time.Second,
			EventTrackingStart: 2 * time.Second,
			EventTrackingStop:  2 * time.Second,
			EventTrackingError: 5 * time.Second,
		}
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = 5 * time.Second
	}
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = 3
	}
	if c.BurstBuckets <= 0 {
		c.BurstBuckets = 10
	}
	if c.TransitionErrorWindow <= 0 {
		c.TransitionErrorWindow = 2 * time.Second
	}
	if c.InProgressExpiry <= 0 {
		c.InProgressExpiry = 1500 * time.Millisecond
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 10
	}
}

func (c *GeolocateConfig) delay(t EventType) time.Duration {
	if d, ok := c.Delays[t]; ok {
		return d
	}
	return c.DefaultDelay
}

func (c *GeolocateConfig) cooldown(t EventType) time.Duration {
	if d, ok := c.Cooldowns[t]; ok {
		return d
	}
	return c.DefaultCooldown
}

// typeState is the per-event-type arena: one pending slot, one timer, one
// burst window, one history ring, one in-progress flag.
type typeState struct {
	pending         *Event
	timer           *time.Timer
	lastExecuted    time.Time
	burst           *slidingWindow
	history         *historyRing
	inProgress      bool
	inProgressTimer *time.Timer
}

// GeolocateDebouncer collapses the high-frequency, multi-source stream of
// map-control events into safe, rate-limited calls into the enabled
// debouncer. Manual user actions always take precedence over automatic
// control events.
type GeolocateDebouncer struct {
	mu             sync.Mutex
	cfg            GeolocateConfig
	forward        EnabledForwarder
	types          map[EventType]*typeState
	manualUntil    time.Time
	manualTimer    *time.Timer
	lastTransition time.Time
	metrics        *Collector
	log            zerolog.Logger
}

const geolocateDebouncerName = "geolocate"

// NewGeolocateDebouncer creates the source-aware event debouncer that
// forwards surviving events to fwd.
func NewGeolocateDebouncer(cfg GeolocateConfig, fwd EnabledForwarder, metrics *Collector, log zerolog.Logger) *GeolocateDebouncer {
	cfg.applyDefaults()
	return &GeolocateDebouncer{
		cfg:     cfg,
		forward: fwd,
		types:   make(map[EventType]*typeState),
		metrics: metrics,
		log:     log,
	}
}

func (d *GeolocateDebouncer) state(t EventType) *typeState {
	st := d.types[t]
	if st == nil {
		st = &typeState{
			burst:   newSlidingWindow(d.cfg.BurstWindow, d.cfg.BurstBuckets),
			history: newHistoryRing(d.cfg.HistorySize),
		}
		d.types[t] = st
	}
	return st
}

// Handle runs the filter chain on one raw event and queues survivors.
// Returns true when the event was queued for forwarding. Filter order:
// manual-action block, same-type mutual exclusion, state-aware skips,
// burst detection, per-type cooldown.
func (d *GeolocateDebouncer) Handle(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	st := d.state(evt.Type)

	if now.Before(d.manualUntil) {
		d.record(st, evt, HistoryFiltered, "manual user action in progress", now)
		d.metrics.Blocked(geolocateDebouncerName, BlockReasonManual)
		return false
	}

	if st.inProgress {
		d.record(st, evt, HistoryFiltered, "same event type already processing", now)
		d.metrics.Blocked(geolocateDebouncerName, BlockReasonInProgress)
		return false
	}

	if reason, skip := d.stateAwareSkip(evt, now); skip {
		d.record(st, evt, HistorySkipped, reason, now)
		d.metrics.Blocked(geolocateDebouncerName, BlockReasonState)
		return false
	}

	if count := st.burst.increment(now); count >= d.cfg.BurstThreshold {
		d.record(st, evt, HistorySkipped, "burst detected", now)
		d.metrics.Blocked(geolocateDebouncerName, BlockReasonBurst)
		d.log.Debug().Str("type", string(evt.Type)).Int("count", count).
			Msg("event burst detected, dropping until window clears")
		return false
	}

	if !st.lastExecuted.IsZero() {
		if since := now.Sub(st.lastExecuted); since < d.cfg.cooldown(evt.Type) {
			d.record(st, evt, HistorySkipped, "inside post-execution cooldown", now)
			d.metrics.Blocked(geolocateDebouncerName, BlockReasonCooldown)
			return false
		}
	}

	// Coalesce: the newest event of a type wins the debounce window.
	if st.timer != nil {
		st.timer.Stop()
	}
	st.pending = &evt
	st.timer = time.AfterFunc(d.cfg.delay(evt.Type), func() {
		d.fire(evt.Type)
	})

	if evt.Type == EventTrackingStart || evt.Type == EventTrackingStop {
		d.lastTransition = now
	}

	d.record(st, evt, HistoryQueued, "passed filter chain", now)
	d.metrics.UpdateQueued(geolocateDebouncerName)
	return true
}

// stateAwareSkip drops events that the control's own state proves
// redundant or spurious. Caller holds d.mu.
func (d *GeolocateDebouncer) stateAwareSkip(evt Event, now time.Time) (string, bool) {
	if evt.Type == EventTrackingStart && evt.WatchActive != nil && *evt.WatchActive {
		return "tracking already active", true
	}
	if evt.Type == EventTrackingError && !d.lastTransition.IsZero() &&
		now.Sub(d.lastTransition) < d.cfg.TransitionErrorWindow {
		return "error within transition window, likely transition side effect", true
	}
	return "", false
}

// fire forwards the coalesced event for its type into the enabled
// debouncer and starts the post-execution cooldown.
func (d *GeolocateDebouncer) fire(t EventType) {
	d.mu.Lock()
	st := d.types[t]
	if st == nil || st.pending == nil {
		d.mu.Unlock()
		return
	}
	evt := *st.pending
	st.pending = nil
	st.timer = nil

	st.inProgress = true
	if st.inProgressTimer != nil {
		st.inProgressTimer.Stop()
	}
	st.inProgressTimer = time.AfterFunc(d.cfg.InProgressExpiry, func() {
		d.mu.Lock()
		if cur := d.types[t]; cur != nil {
			cur.inProgress = false
		}
		d.mu.Unlock()
	})
	d.mu.Unlock()

	accepted := d.forward.Debounce(evt.UserID, evt.Enabled)

	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	st.lastExecuted = now
	if t == EventTrackingStart || t == EventTrackingStop {
		d.lastTransition = now
	}

	reason := "forwarded as " + string(t)
	if !accepted {
		reason = "forwarded, dropped by enabled debouncer"
	}
	d.record(st, evt, HistoryExecuted, reason, now)
	d.metrics.EventForwarded()
	d.log.Debug().Str("type", string(t)).Str("user_id", evt.UserID).
		Bool("enabled", evt.Enabled).Bool("accepted", accepted).Msg("control event forwarded")
}

func (d *GeolocateDebouncer) record(st *typeState, evt Event, status HistoryStatus, reason string, at time.Time) {
	st.history.add(HistoryEntry{Event: evt, Status: status, Reason: reason, At: at})
}

// SetManualAction marks a manual user action in progress for the given
// duration. Automatic control events are hard-blocked while it is set.
func (d *GeolocateDebouncer) SetManualAction(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manualUntil = time.Now().Add(duration)
	if d.manualTimer != nil {
		d.manualTimer.Stop()
	}
	d.manualTimer = time.AfterFunc(duration, func() {
		d.mu.Lock()
		d.manualUntil = time.Time{}
		d.mu.Unlock()
	})
}

// ClearManualAction lifts the manual-action block immediately.
func (d *GeolocateDebouncer) ClearManualAction() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manualUntil = time.Time{}
	if d.manualTimer != nil {
		d.manualTimer.Stop()
		d.manualTimer = nil
	}
}

// ManualActionActive reports whether the manual-action block is set.
func (d *GeolocateDebouncer) ManualActionActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Before(d.manualUntil)
}

// AutomaticUpdateInProgress reports whether any event type is mid-execution.
// Manual-action paths check this to avoid racing forwarded updates.
func (d *GeolocateDebouncer) AutomaticUpdateInProgress() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, st := range d.types {
		if st.inProgress {
			return true
		}
	}
	return false
}

// History returns the recorded fate of recent events of one type,
// oldest first.
func (d *GeolocateDebouncer) History(t EventType) []HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.types[t]
	if st == nil {
		return nil
	}
	return st.history.list()
}

// ActiveTimers counts armed debounce timers across event types.
func (d *GeolocateDebouncer) ActiveTimers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, st := range d.types {
		if st.timer != nil {
			n++
		}
	}
	return n
}

// ClearAllTimeouts is the emergency reset: every pending timer is
// cancelled without executing, pending events are discarded, and all
// flags, cooldowns, and burst windows are cleared. Histories survive as
// the post-mortem record.
func (d *GeolocateDebouncer) ClearAllTimeouts() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, st := range d.types {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		if st.inProgressTimer != nil {
			st.inProgressTimer.Stop()
			st.inProgressTimer = nil
		}
		st.pending = nil
		st.inProgress = false
		st.lastExecuted = time.Time{}
		st.burst.reset()
	}
	d.manualUntil = time.Time{}
	if d.manualTimer != nil {
		d.manualTimer.Stop()
		d.manualTimer = nil
	}
	d.lastTransition = time.Time{}
	d.log.Info().Msg("geolocate debouncer reset, all timers cancelled")
}
