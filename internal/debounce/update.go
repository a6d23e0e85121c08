// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/wanderline/proximity/internal/settings"
)

// PersistFunc writes a partial settings update for one user. It is the
// only asynchronous operation in the coordination core; implementations
// must be safe for concurrent calls across different users.
type PersistFunc func(ctx context.Context, userID string, updates settings.FieldUpdates) error

// UpdateConfig tunes the settings-field batching debouncer.
type UpdateConfig struct {
	// BaseDelay is the quiet period after a single field change.
	// Default: 500ms
	BaseDelay time.Duration

	// DelayStep extends the delay per already-pending field, rewarding
	// rapid successive edits with fewer, larger writes. Default: 200ms
	DelayStep time.Duration

	// MaxDelay caps the adaptive delay. Default: 2s
	MaxDelay time.Duration

	// RetryBase seeds the doubling retry delay after a failed flush.
	// Default: 1s
	RetryBase time.Duration

	// MaxRetries bounds flush retries per batch; the batch is abandoned
	// afterwards and the user key is reported failed. Default: 5
	MaxRetries int

	// PersistTimeout bounds a single persistence call. Default: 5s
	PersistTimeout time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker around the persistence path. Default: 5
	BreakerThreshold uint32
}

func (c *UpdateConfig) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.DelayStep <= 0 {
		c.DelayStep = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
}

// pendingOp is one queued field change. A later change to the same field
// overwrites it; nothing is ever queued twice per field.
type pendingOp struct {
	value    any
	queuedAt time.Time
}

// userBatch is the per-user state machine: Idle -> Pending -> Flushing -> Idle.
type userBatch struct {
	fields   map[settings.Field]pendingOp
	timer    *time.Timer
	inFlight bool
	retries  int
}

// UpdateDebouncer batches settings field changes per user and persists
// them as single partial updates after a quiet period. For a given user at
// most one persist call is in flight at any time; changes arriving during
// a flight accumulate and flush afterwards.
type UpdateDebouncer struct {
	mu      sync.Mutex
	cfg     UpdateConfig
	persist PersistFunc
	users   map[string]*userBatch
	breaker *gobreaker.CircuitBreaker[any]
	metrics *Collector
	log     zerolog.Logger
}

const updateDebouncerName = "update"

// NewUpdateDebouncer creates the settings-field batching debouncer.
func NewUpdateDebouncer(cfg UpdateConfig, persist PersistFunc, metrics *Collector, log zerolog.Logger) *UpdateDebouncer {
	cfg.applyDefaults()
	d := &UpdateDebouncer{
		cfg:     cfg,
		persist: persist,
		users:   make(map[string]*userBatch),
		metrics: metrics,
		log:     log,
	}
	d.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:     "settings-persist",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("persistence circuit breaker state change")
		},
	})
	return d
}

// Debounce queues a single field change for the user and (re)starts the
// flush timer. Returns false only for unknown fields; everything else is
// accepted and eventually persisted.
func (d *UpdateDebouncer) Debounce(userID string, field settings.Field, value any) bool {
	if !settings.KnownField(field) {
		d.log.Warn().Str("user_id", userID).Str("field", string(field)).Msg("rejecting unknown settings field")
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.users[userID]
	if b == nil {
		b = &userBatch{fields: make(map[settings.Field]pendingOp)}
		d.users[userID] = b
	}
	b.fields[field] = pendingOp{value: value, queuedAt: time.Now()}
	d.metrics.UpdateQueued(updateDebouncerName)

	if b.inFlight {
		// The completion handler schedules the next flush.
		return true
	}

	d.scheduleLocked(userID, b, d.flushDelay(len(b.fields)))
	return true
}

// flushDelay grows with batch size so slider drags coalesce harder.
func (d *UpdateDebouncer) flushDelay(pendingCount int) time.Duration {
	delay := d.cfg.BaseDelay + time.Duration(pendingCount)*d.cfg.DelayStep
	if delay > d.cfg.MaxDelay {
		delay = d.cfg.MaxDelay
	}
	return delay
}

// scheduleLocked arms the flush timer. Caller holds d.mu.
func (d *UpdateDebouncer) scheduleLocked(userID string, b *userBatch, delay time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(delay, func() {
		// Failures are logged and rescheduled inside flush.
		_ = d.flush(userID)
	})
}

// ForceFlush cancels the timer and flushes the user's pending batch
// immediately. Used on dialog close and daemon shutdown.
func (d *UpdateDebouncer) ForceFlush(userID string) error {
	return d.flush(userID)
}

// FlushAll force-flushes every user with pending changes.
func (d *UpdateDebouncer) FlushAll() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.users))
	for id := range d.users {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.flush(id); err != nil {
			d.log.Error().Err(err).Str("user_id", id).Msg("flush on shutdown failed")
		}
	}
}

// flush executes one persist attempt for the user's current batch.
func (d *UpdateDebouncer) flush(userID string) error {
	d.mu.Lock()
	b := d.users[userID]
	if b == nil || b.inFlight || len(b.fields) == 0 {
		d.mu.Unlock()
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.fields
	b.fields = make(map[settings.Field]pendingOp)
	b.inFlight = true
	d.mu.Unlock()

	updates := make(settings.FieldUpdates, len(batch))
	for f, op := range batch {
		updates[f] = op.value
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistTimeout)
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.persist(ctx, userID, updates)
	})
	cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	b.inFlight = false

	if err != nil {
		d.metrics.FlushFailed(updateDebouncerName)
		b.retries++
		if b.retries > d.cfg.MaxRetries {
			// Terminal: abandon the batch rather than retrying forever.
			b.retries = 0
			d.metrics.TerminalFailure(updateDebouncerName)
			d.log.Error().Err(err).Str("user_id", userID).Int("fields", len(batch)).
				Msg("abandoning settings batch after exhausting retries")
			if len(b.fields) > 0 {
				// Edits that arrived during the failed flight start a
				// fresh batch with a fresh retry budget.
				d.scheduleLocked(userID, b, d.flushDelay(len(b.fields)))
			} else {
				d.cleanupLocked(userID, b)
			}
			return err
		}

		// Restore the batch without clobbering fields edited while the
		// failed persist was in flight.
		for f, op := range batch {
			if _, exists := b.fields[f]; !exists {
				b.fields[f] = op
			}
		}
		retryDelay := d.cfg.RetryBase << (b.retries - 1)
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
		d.log.Warn().Err(err).Str("user_id", userID).Int("attempt", b.retries).
			Dur("retry_in", retryDelay).Msg("settings flush failed, retrying")
		d.scheduleLocked(userID, b, retryDelay)
		return err
	}

	b.retries = 0
	d.metrics.FlushSucceeded(updateDebouncerName, len(updates))
	d.log.Debug().Str("user_id", userID).Int("fields", len(updates)).Msg("settings batch persisted")

	if len(b.fields) > 0 {
		d.scheduleLocked(userID, b, d.flushDelay(len(b.fields)))
	} else {
		d.cleanupLocked(userID, b)
	}
	return nil
}

// cleanupLocked drops an idle user entry. Caller holds d.mu.
func (d *UpdateDebouncer) cleanupLocked(userID string, b *userBatch) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.fields) == 0 && !b.inFlight {
		delete(d.users, userID)
	}
}

// ClearPending cancels the timer and discards the user's pending batch.
func (d *UpdateDebouncer) ClearPending(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.users[userID]
	if b == nil {
		return
	}
	b.fields = make(map[settings.Field]pendingOp)
	d.cleanupLocked(userID, b)
}

// HasPending reports whether the user has unflushed field changes.
func (d *UpdateDebouncer) HasPending(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.users[userID]
	return b != nil && (len(b.fields) > 0 || b.inFlight)
}

// PendingCount returns the number of unflushed fields for the user.
func (d *UpdateDebouncer) PendingCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b := d.users[userID]; b != nil {
		return len(b.fields)
	}
	return 0
}

// ActiveTimers counts users with an armed flush timer.
func (d *UpdateDebouncer) ActiveTimers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.users {
		if b.timer != nil {
			n++
		}
	}
	return n
}

// BreakerState reports the persistence circuit breaker state.
func (d *UpdateDebouncer) BreakerState() string {
	return d.breaker.State().String()
}

// PendingOverview lists pending field names per user for the debug API.
func (d *UpdateDebouncer) PendingOverview() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]string, len(d.users))
	for id, b := range d.users {
		fields := make([]string, 0, len(b.fields))
		for f := range b.fields {
			fields = append(fields, string(f))
		}
		out[id] = fields
	}
	return out
}
