// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/settings"
)

// persistRecorder captures persist calls for assertions.
type persistRecorder struct {
	mu    sync.Mutex
	calls []settings.FieldUpdates
	fail  atomic.Int32 // number of upcoming calls to fail
}

func (p *persistRecorder) persist(_ context.Context, _ string, updates settings.FieldUpdates) error {
	if p.fail.Load() > 0 {
		p.fail.Add(-1)
		return errors.New("store unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make(settings.FieldUpdates, len(updates))
	for k, v := range updates {
		cp[k] = v
	}
	p.calls = append(p.calls, cp)
	return nil
}

func (p *persistRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *persistRecorder) last() settings.FieldUpdates {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func fastUpdateConfig() UpdateConfig {
	return UpdateConfig{
		BaseDelay:  30 * time.Millisecond,
		DelayStep:  5 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		RetryBase:  20 * time.Millisecond,
		MaxRetries: 3,
	}
}

func newTestUpdateDebouncer(rec *persistRecorder) (*UpdateDebouncer, *Collector) {
	m := NewCollector(nil)
	return NewUpdateDebouncer(fastUpdateConfig(), rec.persist, m, zerolog.Nop()), m
}

func TestUpdateDebounceCoalescesLastValue(t *testing.T) {
	rec := &persistRecorder{}
	d, _ := newTestUpdateDebouncer(rec)

	for _, v := range []int{5000, 6000, 7000} {
		if !d.Debounce("u1", settings.FieldMovement, v) {
			t.Fatal("debounce rejected a known field")
		}
	}

	time.Sleep(250 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Fatalf("persist calls = %d, want 1", got)
	}
	if v := rec.last()[settings.FieldMovement]; v != 7000 {
		t.Errorf("persisted movement = %v, want 7000 (last value wins)", v)
	}
}

func TestUpdateDebounceSliderDrag(t *testing.T) {
	rec := &persistRecorder{}
	d, _ := newTestUpdateDebouncer(rec)

	// Three slider positions, each within the debounce window of the last.
	for _, v := range []float64{100, 150, 200} {
		d.Debounce("u1", settings.FieldMovementThreshold, v)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(250 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Fatalf("persist calls = %d, want exactly 1", got)
	}
	if v := rec.last()[settings.FieldMovementThreshold]; v != 200.0 {
		t.Errorf("persisted threshold = %v, want 200", v)
	}
}

func TestUpdateDebounceBatchesFields(t *testing.T) {
	rec := &persistRecorder{}
	d, m := newTestUpdateDebouncer(rec)

	d.Debounce("u1", settings.FieldMovement, 8000)
	d.Debounce("u1", settings.FieldInitialization, 20000)
	d.Debounce("u1", settings.FieldMovementThreshold, 120.0)

	time.Sleep(250 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Fatalf("persist calls = %d, want 1 combined flush", got)
	}
	if got := len(rec.last()); got != 3 {
		t.Errorf("flushed fields = %d, want 3", got)
	}
	if saved := m.SnapshotCounters().DBCallsSaved; saved != 2 {
		t.Errorf("db calls saved = %d, want batchsize-1 = 2", saved)
	}
}

func TestUpdateDebounceIndependentUsers(t *testing.T) {
	rec := &persistRecorder{}
	d, _ := newTestUpdateDebouncer(rec)

	d.Debounce("u1", settings.FieldMovement, 5000)
	d.Debounce("u2", settings.FieldMovement, 9000)

	time.Sleep(250 * time.Millisecond)

	if got := rec.count(); got != 2 {
		t.Errorf("persist calls = %d, want one per user", got)
	}
}

func TestUpdateDebounceRetryPreservesBatch(t *testing.T) {
	rec := &persistRecorder{}
	rec.fail.Store(2)
	d, m := newTestUpdateDebouncer(rec)

	d.Debounce("u1", settings.FieldMovement, 6000)

	// First attempt and first retry fail; the second retry succeeds.
	time.Sleep(400 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Fatalf("persist successes = %d, want 1 after retries", got)
	}
	if v := rec.last()[settings.FieldMovement]; v != 6000 {
		t.Errorf("batch lost across retries: movement = %v", v)
	}
	snap := m.SnapshotCounters()
	if snap.FlushFailures != 2 {
		t.Errorf("flush failures = %d, want 2", snap.FlushFailures)
	}
	if snap.TerminalFailures != 0 {
		t.Errorf("terminal failures = %d, want 0", snap.TerminalFailures)
	}
}

func TestUpdateDebounceAbandonsAfterMaxRetries(t *testing.T) {
	rec := &persistRecorder{}
	rec.fail.Store(100)
	cfg := fastUpdateConfig()
	cfg.MaxRetries = 1
	m := NewCollector(nil)
	d := NewUpdateDebouncer(cfg, rec.persist, m, zerolog.Nop())

	d.Debounce("u1", settings.FieldMovement, 6000)

	time.Sleep(400 * time.Millisecond)

	if m.SnapshotCounters().TerminalFailures != 1 {
		t.Errorf("terminal failures = %d, want 1", m.SnapshotCounters().TerminalFailures)
	}
	if d.HasPending("u1") {
		t.Error("abandoned batch still pending")
	}
}

func TestUpdateDebounceSingleInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	slow := func(_ context.Context, _ string, _ settings.FieldUpdates) error {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	d := NewUpdateDebouncer(fastUpdateConfig(), slow, NewCollector(nil), zerolog.Nop())

	d.Debounce("u1", settings.FieldMovement, 1000)
	time.Sleep(60 * time.Millisecond) // first flush now in flight
	d.Debounce("u1", settings.FieldOuterDistance, 300.0)
	d.Debounce("u1", settings.FieldCardDistance, 40.0)

	time.Sleep(400 * time.Millisecond)

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent persists for one user = %d, want 1", maxInFlight.Load())
	}
	if d.HasPending("u1") {
		t.Error("fields queued during flight never flushed")
	}
}

func TestUpdateForceFlush(t *testing.T) {
	rec := &persistRecorder{}
	d, _ := newTestUpdateDebouncer(rec)

	d.Debounce("u1", settings.FieldMovement, 4000)
	if err := d.ForceFlush("u1"); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	if got := rec.count(); got != 1 {
		t.Errorf("persist calls = %d, want immediate flush", got)
	}
	if d.HasPending("u1") {
		t.Error("pending state survived force flush")
	}
}

func TestUpdateClearPending(t *testing.T) {
	rec := &persistRecorder{}
	d, _ := newTestUpdateDebouncer(rec)

	d.Debounce("u1", settings.FieldMovement, 4000)
	d.ClearPending("u1")

	time.Sleep(200 * time.Millisecond)

	if rec.count() != 0 {
		t.Error("cleared batch was still persisted")
	}
	if d.ActiveTimers() != 0 {
		t.Errorf("active timers = %d after clear", d.ActiveTimers())
	}
}

func TestUpdateRejectsUnknownField(t *testing.T) {
	rec := &persistRecorder{}
	d, _ := newTestUpdateDebouncer(rec)

	if d.Debounce("u1", settings.Field("bogus"), 1) {
		t.Error("unknown field accepted")
	}
}
