// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package debounce

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns all debounce metrics. It is an explicit struct passed to
// each debouncer rather than package-level counters, so tests get isolated
// instances and ResetMetrics cannot leak across them.
//
// Prometheus counters are monotonic by contract and are never reset; the
// atomic snapshot counters back the diagnostics API and are the ones
// zeroed by Reset.
type Collector struct {
	updatesTotal *prometheus.CounterVec
	flushesTotal *prometheus.CounterVec
	blockedTotal *prometheus.CounterVec
	callsSaved   prometheus.Counter

	updatesQueued    atomic.Int64
	flushes          atomic.Int64
	flushFailures    atomic.Int64
	terminalFailures atomic.Int64
	fieldsFlushed    atomic.Int64
	dbCallsSaved     atomic.Int64
	cooldownBlocks   atomic.Int64
	duplicateBlocks  atomic.Int64
	eventsFiltered   atomic.Int64
	burstsDropped    atomic.Int64
	eventsForwarded  atomic.Int64
}

// Snapshot is a point-in-time copy of the internal counters.
type Snapshot struct {
	UpdatesQueued    int64 `json:"updates_queued"`
	Flushes          int64 `json:"flushes"`
	FlushFailures    int64 `json:"flush_failures"`
	TerminalFailures int64 `json:"terminal_failures"`
	FieldsFlushed    int64 `json:"fields_flushed"`
	DBCallsSaved     int64 `json:"db_calls_saved"`
	CooldownBlocks   int64 `json:"cooldown_blocks"`
	DuplicateBlocks  int64 `json:"duplicate_blocks"`
	EventsFiltered   int64 `json:"events_filtered"`
	BurstsDropped    int64 `json:"bursts_dropped"`
	EventsForwarded  int64 `json:"events_forwarded"`
}

// Block reasons used with the blocked counter.
const (
	BlockReasonCooldown   = "cooldown"
	BlockReasonDuplicate  = "duplicate"
	BlockReasonManual     = "manual_action"
	BlockReasonInProgress = "in_progress"
	BlockReasonState      = "state"
	BlockReasonBurst      = "burst"
)

// NewCollector creates a Collector registered on reg. A nil reg registers
// nothing (useful in tests that only need the snapshot counters).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		updatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_debounce_updates_total",
			Help: "Update requests accepted by a debouncer",
		}, []string{"debouncer"}),
		flushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_debounce_flushes_total",
			Help: "Persistence flushes attempted by a debouncer",
		}, []string{"debouncer", "result"}),
		blockedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proximity_debounce_blocked_total",
			Help: "Requests dropped before queuing",
		}, []string{"debouncer", "reason"}),
		callsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "proximity_debounce_db_calls_saved_total",
			Help: "Writes avoided by batching multiple fields into one flush",
		}),
	}
}

// UpdateQueued records an accepted update request.
func (c *Collector) UpdateQueued(debouncer string) {
	c.updatesQueued.Add(1)
	c.updatesTotal.WithLabelValues(debouncer).Inc()
}

// FlushSucceeded records a successful flush of n fields. Batching more
// than one field into a single write counts the excess as saved calls.
func (c *Collector) FlushSucceeded(debouncer string, fields int) {
	c.flushes.Add(1)
	c.fieldsFlushed.Add(int64(fields))
	c.flushesTotal.WithLabelValues(debouncer, "success").Inc()
	if fields > 1 {
		saved := int64(fields - 1)
		c.dbCallsSaved.Add(saved)
		c.callsSaved.Add(float64(saved))
	}
}

// FlushFailed records a failed flush attempt.
func (c *Collector) FlushFailed(debouncer string) {
	c.flushFailures.Add(1)
	c.flushesTotal.WithLabelValues(debouncer, "failure").Inc()
}

// TerminalFailure records a batch abandoned after exhausting retries.
func (c *Collector) TerminalFailure(debouncer string) {
	c.terminalFailures.Add(1)
	c.flushesTotal.WithLabelValues(debouncer, "terminal").Inc()
}

// Blocked records a request dropped before queuing.
func (c *Collector) Blocked(debouncer, reason string) {
	c.blockedTotal.WithLabelValues(debouncer, reason).Inc()
	switch reason {
	case BlockReasonCooldown:
		c.cooldownBlocks.Add(1)
	case BlockReasonDuplicate:
		c.duplicateBlocks.Add(1)
	case BlockReasonBurst:
		c.burstsDropped.Add(1)
		c.eventsFiltered.Add(1)
	default:
		c.eventsFiltered.Add(1)
	}
}

// EventForwarded records a geolocate event handed to the enabled debouncer.
func (c *Collector) EventForwarded() {
	c.eventsForwarded.Add(1)
}

// SnapshotCounters returns a copy of the internal counters.
func (c *Collector) SnapshotCounters() Snapshot {
	return Snapshot{
		UpdatesQueued:    c.updatesQueued.Load(),
		Flushes:          c.flushes.Load(),
		FlushFailures:    c.flushFailures.Load(),
		TerminalFailures: c.terminalFailures.Load(),
		FieldsFlushed:    c.fieldsFlushed.Load(),
		DBCallsSaved:     c.dbCallsSaved.Load(),
		CooldownBlocks:   c.cooldownBlocks.Load(),
		DuplicateBlocks:  c.duplicateBlocks.Load(),
		EventsFiltered:   c.eventsFiltered.Load(),
		BurstsDropped:    c.burstsDropped.Load(),
		EventsForwarded:  c.eventsForwarded.Load(),
	}
}

// Reset zeroes the internal snapshot counters. Prometheus series are left
// untouched.
func (c *Collector) Reset() {
	c.updatesQueued.Store(0)
	c.flushes.Store(0)
	c.flushFailures.Store(0)
	c.terminalFailures.Store(0)
	c.fieldsFlushed.Store(0)
	c.dbCallsSaved.Store(0)
	c.cooldownBlocks.Store(0)
	c.duplicateBlocks.Store(0)
	c.eventsFiltered.Store(0)
	c.burstsDropped.Store(0)
	c.eventsForwarded.Store(0)
}
