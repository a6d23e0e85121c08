// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package diagnostics aggregates health, metrics, and debug state from the
// validation, recovery, and debounce components into one surface for the
// ops API. It owns no coordination state of its own; every snapshot is
// computed on demand from the live components.
package diagnostics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/debounce"
	"github.com/wanderline/proximity/internal/settings"
)

// Health check thresholds. Crossing any of them flips the overall health
// boolean and contributes an issue string.
const (
	minValidationSuccessRate = 0.90
	maxActiveTimers          = 50
	maxPendingOperations     = 100
)

// HealthStatus is the aggregate health verdict with human-readable issues.
type HealthStatus struct {
	Healthy               bool                    `json:"healthy"`
	Issues                []string                `json:"issues,omitempty"`
	ValidationSuccessRate float64                 `json:"validation_success_rate"`
	Recovery              settings.RecoveryHealth `json:"recovery"`
	ActiveTimers          int                     `json:"active_timers"`
	PendingOperations     int                     `json:"pending_operations"`
	BreakerState          string                  `json:"breaker_state"`
	CheckedAt             time.Time               `json:"checked_at"`
}

// DebugInfo is the full state dump behind GET /api/v1/debug.
type DebugInfo struct {
	Counters       debounce.Snapshot                              `json:"counters"`
	Health         HealthStatus                                   `json:"health"`
	PendingUpdates map[string][]string                            `json:"pending_updates"`
	EventHistory   map[debounce.EventType][]debounce.HistoryEntry `json:"event_history"`
	ManualAction   bool                                           `json:"manual_action_active"`
	GeneratedAt    time.Time                                      `json:"generated_at"`
}

// Aggregator is the observability facade over the coordination components.
// Construct one per process and share it with the API layer.
type Aggregator struct {
	metrics   *debounce.Collector
	recoverer *settings.Recoverer
	updates   *debounce.UpdateDebouncer
	enabled   *debounce.EnabledDebouncer
	geolocate *debounce.GeolocateDebouncer

	validationRuns   atomic.Int64
	validationPasses atomic.Int64

	log zerolog.Logger
}

// New wires the aggregator to the live components it reports on.
func New(metrics *debounce.Collector, recoverer *settings.Recoverer,
	updates *debounce.UpdateDebouncer, enabled *debounce.EnabledDebouncer,
	geolocate *debounce.GeolocateDebouncer, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		metrics:   metrics,
		recoverer: recoverer,
		updates:   updates,
		enabled:   enabled,
		geolocate: geolocate,
		log:       log,
	}
}

// RecordValidation feeds one validation outcome into the success-rate
// tracker. Callers invoke this alongside settings.ValidateRanges.
func (a *Aggregator) RecordValidation(valid bool) {
	a.validationRuns.Add(1)
	if valid {
		a.validationPasses.Add(1)
	}
}

// ValidationSuccessRate reports the fraction of recorded validations that
// passed. With no recorded runs the rate is 1.0.
func (a *Aggregator) ValidationSuccessRate() float64 {
	runs := a.validationRuns.Load()
	if runs == 0 {
		return 1.0
	}
	return float64(a.validationPasses.Load()) / float64(runs)
}

func (a *Aggregator) activeTimers() int {
	return a.updates.ActiveTimers() + a.enabled.ActiveTimers() + a.geolocate.ActiveTimers()
}

func (a *Aggregator) pendingOperations() int {
	total := 0
	for _, fields := range a.updates.PendingOverview() {
		total += len(fields)
	}
	return total
}

// Health computes the overall verdict from threshold checks across all
// components.
func (a *Aggregator) Health() HealthStatus {
	status := HealthStatus{
		ValidationSuccessRate: a.ValidationSuccessRate(),
		Recovery:              a.recoverer.Health(),
		ActiveTimers:          a.activeTimers(),
		PendingOperations:     a.pendingOperations(),
		BreakerState:          a.updates.BreakerState(),
		CheckedAt:             time.Now(),
	}

	if status.ValidationSuccessRate < minValidationSuccessRate {
		status.Issues = append(status.Issues,
			fmt.Sprintf("validation success rate %.0f%% below %.0f%% threshold",
				status.ValidationSuccessRate*100, minValidationSuccessRate*100))
	}
	if status.ActiveTimers > maxActiveTimers {
		status.Issues = append(status.Issues,
			fmt.Sprintf("%d active timers exceeds limit of %d, possible timer leak",
				status.ActiveTimers, maxActiveTimers))
	}
	if status.PendingOperations > maxPendingOperations {
		status.Issues = append(status.Issues,
			fmt.Sprintf("%d pending operations exceeds limit of %d, persistence may be stalled",
				status.PendingOperations, maxPendingOperations))
	}
	if terminal := a.metrics.SnapshotCounters().TerminalFailures; terminal > 0 {
		status.Issues = append(status.Issues,
			fmt.Sprintf("%d batches abandoned after exhausting persistence retries", terminal))
	}

	status.Healthy = len(status.Issues) == 0
	return status
}

// Metrics returns the current counter snapshot.
func (a *Aggregator) Metrics() debounce.Snapshot {
	return a.metrics.SnapshotCounters()
}

// Debug assembles the full state dump for the debug endpoint.
func (a *Aggregator) Debug() DebugInfo {
	history := make(map[debounce.EventType][]debounce.HistoryEntry, len(debounce.EventTypes))
	for _, t := range debounce.EventTypes {
		if entries := a.geolocate.History(t); len(entries) > 0 {
			history[t] = entries
		}
	}
	return DebugInfo{
		Counters:       a.metrics.SnapshotCounters(),
		Health:         a.Health(),
		PendingUpdates: a.updates.PendingOverview(),
		EventHistory:   history,
		ManualAction:   a.geolocate.ManualActionActive(),
		GeneratedAt:    time.Now(),
	}
}

// EmergencyBrake discards all scheduled work for the coordination layer:
// event timers across every type, plus any pending batch for the given
// user. Persisted settings are untouched.
func (a *Aggregator) EmergencyBrake(userID string) {
	a.log.Warn().Str("user_id", userID).Msg("emergency brake engaged")
	a.geolocate.ClearAllTimeouts()
	a.updates.ClearPending(userID)
	a.enabled.ClearPending(userID)
}

// ResetMetrics zeroes the snapshot counters, the validation success-rate
// tracker, and the recovery attempt state. Persisted settings and pending
// debounce work are untouched.
func (a *Aggregator) ResetMetrics() {
	a.metrics.Reset()
	a.recoverer.Reset()
	a.validationRuns.Store(0)
	a.validationPasses.Store(0)
	a.log.Info().Msg("diagnostics counters reset")
}
