// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package debounce contains the coordination core: three cooperating
// debouncers that tame noisy input streams before anything reaches the
// settings store.
//
//   - UpdateDebouncer batches per-user settings field edits (slider drags)
//     into single partial-update writes.
//   - EnabledDebouncer guards the single enable/disable toggle with a
//     cooldown and duplicate suppression.
//   - GeolocateDebouncer filters raw geolocation/map-control events
//     (state-aware skips, burst detection, per-type cooldowns) and forwards
//     survivors into the EnabledDebouncer.
//
// None of the debouncers perform I/O themselves; persistence goes through
// injected callbacks. Every public entry point returns an accepted/queued
// boolean instead of an error: dropped input is normal operation here,
// recorded in metrics and event history rather than surfaced as failures.
package debounce
