// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package debounce

import "time"

// slidingWindow counts events in a rolling time window using fixed
// buckets. Backs burst detection in the geolocate debouncer. Not safe for
// concurrent use on its own; the owning debouncer's mutex guards it.
type slidingWindow struct {
	buckets    []int
	bucketSize time.Duration
	current    int
	lastUpdate time.Time
}

func newSlidingWindow(window time.Duration, numBuckets int) *slidingWindow {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if window <= 0 {
		window = 5 * time.Second
	}
	return &slidingWindow{
		buckets:    make([]int, numBuckets),
		bucketSize: window / time.Duration(numBuckets),
		lastUpdate: time.Now(),
	}
}

// advance rotates the ring forward to now, zeroing expired buckets.
func (w *slidingWindow) advance(now time.Time) {
	elapsed := now.Sub(w.lastUpdate)
	if elapsed < w.bucketSize {
		return
	}
	steps := int(elapsed / w.bucketSize)
	if steps >= len(w.buckets) {
		for i := range w.buckets {
			w.buckets[i] = 0
		}
	} else {
		for i := 0; i < steps; i++ {
			w.current = (w.current + 1) % len(w.buckets)
			w.buckets[w.current] = 0
		}
	}
	// Keep the sub-bucket remainder so frequent advances do not stretch
	// the effective window.
	w.lastUpdate = w.lastUpdate.Add(time.Duration(steps) * w.bucketSize)
}

// increment records one event and returns the current window count.
func (w *slidingWindow) increment(now time.Time) int {
	w.advance(now)
	w.buckets[w.current]++
	return w.count()
}

// count sums the live buckets.
func (w *slidingWindow) count() int {
	total := 0
	for _, b := range w.buckets {
		total += b
	}
	return total
}

// reset clears all buckets.
func (w *slidingWindow) reset() {
	for i := range w.buckets {
		w.buckets[i] = 0
	}
}
