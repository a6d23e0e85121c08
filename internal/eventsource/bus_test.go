// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package eventsource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/debounce"
)

type handlerRecorder struct {
	mu     sync.Mutex
	events []debounce.Event
}

func (h *handlerRecorder) Handle(evt debounce.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return true
}

func (h *handlerRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *handlerRecorder) first() debounce.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[0]
}

func startSubscriber(t *testing.T, cfg SubscriberConfig, h EventHandler) *Bus {
	t.Helper()
	bus := NewBus("", 16, zerolog.Nop())
	sub := NewSubscriber(cfg, bus, h, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = bus.Close()
	})

	// Give the subscription a moment to attach before publishing.
	time.Sleep(20 * time.Millisecond)
	return bus
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestPublishReachesHandler(t *testing.T) {
	h := &handlerRecorder{}
	bus := startSubscriber(t, SubscriberConfig{}, h)

	evt := debounce.Event{
		Type:      debounce.EventGeolocate,
		UserID:    "u1",
		Enabled:   true,
		Source:    "map-control",
		Timestamp: time.Now().Truncate(time.Millisecond),
	}
	if err := bus.Publish(evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !waitFor(t, time.Second, func() bool { return h.count() == 1 }) {
		t.Fatal("event never reached handler")
	}
	got := h.first()
	if got.Type != evt.Type || got.UserID != evt.UserID || !got.Enabled {
		t.Errorf("decoded event = %+v", got)
	}
}

func TestMalformedEventsDropped(t *testing.T) {
	h := &handlerRecorder{}
	bus := startSubscriber(t, SubscriberConfig{}, h)

	// Missing type and user id.
	if err := bus.Publish(debounce.Event{Source: "test"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(debounce.Event{Type: debounce.EventGeolocate, UserID: "u1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !waitFor(t, time.Second, func() bool { return h.count() == 1 }) {
		t.Fatalf("handler calls = %d, want only the valid event", h.count())
	}
}

func TestRateLimiterShedsFlood(t *testing.T) {
	h := &handlerRecorder{}
	bus := startSubscriber(t, SubscriberConfig{RatePerSecond: 1, RateBurst: 2}, h)

	for i := 0; i < 10; i++ {
		if err := bus.Publish(debounce.Event{Type: debounce.EventGeolocate, UserID: "u1"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	// Burst of 2 passes immediately; the rest are shed, not queued.
	waitFor(t, 300*time.Millisecond, func() bool { return h.count() >= 2 })
	if got := h.count(); got > 3 {
		t.Errorf("handler calls = %d, want flood shed to the burst size", got)
	}
}

func TestBusDefaultTopic(t *testing.T) {
	bus := NewBus("", 1, zerolog.Nop())
	defer bus.Close()
	if bus.Topic() != DefaultTopic {
		t.Errorf("topic = %q, want %q", bus.Topic(), DefaultTopic)
	}
}
