// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package eventsource

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wanderline/proximity/internal/debounce"
)

// EventHandler consumes decoded control events. Satisfied by
// *debounce.GeolocateDebouncer.
type EventHandler interface {
	Handle(evt debounce.Event) bool
}

// SubscriberConfig tunes the bus consumer.
type SubscriberConfig struct {
	// RatePerSecond and RateBurst bound how fast events are handed to the
	// debouncer. Events over the limit are shed, not queued; the
	// debouncer's own burst detection handles sustained floods, this
	// limiter only protects against a runaway producer.
	RatePerSecond float64
	RateBurst     int
}

func (c *SubscriberConfig) applyDefaults() {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 50
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 100
	}
}

// Subscriber drains the bus into the geolocate debouncer. It implements
// suture.Service and runs under the supervision tree.
type Subscriber struct {
	bus     *Bus
	handler EventHandler
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewSubscriber wires the bus to the event handler.
func NewSubscriber(cfg SubscriberConfig, bus *Bus, handler EventHandler, log zerolog.Logger) *Subscriber {
	cfg.applyDefaults()
	return &Subscriber{
		bus:     bus,
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		log:     log,
	}
}

// Serve consumes bus messages until the context is cancelled. Malformed
// payloads are acked and dropped; the bus is not a retry queue.
func (s *Subscriber) Serve(ctx context.Context) error {
	messages, err := s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.bus.Topic(), err)
	}
	s.log.Info().Str("topic", s.bus.Topic()).Msg("control event subscriber started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.process(msg)
		}
	}
}

func (s *Subscriber) process(msg *message.Message) {
	defer msg.Ack()

	if !s.limiter.Allow() {
		s.log.Warn().Str("message_uuid", msg.UUID).Msg("control event shed by rate limiter")
		return
	}

	var evt debounce.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		s.log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("malformed control event dropped")
		return
	}
	if evt.Type == "" || evt.UserID == "" {
		s.log.Warn().Str("message_uuid", msg.UUID).Msg("control event missing type or user, dropped")
		return
	}

	queued := s.handler.Handle(evt)
	s.log.Trace().Str("type", string(evt.Type)).Str("user_id", evt.UserID).
		Bool("queued", queued).Msg("control event processed")
}

func (s *Subscriber) String() string {
	return "eventsource.Subscriber"
}
