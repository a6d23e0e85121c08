// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// Package eventsource carries raw map-control events from their producers
// to the geolocate debouncer over an in-process Watermill pub/sub.
package eventsource

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/debounce"
)

// DefaultTopic is the control-event topic when configuration leaves it
// unset.
const DefaultTopic = "proximity.control-events"

// Bus is the in-process event channel between producers (HTTP ingest,
// simulators, the surrounding app) and the coordination core.
type Bus struct {
	pubsub *gochannel.GoChannel
	topic  string
}

// NewBus creates the in-process pub/sub with the given buffer per
// subscriber.
func NewBus(topic string, bufferSize int, log zerolog.Logger) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(bufferSize),
	}, NewWatermillLogger(log))
	return &Bus{pubsub: pubsub, topic: topic}
}

// Publish marshals one control event onto the bus.
func (b *Bus) Publish(evt debounce.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal control event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish control event: %w", err)
	}
	return nil
}

// Subscribe opens a message stream for the bus topic.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, b.topic)
}

// Topic returns the configured topic name.
func (b *Bus) Topic() string {
	return b.topic
}

// Close shuts the pub/sub down; in-flight subscribers see their channels
// closed.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
