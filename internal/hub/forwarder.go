// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package hub

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
)

// Forwarder bridges the bus to the hub: it consumes the chat stream, decodes
// each message back into an event, and hands it to the fan-out loop.
//
// Malformed messages are acked and dropped; one bad producer must not wedge
// the stream for everyone else.
type Forwarder struct {
	bus   *Bus
	hub   *Hub
	ready chan struct{}
	once  sync.Once
}

// NewForwarder creates a forwarder from bus to hub.
func NewForwarder(bus *Bus, hub *Hub) *Forwarder {
	return &Forwarder{bus: bus, hub: hub, ready: make(chan struct{})}
}

// Ready is closed once the forwarder has subscribed to the bus. Events
// published before that point are not seen.
func (f *Forwarder) Ready() <-chan struct{} { return f.ready }

// Serve consumes the chat stream until ctx is canceled. Implements
// suture.Service.
func (f *Forwarder) Serve(ctx context.Context) error {
	msgs, err := f.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	f.once.Do(func() { close(f.ready) })

	logging.Info().Str("topic", Topic).Msg("event forwarder started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "event-forwarder").Msg("event forwarder stopped")
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				logging.Info().Str("component", "event-forwarder").Msg("bus closed, forwarder stopping")
				return ctx.Err()
			}

			var e event.Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				metrics.EventsDropped.WithLabelValues("encode_failed").Inc()
				logging.Error().Err(err).
					Str("message_id", msg.UUID).
					Msg("discarding undecodable bus message")
				msg.Ack()
				continue
			}

			if err := f.hub.Publish(ctx, &e); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}

// String identifies the forwarder in supervisor logs.
func (f *Forwarder) String() string { return "event-forwarder" }
