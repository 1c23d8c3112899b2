// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package hub fans events out to live subscribers.
//
// Events enter through the in-process bus, are serialized exactly once, and
// are enqueued to every subscriber the registry resolves for their scope.
// Delivery to one subscriber never blocks delivery to another: a subscriber
// whose buffer is full is dropped and unregistered, and reconnects with a
// fresh state fetch.
package hub

import (
	"context"
	"sort"
	"time"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/registry"
)

// DefaultQueueSize is the hub's inbound event buffer.
const DefaultQueueSize = 256

// Hub owns the fan-out loop. All delivery happens on the single goroutine
// running RunWithContext, so per-connection ordering follows publish order.
type Hub struct {
	reg    *registry.Registry
	events chan *event.Event
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize overrides the inbound event buffer size.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.events = make(chan *event.Event, n)
		}
	}
}

// New creates a hub delivering to subscribers in reg.
func New(reg *registry.Registry, opts ...Option) *Hub {
	h := &Hub{
		reg:    reg,
		events: make(chan *event.Event, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish enqueues an event for fan-out. Blocks only when the hub queue is
// full, and then respects ctx cancellation.
func (h *Hub) Publish(ctx context.Context, e *event.Event) error {
	select {
	case h.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunWithContext runs the fan-out loop until ctx is canceled, then closes
// every subscriber and returns ctx.Err(). Designed for suture supervision.
//
// Selection is priority based: cancellation is always checked before the
// next event so shutdown never loses to a busy queue.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case e := <-h.events:
			h.fanout(ctx, e)
		}
	}
}

// fanout resolves the event's scope and enqueues the serialized frame to
// every resolved subscriber, in ascending connection ID order.
func (h *Hub) fanout(ctx context.Context, e *event.Event) {
	start := time.Now()
	scopeKind := string(e.Scope.Kind)
	metrics.RecordPublish(string(e.Kind), scopeKind)

	frame, err := event.EncodeFrame(e)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("encode_failed").Inc()
		logging.Error().Err(err).
			Str("event_id", e.ID).
			Str("kind", string(e.Kind)).
			Msg("event frame encoding failed")
		return
	}

	subs, err := h.reg.Resolve(ctx, e.Scope)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("resolve_failed").Inc()
		logging.Error().Err(err).
			Str("event_id", e.ID).
			Str("scope", e.Scope.String()).
			Msg("scope resolution failed, event not delivered")
		return
	}

	// Deterministic delivery order. Connection IDs are monotonic, so older
	// connections are served first.
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })

	delivered := 0
	var dropped []*registry.Subscriber
	for _, s := range subs {
		if s.Offer(frame) {
			delivered++
		} else {
			dropped = append(dropped, s)
		}
	}

	// A full buffer means the consumer stopped draining. Drop it; the client
	// reconnects and refetches state.
	for _, s := range dropped {
		logging.Warn().
			Uint64("connection_id", s.ID()).
			Int64("user_id", s.UserID()).
			Msg("dropping slow consumer")
		h.reg.Unregister(s)
	}

	metrics.RecordFanout(scopeKind, len(subs), delivered, len(dropped), time.Since(start))

	logging.Debug().
		Str("event_id", e.ID).
		Str("kind", string(e.Kind)).
		Str("scope", e.Scope.String()).
		Int("resolved", len(subs)).
		Int("delivered", delivered).
		Msg("event fanned out")
}

// shutdown drains nothing and closes every subscriber. Undelivered queued
// events are intentionally discarded; clients refetch on reconnect.
func (h *Hub) shutdown(ctx context.Context) {
	closed := h.reg.Len()
	h.reg.CloseAll()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "event-hub").
		Str("reason", reason).
		Int("subscribers_closed", closed).
		Msg("event hub stopped")
}

// QueueDepth reports the number of events waiting for fan-out.
func (h *Hub) QueueDepth() int { return len(h.events) }
