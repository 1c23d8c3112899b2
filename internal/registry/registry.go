// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package registry tracks the set of currently connected clients and resolves
// event scopes to the subscribers entitled to receive them.
//
// The registry is the single owner of Subscriber lifecycle: a subscriber is
// created by Register on connection open and destroyed by Unregister on close
// or timeout. Channel membership is an external read-only fact supplied by a
// Directory and evaluated at resolution time, so membership changes take
// effect for the next event, never retroactively.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
)

// ErrUnauthenticated is returned by Register when no authenticated identity
// is available. It is the only way Register fails.
var ErrUnauthenticated = errors.New("registry: unauthenticated")

// DefaultSendBuffer is the per-subscriber outbound frame buffer. A subscriber
// whose buffer is full when an event arrives is considered broken and dropped.
const DefaultSendBuffer = 256

// subscriberIDCounter generates unique, monotonically increasing subscriber
// IDs so iteration order can be made deterministic.
var subscriberIDCounter atomic.Uint64

// Subscriber is one live connection of one user. Owned exclusively by the
// Registry; transports drain Send and stop when it is closed.
type Subscriber struct {
	id           uint64
	userID       int64
	send         chan []byte
	openSince    time.Time
	lastActivity atomic.Int64 // unix nanoseconds
}

// ID returns the subscriber's unique connection identifier.
func (s *Subscriber) ID() uint64 { return s.id }

// UserID returns the owning user.
func (s *Subscriber) UserID() int64 { return s.userID }

// Send returns the outbound frame channel. It is closed on Unregister.
func (s *Subscriber) Send() <-chan []byte { return s.send }

// OpenSince returns when the connection was registered.
func (s *Subscriber) OpenSince() time.Time { return s.openSince }

// Touch records activity on the connection.
func (s *Subscriber) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns the time of the most recent Touch.
func (s *Subscriber) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Offer enqueues a frame without blocking. Returns false when the buffer is
// full, which the hub treats as a broken consumer.
func (s *Subscriber) Offer(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Registry holds all live subscribers. Mutations and scope resolution are
// serialized through one RWMutex; Resolve returns a snapshot copy so slow
// delivery never blocks registration.
type Registry struct {
	dir        Directory
	sendBuffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	byUser map[int64]map[uint64]*Subscriber

	// Presence hooks fire on a user's first live subscriber and after the
	// last one is gone. Invoked outside the registry lock.
	onUserOnline  func(userID int64)
	onUserOffline func(userID int64, lastSeen time.Time)
}

// Option configures a Registry.
type Option func(*Registry)

// WithSendBuffer overrides the per-subscriber outbound buffer size.
func WithSendBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.sendBuffer = n
		}
	}
}

// New creates a registry resolving channel scopes through dir.
func New(dir Directory, opts ...Option) *Registry {
	r := &Registry{
		dir:        dir,
		sendBuffer: DefaultSendBuffer,
		subs:       make(map[uint64]*Subscriber),
		byUser:     make(map[int64]map[uint64]*Subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPresenceHooks installs callbacks for derived presence. Must be called
// before the first Register.
func (r *Registry) SetPresenceHooks(online func(int64), offline func(int64, time.Time)) {
	r.onUserOnline = online
	r.onUserOffline = offline
}

// Register adds a live subscriber for userID. A second connection for the
// same user does not evict the first; both receive events (multi-tab).
// Fails only when no authenticated identity is available.
func (r *Registry) Register(userID int64) (*Subscriber, error) {
	if userID <= 0 {
		return nil, ErrUnauthenticated
	}

	s := &Subscriber{
		id:        subscriberIDCounter.Add(1),
		userID:    userID,
		send:      make(chan []byte, r.sendBuffer),
		openSince: time.Now(),
	}
	s.Touch()

	r.mu.Lock()
	r.subs[s.id] = s
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[uint64]*Subscriber)
		r.byUser[userID] = conns
	}
	first := len(conns) == 0
	conns[s.id] = s
	total := len(r.subs)
	r.mu.Unlock()

	metrics.SubscribersConnected.Set(float64(total))
	logging.Info().
		Uint64("connection_id", s.id).
		Int64("user_id", userID).
		Int("total_subscribers", total).
		Msg("subscriber registered")

	if first && r.onUserOnline != nil {
		r.onUserOnline(userID)
	}
	return s, nil
}

// Unregister removes a subscriber and closes its send channel. Idempotent.
func (r *Registry) Unregister(s *Subscriber) {
	if s == nil {
		return
	}

	r.mu.Lock()
	if _, ok := r.subs[s.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, s.id)
	conns := r.byUser[s.userID]
	delete(conns, s.id)
	last := len(conns) == 0
	if last {
		delete(r.byUser, s.userID)
	}
	total := len(r.subs)
	close(s.send)
	r.mu.Unlock()

	metrics.SubscribersConnected.Set(float64(total))
	logging.Info().
		Uint64("connection_id", s.id).
		Int64("user_id", s.userID).
		Int("total_subscribers", total).
		Msg("subscriber unregistered")

	if last && r.onUserOffline != nil {
		r.onUserOffline(s.userID, time.Now().UTC())
	}
}

// Resolve returns the subscribers entitled to an event with the given scope,
// evaluated against current membership. A scope with zero current members is
// not an error; the result is simply empty.
func (r *Registry) Resolve(ctx context.Context, scope event.Scope) ([]*Subscriber, error) {
	switch scope.Kind {
	case event.ScopeBroadcast:
		return r.snapshotAll(), nil

	case event.ScopeUser:
		return r.snapshotUsers(scope.UserID), nil

	case event.ScopeDirect:
		return r.snapshotUsers(scope.UserA, scope.UserB), nil

	case event.ScopeChannel:
		members, err := r.dir.ChannelMembers(ctx, scope.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", scope, err)
		}
		return r.snapshotUsers(members...), nil

	default:
		return nil, fmt.Errorf("resolve: unknown scope kind %q", scope.Kind)
	}
}

// snapshotAll copies every live subscriber under a read lock.
func (r *Registry) snapshotAll() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// snapshotUsers copies the live subscribers of the given users.
func (r *Registry) snapshotUsers(userIDs ...int64) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscriber
	for _, id := range userIDs {
		for _, s := range r.byUser[id] {
			out = append(out, s)
		}
	}
	return out
}

// UserOnline reports whether at least one live subscriber exists for userID.
func (r *Registry) UserOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the users with at least one live subscriber.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	return out
}

// Len returns the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CloseAll unregisters every subscriber. Called at server shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshotAll() {
		r.Unregister(s)
	}
}
