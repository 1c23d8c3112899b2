// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package presence derives user presence from connection state.
//
// Presence is not stored truth: a user is online while they hold at least
// one live connection, offline otherwise, and busy only by their own choice
// while online. Server restarts therefore reset presence for free; clients
// rebuild their view from the presence events that follow reconnection.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/hub"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/registry"
)

// Typing notices are throttled per user: one notice per interval, no burst
// beyond one. Receivers keep indicators alive locally, so dropping the
// excess costs nothing.
const typingInterval = 500 * time.Millisecond

// Tracker publishes presence and typing events onto the bus.
type Tracker struct {
	reg *registry.Registry
	bus *hub.Bus
	dir registry.Directory

	mu       sync.Mutex
	busy     map[int64]bool
	lastSeen map[int64]time.Time
	typing   map[int64]*rate.Limiter
}

// NewTracker creates a tracker and installs its connection hooks on reg.
// Must be called before the registry accepts connections.
func NewTracker(reg *registry.Registry, bus *hub.Bus, dir registry.Directory) *Tracker {
	t := &Tracker{
		reg:      reg,
		bus:      bus,
		dir:      dir,
		busy:     make(map[int64]bool),
		lastSeen: make(map[int64]time.Time),
		typing:   make(map[int64]*rate.Limiter),
	}
	reg.SetPresenceHooks(t.userOnline, t.userOffline)
	return t
}

// Status returns the derived presence of a user.
func (t *Tracker) Status(userID int64) event.PresenceStatus {
	if !t.reg.UserOnline(userID) {
		return event.PresenceOffline
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy[userID] {
		return event.PresenceBusy
	}
	return event.PresenceOnline
}

// LastSeen returns when the user's last connection closed. Zero for users
// never seen or currently online.
func (t *Tracker) LastSeen(userID int64) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen[userID]
}

// SetStatus records a user-chosen status. Only online and busy can be
// chosen; offline is always derived from connection state. The resulting
// status is broadcast when it changes the user's visible presence.
func (t *Tracker) SetStatus(ctx context.Context, userID int64, status event.PresenceStatus) error {
	if status != event.PresenceOnline && status != event.PresenceBusy {
		return fmt.Errorf("presence: status %q cannot be set manually", status)
	}

	t.mu.Lock()
	was := t.busy[userID]
	t.busy[userID] = status == event.PresenceBusy
	changed := was != t.busy[userID]
	t.mu.Unlock()

	if !changed || !t.reg.UserOnline(userID) {
		return nil
	}
	return t.publish(ctx, userID, status, time.Time{})
}

// Typing publishes a typing notice for the user into a conversation scope.
// Excess notices are throttled away; the caller treats both outcomes as
// success.
func (t *Tracker) Typing(ctx context.Context, user event.UserRef, conversationID int64, scope event.Scope) error {
	if !t.limiter(user.UserID).Allow() {
		metrics.TypingNotices.WithLabelValues("throttled").Inc()
		return nil
	}

	e, err := event.New(event.KindTyping, scope, event.TypingPayload{
		ConversationID: conversationID,
		User:           user,
	})
	if err != nil {
		return fmt.Errorf("presence: typing event: %w", err)
	}
	if err := t.bus.Publish(e); err != nil {
		return fmt.Errorf("presence: publish typing: %w", err)
	}
	metrics.TypingNotices.WithLabelValues("published").Inc()
	return nil
}

// userOnline fires on a user's first live connection.
func (t *Tracker) userOnline(userID int64) {
	status := event.PresenceOnline
	t.mu.Lock()
	if t.busy[userID] {
		status = event.PresenceBusy
	}
	delete(t.lastSeen, userID)
	t.mu.Unlock()

	if err := t.publish(context.Background(), userID, status, time.Time{}); err != nil {
		logging.Error().Err(err).Int64("user_id", userID).Msg("online presence publish failed")
	}
	metrics.UsersOnline.Set(float64(len(t.reg.OnlineUsers())))
}

// userOffline fires after a user's last connection closed.
func (t *Tracker) userOffline(userID int64, lastSeen time.Time) {
	t.mu.Lock()
	t.lastSeen[userID] = lastSeen
	t.mu.Unlock()

	if err := t.publish(context.Background(), userID, event.PresenceOffline, lastSeen); err != nil {
		logging.Error().Err(err).Int64("user_id", userID).Msg("offline presence publish failed")
	}
	metrics.UsersOnline.Set(float64(len(t.reg.OnlineUsers())))
}

// publish broadcasts one presence transition.
func (t *Tracker) publish(ctx context.Context, userID int64, status event.PresenceStatus, lastSeen time.Time) error {
	e, err := event.New(event.KindPresence, event.BroadcastScope(), event.PresencePayload{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
	})
	if err != nil {
		return fmt.Errorf("presence event: %w", err)
	}
	if err := t.bus.Publish(e); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	metrics.PresenceTransitions.WithLabelValues(string(status)).Inc()
	return nil
}

// limiter returns the user's typing limiter, creating it on first use.
func (t *Tracker) limiter(userID int64) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.typing[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(typingInterval), 1)
		t.typing[userID] = l
	}
	return l
}

// sweep drops idle typing limiters and stale last-seen entries.
func (t *Tracker) sweep(retention time.Duration) (removed int) {
	cutoff := time.Now().Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()
	for userID, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, userID)
			delete(t.typing, userID)
			delete(t.busy, userID)
			removed++
		}
	}
	return removed
}
