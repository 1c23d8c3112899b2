// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package client

import (
	"sort"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/event"
)

// TypingTTL is how long a typing indicator stays alive without a fresh
// notice. The server never sends expiry events; timing out is the
// receiver's job.
type TypingTTL time.Duration

// DefaultTypingTTL keeps an indicator alive slightly longer than the
// sender's throttle interval times a couple of missed notices.
const DefaultTypingTTL = TypingTTL(6 * time.Second)

type typingEntry struct {
	user  event.UserRef
	timer *time.Timer
}

// TypingState tracks who is typing in each conversation, expiring entries
// locally after the TTL.
type TypingState struct {
	ttl time.Duration

	mu     sync.Mutex
	active map[int64]map[int64]*typingEntry
}

// NewTypingState creates an empty typing state with the given TTL.
func NewTypingState(ttl TypingTTL) *TypingState {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingState{
		ttl:    time.Duration(ttl),
		active: make(map[int64]map[int64]*typingEntry),
	}
}

// Apply records a typing notice, restarting the user's expiry clock. A
// repeated notice extends the indicator rather than duplicating it.
func (t *TypingState) Apply(p event.TypingPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv, ok := t.active[p.ConversationID]
	if !ok {
		conv = make(map[int64]*typingEntry)
		t.active[p.ConversationID] = conv
	}

	if entry, ok := conv[p.User.UserID]; ok {
		entry.user = p.User
		entry.timer.Reset(t.ttl)
		return
	}

	convID, userID := p.ConversationID, p.User.UserID
	conv[userID] = &typingEntry{
		user: p.User,
		timer: time.AfterFunc(t.ttl, func() {
			t.expire(convID, userID)
		}),
	}
}

// Active returns who is currently typing in a conversation, ordered by user
// ID for stable rendering.
func (t *TypingState) Active(conversationID int64) []event.UserRef {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv := t.active[conversationID]
	users := make([]event.UserRef, 0, len(conv))
	for _, entry := range conv {
		users = append(users, entry.user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// Clear drops all indicators, for conversation switches or disconnects.
func (t *TypingState) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conv := range t.active {
		for _, entry := range conv {
			entry.timer.Stop()
		}
	}
	t.active = make(map[int64]map[int64]*typingEntry)
}

func (t *TypingState) expire(conversationID, userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv, ok := t.active[conversationID]
	if !ok {
		return
	}
	delete(conv, userID)
	if len(conv) == 0 {
		delete(t.active, conversationID)
	}
}
