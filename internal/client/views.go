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

// ReactionView holds the client's reaction state per message. Every update
// replaces the whole per-message snapshot, so applying the same event twice
// or out of order with a newer one converges to the last applied snapshot.
type ReactionView struct {
	mu        sync.RWMutex
	byMessage map[int64]event.ReactionSnapshot
}

// NewReactionView creates an empty reaction view.
func NewReactionView() *ReactionView {
	return &ReactionView{byMessage: make(map[int64]event.ReactionSnapshot)}
}

// Apply replaces the message's reaction state. An empty snapshot removes the
// entry entirely.
func (v *ReactionView) Apply(snap event.ReactionSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(snap.Reactions) == 0 {
		delete(v.byMessage, snap.MessageID)
		return
	}
	v.byMessage[snap.MessageID] = snap
}

// Remove drops a message's reaction state, for deleted messages.
func (v *ReactionView) Remove(messageID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.byMessage, messageID)
}

// Get returns the message's current reactions. The second return is false
// when the message has none.
func (v *ReactionView) Get(messageID int64) (event.ReactionSnapshot, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap, ok := v.byMessage[messageID]
	return snap, ok
}

// PresenceView holds last-received presence per user.
type PresenceView struct {
	mu     sync.RWMutex
	byUser map[int64]event.PresencePayload
}

// NewPresenceView creates an empty presence view.
func NewPresenceView() *PresenceView {
	return &PresenceView{byUser: make(map[int64]event.PresencePayload)}
}

// Apply records a presence transition.
func (v *PresenceView) Apply(p event.PresencePayload) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byUser[p.UserID] = p
}

// Status returns a user's presence. Users never heard from are offline.
func (v *PresenceView) Status(userID int64) event.PresenceStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if p, ok := v.byUser[userID]; ok {
		return p.Status
	}
	return event.PresenceOffline
}

// LastSeen returns the last-seen time carried by the user's most recent
// offline transition. Zero while online or never seen.
func (v *PresenceView) LastSeen(userID int64) time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.byUser[userID].LastSeen
}

// MessageView accumulates pushed messages per conversation, in arrival
// order. Duplicate pushes of one message update it in place.
type MessageView struct {
	mu             sync.RWMutex
	byConversation map[int64][]event.MessagePayload
}

// NewMessageView creates an empty message view.
func NewMessageView() *MessageView {
	return &MessageView{byConversation: make(map[int64][]event.MessagePayload)}
}

// ApplyMessage appends or updates a message.
func (v *MessageView) ApplyMessage(p event.MessagePayload) {
	v.mu.Lock()
	defer v.mu.Unlock()
	msgs := v.byConversation[p.ConversationID]
	for i := range msgs {
		if msgs[i].MessageID == p.MessageID {
			msgs[i] = p
			return
		}
	}
	v.byConversation[p.ConversationID] = append(msgs, p)
}

// ApplyDeleted removes a message. Unknown messages are a no-op.
func (v *MessageView) ApplyDeleted(p event.MessageDeletedPayload) {
	v.mu.Lock()
	defer v.mu.Unlock()
	msgs := v.byConversation[p.ConversationID]
	for i := range msgs {
		if msgs[i].MessageID == p.MessageID {
			v.byConversation[p.ConversationID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

// Conversation returns the conversation's messages in arrival order.
func (v *MessageView) Conversation(conversationID int64) []event.MessagePayload {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]event.MessagePayload(nil), v.byConversation[conversationID]...)
}

// Roster tracks user profiles and channel metadata from push events.
type Roster struct {
	mu       sync.RWMutex
	users    map[int64]event.UserRef
	channels map[int64]event.ChannelPayload
	members  map[int64][]int64
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		users:    make(map[int64]event.UserRef),
		channels: make(map[int64]event.ChannelPayload),
		members:  make(map[int64][]int64),
	}
}

// ApplyProfile records a profile update.
func (r *Roster) ApplyProfile(p event.ProfileUpdatePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[p.User.UserID] = p.User
}

// ApplyChannel records channel metadata.
func (r *Roster) ApplyChannel(p event.ChannelPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[p.ChannelID] = p
}

// ApplyConversation records a membership change.
func (r *Roster) ApplyConversation(p event.ConversationUpdatePayload) {
	if p.MemberIDs == nil {
		return
	}
	members := append([]int64(nil), p.MemberIDs...)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[p.ConversationID] = members
}

// User returns the known profile for a user, degraded to an ID-only
// reference when no profile event has arrived.
func (r *Roster) User(userID int64) event.UserRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[userID]; ok {
		return u
	}
	return event.UserRef{UserID: userID}
}

// Channel returns known channel metadata.
func (r *Roster) Channel(channelID int64) (event.ChannelPayload, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[channelID]
	return c, ok
}

// Members returns the last pushed member list of a conversation.
func (r *Roster) Members(conversationID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.members[conversationID]...)
}
