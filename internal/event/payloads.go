// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package event

import "time"

// UserRef identifies a user inside event payloads.
type UserRef struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// MessagePayload is the body of a "message" event.
type MessagePayload struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	Author         UserRef   `json:"author"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageDeletedPayload is the body of a "message_deleted" event.
type MessageDeletedPayload struct {
	MessageID      int64 `json:"message_id"`
	ConversationID int64 `json:"conversation_id"`
}

// ReactionGroup is one emoji's current membership on a message.
type ReactionGroup struct {
	Emoji string    `json:"emoji"`
	Users []UserRef `json:"users"`
}

// ReactionSnapshot is the body of a "reaction_update" event. It carries the
// full current reaction list for one message, never a delta, so applying it
// is idempotent and order-insensitive.
type ReactionSnapshot struct {
	MessageID int64           `json:"message_id"`
	Reactions []ReactionGroup `json:"reactions"`
}

// PresenceStatus enumerates user presence states.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// PresencePayload is the body of a "presence" event.
type PresencePayload struct {
	UserID   int64          `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// TypingPayload is the body of a "typing" event. The server publishes no
// matching expiry event; receivers time the indicator out locally.
type TypingPayload struct {
	ConversationID int64   `json:"conversation_id"`
	User           UserRef `json:"user"`
}

// ChannelPayload is the body of a "channel" event (create/rename/topic).
type ChannelPayload struct {
	ChannelID int64  `json:"channel_id"`
	Name      string `json:"name"`
	Topic     string `json:"topic,omitempty"`
}

// ProfileUpdatePayload is the body of a "profile_update" event.
type ProfileUpdatePayload struct {
	User UserRef `json:"user"`
}

// ConversationUpdatePayload is the body of a "conversation_update" event
// (membership or metadata changes on a channel or DM).
type ConversationUpdatePayload struct {
	ConversationID int64   `json:"conversation_id"`
	MemberIDs      []int64 `json:"member_ids,omitempty"`
}
