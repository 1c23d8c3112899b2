// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package event defines the canonical push event model shared by the server
// hub, the transports, and the client dispatcher.
//
// An Event is immutable once created: the payload is marshaled exactly once
// and the same bytes are delivered to every subscriber in scope. Ordering is
// guaranteed per connection only; there is no global sequence number.
package event

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind identifies the type of a push event. The set is closed: the client
// dispatcher switches exhaustively over these values.
type Kind string

const (
	KindMessage            Kind = "message"
	KindReactionUpdate     Kind = "reaction_update"
	KindPresence           Kind = "presence"
	KindTyping             Kind = "typing"
	KindChannel            Kind = "channel"
	KindProfileUpdate      Kind = "profile_update"
	KindMessageDeleted     Kind = "message_deleted"
	KindConversationUpdate Kind = "conversation_update"
)

// Kinds lists every event kind, in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindMessage,
		KindReactionUpdate,
		KindPresence,
		KindTyping,
		KindChannel,
		KindProfileUpdate,
		KindMessageDeleted,
		KindConversationUpdate,
	}
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindReactionUpdate, KindPresence, KindTyping,
		KindChannel, KindProfileUpdate, KindMessageDeleted, KindConversationUpdate:
		return true
	default:
		return false
	}
}

// ScopeKind discriminates the Scope tagged union.
type ScopeKind string

const (
	ScopeChannel   ScopeKind = "channel"
	ScopeDirect    ScopeKind = "direct"
	ScopeUser      ScopeKind = "user"
	ScopeBroadcast ScopeKind = "broadcast"
)

// Scope determines which subscribers receive an event: one channel's current
// members, the two participants of a direct conversation, a single user's
// connections, or every live connection.
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	ChannelID int64     `json:"channel_id,omitempty"`
	UserA     int64     `json:"user_a,omitempty"`
	UserB     int64     `json:"user_b,omitempty"`
	UserID    int64     `json:"user_id,omitempty"`
}

// ChannelScope targets the current members of a channel.
func ChannelScope(channelID int64) Scope {
	return Scope{Kind: ScopeChannel, ChannelID: channelID}
}

// DirectScope targets the two participants of a direct conversation.
// Participant order is normalized so DirectScope(a, b) == DirectScope(b, a).
func DirectScope(a, b int64) Scope {
	if b < a {
		a, b = b, a
	}
	return Scope{Kind: ScopeDirect, UserA: a, UserB: b}
}

// UserScope targets every live connection of a single user.
func UserScope(userID int64) Scope {
	return Scope{Kind: ScopeUser, UserID: userID}
}

// BroadcastScope targets every live connection.
func BroadcastScope() Scope {
	return Scope{Kind: ScopeBroadcast}
}

// String renders the scope for logs and metrics labels.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeChannel:
		return fmt.Sprintf("channel:%d", s.ChannelID)
	case ScopeDirect:
		return fmt.Sprintf("direct:%d-%d", s.UserA, s.UserB)
	case ScopeUser:
		return fmt.Sprintf("user:%d", s.UserID)
	case ScopeBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Event is one push event. Payload holds the kind-specific body, marshaled
// exactly once at creation.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Scope     Scope           `json:"scope"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// New creates an event, marshaling the payload once.
func New(kind Kind, scope Scope, payload any) (*Event, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Scope:     scope,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
