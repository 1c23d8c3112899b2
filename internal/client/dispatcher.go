// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package client

import (
	"fmt"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
)

// Dispatcher routes decoded events into the client views. Frames of unknown
// kind fail decoding and are dropped by the manager without touching
// connection state, so clients survive servers that speak newer kinds.
type Dispatcher struct {
	reactions *ReactionView
	presence  *PresenceView
	typing    *TypingState
	messages  *MessageView
	roster    *Roster

	selfID int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSelf sets the local user, whose own typing echoes are ignored.
func WithSelf(userID int64) DispatcherOption {
	return func(d *Dispatcher) { d.selfID = userID }
}

// WithTypingTTL overrides the typing indicator lifetime.
func WithTypingTTL(ttl TypingTTL) DispatcherOption {
	return func(d *Dispatcher) { d.typing = NewTypingState(ttl) }
}

// NewDispatcher creates a dispatcher with fresh views.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reactions: NewReactionView(),
		presence:  NewPresenceView(),
		typing:    NewTypingState(DefaultTypingTTL),
		messages:  NewMessageView(),
		roster:    NewRoster(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reactions returns the reaction view.
func (d *Dispatcher) Reactions() *ReactionView { return d.reactions }

// Presence returns the presence view.
func (d *Dispatcher) Presence() *PresenceView { return d.presence }

// Typing returns the typing state.
func (d *Dispatcher) Typing() *TypingState { return d.typing }

// Messages returns the message view.
func (d *Dispatcher) Messages() *MessageView { return d.messages }

// Roster returns the user and channel roster.
func (d *Dispatcher) Roster() *Roster { return d.roster }

// Dispatch decodes one wire frame and applies it. Application is idempotent
// for snapshot-carrying kinds, so replayed or duplicated frames are safe.
func (d *Dispatcher) Dispatch(raw []byte) error {
	e, err := event.DecodeFrame(raw)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	switch e.Kind {
	case event.KindMessage:
		var p event.MessagePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.messages.ApplyMessage(p)

	case event.KindMessageDeleted:
		var p event.MessageDeletedPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.messages.ApplyDeleted(p)
		d.reactions.Remove(p.MessageID)

	case event.KindReactionUpdate:
		var p event.ReactionSnapshot
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.reactions.Apply(p)

	case event.KindPresence:
		var p event.PresencePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.presence.Apply(p)

	case event.KindTyping:
		var p event.TypingPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if p.User.UserID != d.selfID || d.selfID == 0 {
			d.typing.Apply(p)
		}

	case event.KindChannel:
		var p event.ChannelPayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.roster.ApplyChannel(p)

	case event.KindProfileUpdate:
		var p event.ProfileUpdatePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.roster.ApplyProfile(p)

	case event.KindConversationUpdate:
		var p event.ConversationUpdatePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		d.roster.ApplyConversation(p)

	default:
		logging.Debug().Str("kind", string(e.Kind)).Msg("event kind has no view, ignoring")
	}
	return nil
}
