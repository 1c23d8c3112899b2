// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package event

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Frame is the wire envelope shared by both transports: a named type plus a
// JSON body. Server-to-client frames carry event kinds; client-to-server
// frames carry the request types below.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client-to-server request frame types.
const (
	FrameTypePing           = "ping"
	FrameTypePong           = "pong"
	FrameTypeReactionToggle = "reaction_update"
	FrameTypeTyping         = "typing"
)

// ReactionToggleRequest is a client-to-server request to toggle one emoji on
// one message. The resulting state change is observed via the subsequent
// reaction_update push, not a direct reply. PeerID is set for direct
// conversations so the server can address both participants.
type ReactionToggleRequest struct {
	MessageID      int64  `json:"messageId"`
	Emoji          string `json:"emoji"`
	UserID         int64  `json:"userId"`
	ConversationID int64  `json:"conversationId"`
	PeerID         int64  `json:"peerId,omitempty"`
}

// TypingRequest is a client-to-server notice that the user is typing in a
// conversation. PeerID is set for direct conversations.
type TypingRequest struct {
	ConversationID int64 `json:"conversationId"`
	PeerID         int64 `json:"peerId,omitempty"`
}

// EncodeFrame wraps an event in a wire frame and marshals it. The event
// payload bytes are embedded as-is; they are never re-marshaled.
func EncodeFrame(e *Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", e.Kind, err)
	}
	return json.Marshal(Frame{Type: string(e.Kind), Data: body})
}

// DecodeFrame parses a wire frame back into an event. Frames whose type is
// not a known event kind return an error; callers treat that as a malformed
// payload and drop the single frame without touching connection state.
func DecodeFrame(raw []byte) (*Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	kind := Kind(f.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("decode frame: unknown event kind %q", f.Type)
	}

	var e Event
	if err := json.Unmarshal(f.Data, &e); err != nil {
		return nil, fmt.Errorf("decode %s frame body: %w", kind, err)
	}
	if e.Kind == "" {
		e.Kind = kind
	}
	if e.Kind != kind {
		return nil, fmt.Errorf("decode frame: envelope type %q does not match body kind %q", kind, e.Kind)
	}
	return &e, nil
}
